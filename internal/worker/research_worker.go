package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/lifecycle"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/store"
)

// ResearchWorker researches staged leads: ownership from the company
// registry, summary and contact from the AI provider, optionally a first
// email draft. Items run strictly sequentially to bound collaborator load,
// and a lead is owned (stage researching) only while its own item runs.
type ResearchWorker struct {
	runs     *runner.Service
	leads    store.LeadStore
	registry client.CompanyRegistry
	ai       client.AIProvider
}

func NewResearchWorker(runs *runner.Service, leads store.LeadStore, registry client.CompanyRegistry, ai client.AIProvider) *ResearchWorker {
	return &ResearchWorker{runs: runs, leads: leads, registry: registry, ai: ai}
}

func (w *ResearchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var envelope runner.TaskPayload
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var params model.ResearchParams
	if err := json.Unmarshal(envelope.Payload, &params); err != nil {
		return fmt.Errorf("failed to unmarshal research params: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := w.runs.Register(envelope.JobID, cancel)
	defer release()

	r := w.runs.Reporter(envelope.JobID)
	log.Printf("job %s: starting research run", envelope.JobID)

	result, err := w.run(ctx, r, params)
	switch {
	case errors.Is(err, errStopped):
		r.Stopped(ctx, "Research stopped")
	case err != nil:
		r.Fail(ctx, fmt.Sprintf("Research failed: %v", err), "")
	default:
		r.Complete(ctx,
			fmt.Sprintf("Research finished: %d ok, %d failed", result.Stats.Succeeded, result.Stats.Failed),
			result, &result.Stats)
	}
	return nil
}

func (w *ResearchWorker) run(ctx context.Context, r *runner.Reporter, params model.ResearchParams) (*model.ResearchResult, error) {
	var targets []string
	solo := false

	switch {
	case params.LeadID != "":
		targets = []string{params.LeadID}
		solo = true
	case params.All:
		pending, err := w.leads.List(ctx, store.Filter{Stage: model.StageNew})
		if err != nil {
			return nil, fmt.Errorf("failed to list pending leads: %w", err)
		}
		for _, lead := range pending {
			targets = append(targets, lead.ID)
		}
	default:
		return nil, fmt.Errorf("research params name neither a lead nor all")
	}

	if len(targets) == 0 {
		return &model.ResearchResult{}, nil
	}

	stats, err := w.runTargets(ctx, r, targets, params.WithDrafts, solo)
	if err != nil {
		return nil, err
	}
	return &model.ResearchResult{Stats: stats}, nil
}

// runTargets researches the given leads one at a time. In batch mode a
// failed item is recorded and the batch continues; in solo mode the item's
// failure fails the run. Also used by the street agent under its own
// reporter.
func (w *ResearchWorker) runTargets(ctx context.Context, r *runner.Reporter, targets []string, withDrafts, solo bool) (model.BatchStats, error) {
	stats := model.BatchStats{}

	for i, id := range targets {
		if r.CancelRequested(ctx) {
			return stats, errStopped
		}
		pct := (i + 1) * 90 / len(targets)

		lead, err := w.claim(ctx, id)
		if err != nil {
			stats.Processed++
			if errors.Is(err, lifecycle.ErrAlreadyResearching) {
				stats.Skipped++
				r.Progress(ctx, "research_skip", fmt.Sprintf("Lead %s already owned by another run", id), "", pct)
				if solo {
					return stats, err
				}
				continue
			}
			if solo {
				return stats, err
			}
			stats.Failed++
			r.Progress(ctx, "research_fail", fmt.Sprintf("Could not start research for %s", id), err.Error(), pct)
			continue
		}

		// Owned from here: every exit path below either completes the lead
		// or hands it back to stage new.
		if r.CancelRequested(ctx) {
			w.releaseOwned(ctx, lead.ID)
			return stats, errStopped
		}

		r.Progress(ctx, "researching", fmt.Sprintf("Researching %s", lead.Address), "", pct)

		stats.Processed++
		if err := w.researchOne(ctx, lead); err != nil {
			w.releaseOwned(ctx, lead.ID)
			if r.CancelRequested(ctx) {
				return stats, errStopped
			}
			stats.Failed++
			r.Progress(ctx, "research_fail", fmt.Sprintf("Research failed for %s", lead.Address), err.Error(), pct)
			if solo {
				return stats, fmt.Errorf("research failed for %s: %w", lead.Address, err)
			}
			continue
		}
		stats.Succeeded++

		if withDrafts {
			if r.CancelRequested(ctx) {
				return stats, errStopped
			}
			if err := w.draftOne(ctx, lead.ID); err != nil {
				// Draft failure is non-fatal; the lead stays researched.
				r.Progress(ctx, "draft_fail", fmt.Sprintf("Draft failed for %s", lead.Address), err.Error(), pct)
			} else {
				stats.Created++
				r.Progress(ctx, "drafting", fmt.Sprintf("Draft ready for %s", lead.Address), "", pct)
			}
		}

		r.Progress(ctx, "researched", fmt.Sprintf("Research done for %s", lead.Address), "", pct)
	}

	// A cancel landing after the final item still ends the stream stopped,
	// not complete. Completed items keep their results.
	if r.CancelRequested(ctx) {
		return stats, errStopped
	}
	return stats, nil
}

// claim moves a lead into the researching stage, making this run its owner.
func (w *ResearchWorker) claim(ctx context.Context, id string) (*model.LeadRecord, error) {
	lead, err := w.leads.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.NextStage(lead.Stage, lifecycle.EventStartResearch)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	lead.Stage = next
	lead.ResearchStartedAt = &now
	lead.UpdatedAt = now
	if err := w.leads.Upsert(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// releaseOwned returns an owned lead to stage new. Mandatory on every
// cancellation and failure path; uses a detached context so cleanup happens
// even after the run's context is gone.
func (w *ResearchWorker) releaseOwned(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	lead, err := w.leads.Get(ctx, id)
	if err != nil {
		log.Printf("lead %s: failed to load for release: %v", id, err)
		return
	}
	if lead.Stage != model.StageResearching {
		return
	}
	next, err := lifecycle.NextStage(lead.Stage, lifecycle.EventResearchFail)
	if err != nil {
		log.Printf("lead %s: failed to release: %v", id, err)
		return
	}
	lead.Stage = next
	lead.ResearchStartedAt = nil
	lead.UpdatedAt = time.Now()
	if err := w.leads.Upsert(ctx, lead); err != nil {
		log.Printf("lead %s: failed to store release: %v", id, err)
	}
}

// researchOne fills in ownership, summary and contact, then completes the
// research transition.
func (w *ResearchWorker) researchOne(ctx context.Context, lead *model.LeadRecord) error {
	owner, err := w.registry.LookupOwner(ctx, lead.Address, lead.PostalCode)
	if err != nil {
		return fmt.Errorf("owner lookup: %w", err)
	}
	if owner != nil {
		lead.OwnerCompany = owner.Company
		lead.OwnerCvr = owner.Cvr
		if owner.ContactPerson != "" {
			lead.ContactPerson = owner.ContactPerson
		}
		if owner.Email != "" {
			lead.ContactEmail = owner.Email
		}
		if owner.Phone != "" {
			lead.ContactPhone = owner.Phone
		}
	}

	outcome, err := w.ai.ResearchLead(ctx, lead.Address, lead.OwnerCompany)
	if err != nil {
		return fmt.Errorf("research provider: %w", err)
	}
	lead.ResearchSummary = outcome.Summary
	lead.ResearchLinks = outcome.Links
	if outcome.Contact != nil {
		if lead.ContactPerson == "" {
			lead.ContactPerson = outcome.Contact.ContactPerson
		}
		if lead.ContactEmail == "" {
			lead.ContactEmail = outcome.Contact.Email
		}
		if lead.ContactPhone == "" {
			lead.ContactPhone = outcome.Contact.Phone
		}
	}

	next, err := lifecycle.NextStage(lead.Stage, lifecycle.EventResearchOK)
	if err != nil {
		return err
	}
	now := time.Now()
	lead.Stage = next
	lead.ResearchCompletedAt = &now
	lead.UpdatedAt = now
	return w.leads.Upsert(ctx, lead)
}

// draftOne attaches a generated email draft to a researched lead. Subject
// and body are written together so drafts stay atomic.
func (w *ResearchWorker) draftOne(ctx context.Context, id string) error {
	lead, err := w.leads.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := lifecycle.NextStage(lead.Stage, lifecycle.EventGenerateDraft); err != nil {
		return err
	}

	draft, err := w.ai.DraftEmail(ctx, lead.Address, lead.ContactPerson, lead.ResearchSummary)
	if err != nil {
		return fmt.Errorf("draft provider: %w", err)
	}
	lead.EmailDraftSubject = draft.Subject
	lead.EmailDraftBody = draft.Body
	lead.UpdatedAt = time.Now()
	return w.leads.Upsert(ctx, lead)
}
