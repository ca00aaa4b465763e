package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
)

// StreetAgentWorker chains discover → research → draft into one run. Each
// phase reuses the corresponding worker's run body under a phase-labelled
// reporter so the caller sees a single ordered stream; cancellation stops
// the whole chain, and records completed by earlier phases are kept when a
// later phase fails.
type StreetAgentWorker struct {
	runs      *runner.Service
	discovery *DiscoveryWorker
	research  *ResearchWorker
}

func NewStreetAgentWorker(runs *runner.Service, discovery *DiscoveryWorker, research *ResearchWorker) *StreetAgentWorker {
	return &StreetAgentWorker{runs: runs, discovery: discovery, research: research}
}

func (w *StreetAgentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var envelope runner.TaskPayload
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var params model.StreetAgentParams
	if err := json.Unmarshal(envelope.Payload, &params); err != nil {
		return fmt.Errorf("failed to unmarshal street agent params: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := w.runs.Register(envelope.JobID, cancel)
	defer release()

	r := w.runs.Reporter(envelope.JobID)
	log.Printf("job %s: street agent starting on %s, %s", envelope.JobID, params.Street, params.City)

	result, err := w.run(ctx, r, params)
	switch {
	case errors.Is(err, errStopped):
		r.Stopped(ctx, "Street agent stopped")
	case err != nil:
		r.Fail(ctx, fmt.Sprintf("Street agent failed: %v", err), "")
	default:
		r.Complete(ctx,
			fmt.Sprintf("Street agent finished: %d discovered, %d researched, %d drafted",
				result.Discovered, result.Researched, result.Drafted),
			result, nil)
	}
	return nil
}

func (w *StreetAgentWorker) run(ctx context.Context, r *runner.Reporter, params model.StreetAgentParams) (*model.StreetAgentResult, error) {
	// Phase 1: discover
	discParams := model.DiscoveryParams{Street: params.Street, City: params.City, Limit: params.Limit}
	discResult, leadIDs, err := w.discovery.run(ctx, r.WithPhase("discover"), model.SourceStreetAgent, discParams)
	if err != nil {
		return nil, err // errStopped passes through untouched
	}

	result := &model.StreetAgentResult{Discovered: discResult.Created}
	if len(leadIDs) == 0 {
		r.Progress(ctx, "discover", "No suitable properties found, nothing to research", "", 95)
		return result, nil
	}

	if r.CancelRequested(ctx) {
		return nil, errStopped
	}

	// Phase 2: research the discovered leads. Per-item failures stay inside
	// the phase; only infrastructure errors abort the chain.
	stats, err := w.research.runTargets(ctx, r.WithPhase("research"), leadIDs, false, false)
	result.Researched = stats.Succeeded
	if err != nil {
		return nil, err
	}

	if r.CancelRequested(ctx) {
		return nil, errStopped
	}

	// Phase 3: draft emails for the researched leads.
	draftReporter := r.WithPhase("draft")
	for i, id := range leadIDs {
		if r.CancelRequested(ctx) {
			return nil, errStopped
		}
		lead, err := w.research.leads.Get(ctx, id)
		if err != nil || lead.Stage != model.StageResearched {
			continue
		}
		pct := (i + 1) * 90 / len(leadIDs)
		if err := w.research.draftOne(ctx, id); err != nil {
			draftReporter.Progress(ctx, "draft_fail", fmt.Sprintf("Draft failed for %s", lead.Address), err.Error(), pct)
			continue
		}
		result.Drafted++
		draftReporter.Progress(ctx, "drafting", fmt.Sprintf("Draft ready for %s", lead.Address), "", pct)
	}

	return result, nil
}
