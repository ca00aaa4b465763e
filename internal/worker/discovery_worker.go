// Package worker implements the asynq task handlers behind every
// long-running operation. One task = one job run = one goroutine; workers
// re-check cancellation before and after every external call and leave no
// lead in an owned state when they halt.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/store"
)

// errStopped marks a run that halted due to a cancellation request after
// completing its cleanup. ProcessTask translates it into the terminal
// stopped event.
var errStopped = errors.New("job stopped")

// DiscoveryWorker runs discovery and scaffolding scans: street candidates
// from the address source, AI-scored, staged as leads above the threshold.
type DiscoveryWorker struct {
	runs      *runner.Service
	leads     store.LeadStore
	addresses client.AddressSource
	ai        client.AIProvider

	scoreThreshold float64
	defaultLimit   int
}

func NewDiscoveryWorker(runs *runner.Service, leads store.LeadStore, addresses client.AddressSource, ai client.AIProvider, scoreThreshold float64, defaultLimit int) *DiscoveryWorker {
	return &DiscoveryWorker{
		runs:           runs,
		leads:          leads,
		addresses:      addresses,
		ai:             ai,
		scoreThreshold: scoreThreshold,
		defaultLimit:   defaultLimit,
	}
}

// ProcessTask handles both scan task types; the task type decides the
// provenance of created leads.
func (w *DiscoveryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var envelope runner.TaskPayload
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var params model.DiscoveryParams
	if err := json.Unmarshal(envelope.Payload, &params); err != nil {
		return fmt.Errorf("failed to unmarshal scan params: %w", err)
	}

	source := model.SourceDiscovery
	if t.Type() == runner.TaskTypeScaffolding {
		source = model.SourceScaffolding
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := w.runs.Register(envelope.JobID, cancel)
	defer release()

	r := w.runs.Reporter(envelope.JobID)
	log.Printf("job %s: starting %s scan of %s, %s", envelope.JobID, source, params.Street, params.City)

	result, _, err := w.run(ctx, r, source, params)
	switch {
	case errors.Is(err, errStopped):
		r.Stopped(ctx, "Scan stopped")
	case err != nil:
		r.Fail(ctx, fmt.Sprintf("Scan failed: %v", err), "")
	default:
		r.Complete(ctx, fmt.Sprintf("Scan finished: %d candidates, %d leads created", result.Found, result.Created), result, nil)
	}
	return nil
}

// run emits only non-terminal events and returns the result plus the IDs of
// created leads, so the street agent can chain it under its own reporter.
func (w *DiscoveryWorker) run(ctx context.Context, r *runner.Reporter, source model.Source, params model.DiscoveryParams) (*model.DiscoveryResult, []string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = w.defaultLimit
	}

	r.Progress(ctx, "scanning", fmt.Sprintf("Searching addresses on %s, %s", params.Street, params.City), "", 5)

	if r.CancelRequested(ctx) {
		return nil, nil, errStopped
	}

	addrs, err := w.addresses.SearchStreet(ctx, params.Street, params.City, limit)
	if err != nil {
		if r.CancelRequested(ctx) {
			return nil, nil, errStopped
		}
		return nil, nil, fmt.Errorf("address lookup failed: %w", err)
	}
	if len(addrs) == 0 {
		return &model.DiscoveryResult{}, nil, nil
	}

	r.Progress(ctx, "scanning", fmt.Sprintf("Found %d addresses, scoring", len(addrs)), "", 10)

	result := &model.DiscoveryResult{Found: len(addrs)}
	var leadIDs []string

	for i, addr := range addrs {
		if r.CancelRequested(ctx) {
			return nil, nil, errStopped
		}

		pct := 10 + (i+1)*85/len(addrs)
		score, err := w.ai.ScoreCandidate(ctx, addr.Address, addr.City)
		if err != nil {
			if r.CancelRequested(ctx) {
				return nil, nil, errStopped
			}
			// Transient scoring failure skips the candidate, never the scan.
			r.Progress(ctx, "score_fail", fmt.Sprintf("Could not score %s", addr.Address), err.Error(), pct)
			continue
		}

		cand := model.Candidate{
			Address:      addr.Address,
			PostalCode:   addr.PostalCode,
			City:         addr.City,
			OutdoorScore: score.Score,
			ScoreReason:  score.Reason,
		}
		result.Leads = append(result.Leads, cand)

		if score.Score < w.scoreThreshold {
			r.Progress(ctx, "scoring", fmt.Sprintf("%s scored %.1f, below threshold", addr.Address, score.Score), "", pct)
			continue
		}

		now := time.Now()
		lead := &model.LeadRecord{
			ID:            uuid.New().String(),
			Address:       addr.Address,
			PostalCode:    addr.PostalCode,
			City:          addr.City,
			OutdoorScore:  score.Score,
			ScoreReason:   score.Reason,
			DailyTraffic:  score.DailyTraffic,
			TrafficSource: score.TrafficSource,
			Source:        source,
			Stage:         model.StageNew,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := w.leads.Upsert(ctx, lead); err != nil {
			return nil, nil, fmt.Errorf("failed to store lead for %s: %w", addr.Address, err)
		}
		result.Created++
		leadIDs = append(leadIDs, lead.ID)

		r.Candidates(ctx, "scoring",
			fmt.Sprintf("%s scored %.1f, staged as lead", addr.Address, score.Score),
			pct, []model.Candidate{cand})
	}

	if r.CancelRequested(ctx) {
		return nil, nil, errStopped
	}
	return result, leadIDs, nil
}
