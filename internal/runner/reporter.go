package runner

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/leadpilot/api/internal/model"
)

// Reporter is the emission side of one job run. Exactly one worker goroutine
// owns a run; sub-phase reporters created with WithPhase share the sequence
// counter so the aggregated stream stays strictly ordered.
//
// Terminal methods persist the run's final status before emitting, and use a
// detached context so a cancelled run can still write its stopped event.
type Reporter struct {
	svc   *Service
	jobID string
	label string
	seq   *atomic.Int64
}

// Reporter creates the reporter for a run.
func (s *Service) Reporter(jobID string) *Reporter {
	return &Reporter{svc: s, jobID: jobID, seq: &atomic.Int64{}}
}

// WithPhase returns a reporter whose non-terminal events carry a sub-job
// label in their phase ("discover/scanning"). Used by the street agent to
// tag which chained sub-job produced each event.
func (r *Reporter) WithPhase(label string) *Reporter {
	return &Reporter{svc: r.svc, jobID: r.jobID, label: label, seq: r.seq}
}

// JobID returns the run this reporter emits for.
func (r *Reporter) JobID() string { return r.jobID }

func (r *Reporter) emit(ctx context.Context, ev model.ProgressEvent) {
	ev.Seq = int(r.seq.Add(1))
	ev.Timestamp = time.Now()
	ctx = context.WithoutCancel(ctx)
	if err := r.svc.jobs.AppendEvent(ctx, r.jobID, ev); err != nil {
		log.Printf("job %s: failed to persist event: %v", r.jobID, err)
	}
	r.svc.hub.Publish(r.jobID, ev)
}

func (r *Reporter) phase(p string) string {
	if r.label == "" {
		return p
	}
	return r.label + "/" + p
}

// Progress emits a non-terminal event. A negative progress is omitted from
// the frame.
func (r *Reporter) Progress(ctx context.Context, phase, message, detail string, progress int) {
	ev := model.ProgressEvent{Phase: r.phase(phase), Message: message, Detail: detail}
	if progress >= 0 {
		p := progress
		ev.Progress = &p
	}
	r.emit(ctx, ev)
}

// Candidates emits a progress event carrying discovered candidates.
func (r *Reporter) Candidates(ctx context.Context, phase, message string, progress int, cands []model.Candidate) {
	p := progress
	r.emit(ctx, model.ProgressEvent{
		Phase:      r.phase(phase),
		Message:    message,
		Progress:   &p,
		Candidates: cands,
	})
}

// Complete finalizes a successful run: the terminal event always carries
// progress 100 and the marshalled result.
func (r *Reporter) Complete(ctx context.Context, message string, result any, stats *model.BatchStats) {
	ctx = context.WithoutCancel(ctx)

	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			log.Printf("job %s: failed to marshal result: %v", r.jobID, err)
		} else {
			raw = b
		}
	}

	r.finalize(ctx, model.JobStatusCompleted, nil, raw)

	p := 100
	r.emit(ctx, model.ProgressEvent{
		Phase:    model.PhaseComplete,
		Message:  message,
		Progress: &p,
		Result:   raw,
		Stats:    stats,
	})
}

// Fail terminates a run with a human-readable error event. Raw errors never
// reach the stream consumer; callers format the message.
func (r *Reporter) Fail(ctx context.Context, message, detail string) {
	ctx = context.WithoutCancel(ctx)
	r.finalize(ctx, model.JobStatusFailed, &message, nil)
	p := 100
	r.emit(ctx, model.ProgressEvent{
		Phase:    model.PhaseError,
		Message:  message,
		Detail:   detail,
		Progress: &p,
	})
}

// Stopped terminates a cancelled run. Cancellation is a distinct non-error
// outcome.
func (r *Reporter) Stopped(ctx context.Context, message string) {
	ctx = context.WithoutCancel(ctx)
	r.finalize(ctx, model.JobStatusCancelled, nil, nil)
	p := 100
	r.emit(ctx, model.ProgressEvent{
		Phase:    model.PhaseStopped,
		Message:  message,
		Progress: &p,
	})
}

// CancelRequested is the checkpoint test workers run before and after every
// external call and emission.
func (r *Reporter) CancelRequested(ctx context.Context) bool {
	return r.svc.cancelRequested(ctx, r.jobID)
}

func (r *Reporter) finalize(ctx context.Context, status model.JobStatus, errMsg *string, result json.RawMessage) {
	run, err := r.svc.jobs.Get(ctx, r.jobID)
	if err != nil {
		log.Printf("job %s: failed to load run for finalize: %v", r.jobID, err)
		return
	}
	// A cancelled run stays cancelled even if the worker raced to a natural
	// completion.
	if run.Status == model.JobStatusCancelled && status == model.JobStatusCompleted {
		status = model.JobStatusCancelled
	}
	run.Status = status
	run.Error = errMsg
	run.Result = result
	now := time.Now()
	run.CompletedAt = &now
	if err := r.svc.jobs.Save(ctx, run); err != nil {
		log.Printf("job %s: failed to save terminal status: %v", r.jobID, err)
	}
}
