// Package runner owns job-run lifecycle: starting runs, dispatching them to
// asynq workers, streaming their progress and cancelling them cooperatively.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/stream"
)

// Task types, one per job kind.
const (
	TaskTypeDiscovery   = "scan:discovery"
	TaskTypeScaffolding = "scan:scaffolding"
	TaskTypeResearch    = "research:run"
	TaskTypeStreetAgent = "agent:street"
)

// TaskPayload is the envelope every task carries.
type TaskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func taskTypeFor(kind model.JobKind) (taskType, queue string, err error) {
	switch kind {
	case model.JobKindDiscovery:
		return TaskTypeDiscovery, "scan", nil
	case model.JobKindScaffolding:
		return TaskTypeScaffolding, "scan", nil
	case model.JobKindResearch:
		return TaskTypeResearch, "research", nil
	case model.JobKindStreetAgent:
		return TaskTypeStreetAgent, "agent", nil
	}
	return "", "", fmt.Errorf("unknown job kind %q", kind)
}

// TaskDispatcher enqueues tasks for the worker server. *asynq.Client
// satisfies it.
type TaskDispatcher interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service starts, tracks and cancels job runs. Cancellation is cooperative:
// Cancel flips the persisted status and fires the in-process context cancel
// of the owning worker; the worker observes either at its next checkpoint.
type Service struct {
	jobs  JobStore
	tasks TaskDispatcher
	hub   *stream.Hub

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewService(jobs JobStore, tasks TaskDispatcher, hub *stream.Hub) *Service {
	return &Service{
		jobs:    jobs,
		tasks:   tasks,
		hub:     hub,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Hub exposes the live progress hub for stream consumers.
func (s *Service) Hub() *stream.Hub { return s.hub }

// Start creates a run record and enqueues the task. Jobs never auto-retry:
// a failed run is reported on the stream and retried only by an explicit
// re-trigger.
func (s *Service) Start(ctx context.Context, kind model.JobKind, params any) (*model.JobRun, error) {
	taskType, queue, err := taskTypeFor(kind)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	run := &model.JobRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.JobStatusRunning,
		StartedAt: time.Now(),
	}
	if err := s.jobs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	envelope, err := json.Marshal(TaskPayload{JobID: run.ID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = s.tasks.EnqueueContext(ctx, asynq.NewTask(taskType, envelope),
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(jobRetention),
	)
	if err != nil {
		// No worker will ever pick this run up; a running record would sit
		// uncancellable until retention expires.
		now := time.Now()
		msg := fmt.Sprintf("failed to enqueue task: %v", err)
		run.Status = model.JobStatusFailed
		run.Error = &msg
		run.CompletedAt = &now
		if saveErr := s.jobs.Save(context.WithoutCancel(ctx), run); saveErr != nil {
			log.Printf("job %s: failed to record enqueue failure: %v", run.ID, saveErr)
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return run, nil
}

// Get returns the run record.
func (s *Service) Get(ctx context.Context, jobID string) (*model.JobRun, error) {
	return s.jobs.Get(ctx, jobID)
}

// Events returns the persisted event list of a run, in emission order.
func (s *Service) Events(ctx context.Context, jobID string) ([]model.ProgressEvent, error) {
	return s.jobs.Events(ctx, jobID)
}

// Cancel requests cooperative cancellation. It is idempotent and a no-op on
// terminal runs; the worker emits the terminal stopped event and performs
// record cleanup on its own schedule.
func (s *Service) Cancel(ctx context.Context, jobID string) (*model.JobRun, error) {
	run, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	run.Status = model.JobStatusCancelled
	if err := s.jobs.Save(ctx, run); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cancel := s.cancels[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return run, nil
}

// Register installs the cancel func of the worker that owns a run. The
// returned release must be deferred by the worker.
func (s *Service) Register(jobID string, cancel context.CancelFunc) (release func()) {
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
	}
}

// cancelRequested reports whether a run was asked to stop, either via its
// context or via a persisted cancelled status (covers a cancel issued before
// the worker registered).
func (s *Service) cancelRequested(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	run, err := s.jobs.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return false
	}
	return run.Status == model.JobStatusCancelled
}
