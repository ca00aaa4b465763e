package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/store"
	"github.com/leadpilot/api/internal/stream"
)

// Stub collaborators with overridable behavior. A nil function field means
// "succeed with a plausible default".

type stubAddresses struct {
	search func(ctx context.Context, street, city string, limit int) ([]client.Address, error)
}

func (s *stubAddresses) SearchStreet(ctx context.Context, street, city string, limit int) ([]client.Address, error) {
	if s.search != nil {
		return s.search(ctx, street, city, limit)
	}
	return []client.Address{
		{Address: street + " 1", PostalCode: "8000", City: city},
		{Address: street + " 2", PostalCode: "8000", City: city},
	}, nil
}

type stubRegistry struct {
	lookup func(ctx context.Context, address, postalCode string) (*client.OwnerInfo, error)
}

func (s *stubRegistry) LookupOwner(ctx context.Context, address, postalCode string) (*client.OwnerInfo, error) {
	if s.lookup != nil {
		return s.lookup(ctx, address, postalCode)
	}
	return &client.OwnerInfo{Company: "Ejendomme ApS", Cvr: "12345678", Email: "ejer@example.dk"}, nil
}

type stubAI struct {
	score    func(ctx context.Context, address, city string) (*client.ScoreResult, error)
	research func(ctx context.Context, address, ownerCompany string) (*client.ResearchOutcome, error)
	draft    func(ctx context.Context, address, contactPerson, summary string) (*client.DraftResult, error)
}

func (s *stubAI) ScoreCandidate(ctx context.Context, address, city string) (*client.ScoreResult, error) {
	if s.score != nil {
		return s.score(ctx, address, city)
	}
	return &client.ScoreResult{Score: 8.0, Reason: "busy road"}, nil
}

func (s *stubAI) ResearchLead(ctx context.Context, address, ownerCompany string) (*client.ResearchOutcome, error) {
	if s.research != nil {
		return s.research(ctx, address, ownerCompany)
	}
	return &client.ResearchOutcome{Summary: "facade facing the street"}, nil
}

func (s *stubAI) DraftEmail(ctx context.Context, address, contactPerson, summary string) (*client.DraftResult, error) {
	if s.draft != nil {
		return s.draft(ctx, address, contactPerson, summary)
	}
	return &client.DraftResult{Subject: "Reklameplads på " + address, Body: "Hej"}, nil
}

// testEnv wires workers against in-memory stores. Task dispatch is bypassed:
// tests call ProcessTask directly with a hand-built task.
type testEnv struct {
	runs  *runner.Service
	jobs  runner.JobStore
	leads *store.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	jobs := runner.NewMemoryJobStore()
	return &testEnv{
		runs:  runner.NewService(jobs, nil, stream.NewHub()),
		jobs:  jobs,
		leads: store.NewMemoryStore(),
	}
}

// startRun persists a running job record and returns a task carrying its ID,
// mirroring what Service.Start produces.
func (e *testEnv) startRun(t *testing.T, taskType string, params any) (string, *asynq.Task) {
	t.Helper()
	jobID := "job-" + taskType
	run := &model.JobRun{
		ID:        jobID,
		Status:    model.JobStatusRunning,
		StartedAt: time.Now(),
	}
	if err := e.jobs.Save(context.Background(), run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	envelope, err := json.Marshal(runner.TaskPayload{JobID: jobID, Payload: payload})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return jobID, asynq.NewTask(taskType, envelope)
}

func (e *testEnv) events(t *testing.T, jobID string) []model.ProgressEvent {
	t.Helper()
	events, err := e.runs.Events(context.Background(), jobID)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	return events
}

func (e *testEnv) lastEvent(t *testing.T, jobID string) model.ProgressEvent {
	events := e.events(t, jobID)
	return events[len(events)-1]
}

func (e *testEnv) status(t *testing.T, jobID string) model.JobStatus {
	t.Helper()
	run, err := e.runs.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	return run.Status
}

// assertOrderedStream checks seq strictness and that exactly the last event
// is terminal.
func assertOrderedStream(t *testing.T, events []model.ProgressEvent) {
	t.Helper()
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		terminal := model.TerminalPhase(ev.Phase)
		if terminal != (i == len(events)-1) {
			t.Fatalf("terminal phase %q at position %d of %d", ev.Phase, i, len(events))
		}
	}
}
