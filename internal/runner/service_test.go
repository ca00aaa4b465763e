package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/stream"
)

type stubDispatcher struct {
	err      error
	enqueued []*asynq.Task
}

func (d *stubDispatcher) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.enqueued = append(d.enqueued, task)
	return &asynq.TaskInfo{ID: task.Type()}, nil
}

func TestStartSavesRunAndEnqueuesTask(t *testing.T) {
	jobs := NewMemoryJobStore()
	dispatcher := &stubDispatcher{}
	svc := NewService(jobs, dispatcher, stream.NewHub())

	run, err := svc.Start(context.Background(), model.JobKindDiscovery,
		model.DiscoveryParams{Street: "Hovedgaden", City: "Aarhus"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != model.JobStatusRunning {
		t.Fatalf("status = %s", run.Status)
	}

	if len(dispatcher.enqueued) != 1 {
		t.Fatalf("%d tasks enqueued", len(dispatcher.enqueued))
	}
	task := dispatcher.enqueued[0]
	if task.Type() != TaskTypeDiscovery {
		t.Fatalf("task type = %s", task.Type())
	}
	var envelope TaskPayload
	if err := json.Unmarshal(task.Payload(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.JobID != run.ID {
		t.Fatalf("envelope jobID = %s, run ID = %s", envelope.JobID, run.ID)
	}

	stored, err := jobs.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != model.JobStatusRunning {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

func TestStartMarksRunFailedWhenEnqueueFails(t *testing.T) {
	jobs := NewMemoryJobStore()
	dispatcher := &stubDispatcher{err: errors.New("redis gone")}
	svc := NewService(jobs, dispatcher, stream.NewHub())

	_, err := svc.Start(context.Background(), model.JobKindResearch,
		model.ResearchParams{All: true})
	if err == nil {
		t.Fatal("expected enqueue error")
	}

	// The run record saved before the enqueue must not sit as a phantom
	// running job that no worker will ever pick up.
	jobs.mu.RLock()
	var stored *model.JobRun
	for id := range jobs.runs {
		run := jobs.runs[id]
		stored = &run
	}
	jobs.mu.RUnlock()
	if stored == nil {
		t.Fatal("no run record saved")
	}
	if stored.Status != model.JobStatusFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
	if stored.Error == nil || *stored.Error == "" {
		t.Fatal("failure reason not recorded")
	}
	if stored.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
}

func TestStartRejectsUnknownKind(t *testing.T) {
	svc := NewService(NewMemoryJobStore(), &stubDispatcher{}, stream.NewHub())

	if _, err := svc.Start(context.Background(), model.JobKind("mystery"), nil); err == nil {
		t.Fatal("expected unknown-kind error")
	}
}
