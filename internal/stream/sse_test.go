package stream

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leadpilot/api/internal/model"
)

func intp(v int) *int { return &v }

func TestWriteEvent_Framing(t *testing.T) {
	var buf bytes.Buffer
	ev := model.ProgressEvent{
		Seq:       1,
		Phase:     "scanning",
		Message:   "Scanning Vesterbrogade",
		Progress:  intp(10),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := WriteEvent(&buf, ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "data: {") {
		t.Errorf("frame missing data: prefix: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("frame missing blank-line terminator: %q", out)
	}
}

func TestDecoder_OrderPreserved(t *testing.T) {
	var buf bytes.Buffer
	for i := 1; i <= 5; i++ {
		phase := "working"
		if i == 5 {
			phase = model.PhaseComplete
		}
		ev := model.ProgressEvent{
			Seq:       i,
			Phase:     phase,
			Message:   fmt.Sprintf("step %d", i),
			Timestamp: time.Now(),
		}
		if err := WriteEvent(&buf, ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	var got []model.ProgressEvent
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, ev)
	}

	if len(got) != 5 {
		t.Fatalf("decoded %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Seq != i+1 {
			t.Errorf("event %d has seq %d, order not preserved", i, ev.Seq)
		}
	}
	if !model.TerminalPhase(got[len(got)-1].Phase) {
		t.Errorf("last event phase %q is not terminal", got[len(got)-1].Phase)
	}
}

// A corrupt frame in the middle of the stream is skipped; the frames after it
// still decode.
func TestDecoder_SkipsMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteEvent(&buf, model.ProgressEvent{Seq: 1, Phase: "working", Message: "ok"})
	buf.WriteString("data: {not json at all\n\n")
	buf.WriteString(": comment frame\n\n")
	_ = WriteEvent(&buf, model.ProgressEvent{Seq: 2, Phase: model.PhaseComplete, Message: "done"})

	dec := NewDecoder(&buf)
	first, err := dec.Next()
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	second, err := dec.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected EOF after two valid frames, got %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("got seqs %d,%d, want 1,2", first.Seq, second.Seq)
	}
}

func TestHub_DeliversInOrder(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	for i := 1; i <= 10; i++ {
		hub.Publish("job-1", model.ProgressEvent{Seq: i, Phase: "working"})
	}

	for i := 1; i <= 10; i++ {
		select {
		case ev := <-ch:
			if ev.Seq != i {
				t.Fatalf("received seq %d, want %d", ev.Seq, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestHub_IsolatesJobs(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-a")
	defer cancel()

	hub.Publish("job-b", model.ProgressEvent{Seq: 1, Phase: "working"})

	select {
	case ev := <-ch:
		t.Fatalf("received event %+v for another job", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// A subscriber that stops draining gets closed instead of blocking the
// publisher.
func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Publish("job-1", model.ProgressEvent{Seq: i, Phase: "working"})
	}

	// Drain; the channel must be closed after the buffered events.
	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("drained %d events, want %d buffered before close", n, subscriberBuffer)
	}
}
