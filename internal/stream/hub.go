// Package stream fans live ProgressEvents out to subscribers and defines the
// server-push wire framing for them.
package stream

import (
	"sync"

	"github.com/leadpilot/api/internal/model"
)

const subscriberBuffer = 64

// Hub delivers a job's progress events to any number of subscribers.
// Publishing never blocks: a subscriber that falls behind has its channel
// closed and is expected to resubscribe and replay the persisted event list,
// deduplicating by event seq.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ProgressEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan model.ProgressEvent]struct{})}
}

// Subscribe registers for a job's live events. The returned cancel func is
// idempotent and must be called when the consumer is done.
func (h *Hub) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan model.ProgressEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			h.drop(jobID, ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the job, in call order.
func (h *Hub) Publish(jobID string, ev model.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[jobID] {
		select {
		case ch <- ev:
		default:
			// Slow consumer: cut it loose, it will resubscribe and replay.
			h.drop(jobID, ch)
		}
	}
}

// drop removes and closes a subscriber channel. Caller holds the lock.
func (h *Hub) drop(jobID string, ch chan model.ProgressEvent) {
	subs, ok := h.subs[jobID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.subs, jobID)
	}
}
