// Package sendqueue delivers queued outreach emails through the mail
// transport at a bounded rate: never more than the configured cap within any
// rolling clock-hour, never more than one delivery in flight, and never the
// same property twice concurrently.
package sendqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/lifecycle"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/store"
)

var (
	// ErrDuplicateSend rejects an enqueue while another item for the same
	// property is still queued or sending.
	ErrDuplicateSend = errors.New("a send for this property is already pending")

	// ErrNotFound is returned when no queue item has the requested ID.
	ErrNotFound = errors.New("queue item not found")
)

// Queue is the in-process send queue. A single worker goroutine drains it,
// which keeps delivery strictly sequential and makes the trailing-hour
// accounting exact. Failed items are terminal until explicitly re-enqueued.
type Queue struct {
	mu    sync.Mutex
	items map[string]*model.SendQueueItem
	order []string

	sender       client.MailSender
	leads        store.LeadStore
	hourlyCap    int
	pollInterval time.Duration
	wake         chan struct{}
	now          func() time.Time
}

func New(sender client.MailSender, leads store.LeadStore, hourlyCap int, pollInterval time.Duration) *Queue {
	if hourlyCap <= 0 {
		hourlyCap = 20
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Queue{
		items:        make(map[string]*model.SendQueueItem),
		sender:       sender,
		leads:        leads,
		hourlyCap:    hourlyCap,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Enqueue appends a new queued item. An item for a property that is already
// queued or sending is rejected without touching the existing item.
func (q *Queue) Enqueue(ctx context.Context, item model.SendQueueItem) (*model.SendQueueItem, error) {
	if item.PropertyID == "" || item.To == "" || item.Subject == "" || item.Body == "" {
		return nil, fmt.Errorf("enqueue requires propertyId, to, subject and body")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		existing := q.items[id]
		if existing.PropertyID != item.PropertyID {
			continue
		}
		if existing.Status == model.SendStatusQueued || existing.Status == model.SendStatusSending {
			return nil, fmt.Errorf("%w: property %s", ErrDuplicateSend, item.PropertyID)
		}
	}

	item.ID = uuid.New().String()
	item.Status = model.SendStatusQueued
	item.QueuedAt = q.now()
	item.SentAt = nil
	item.Error = ""

	cp := item
	q.items[cp.ID] = &cp
	q.order = append(q.order, cp.ID)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	out := cp
	return &out, nil
}

// Start runs the worker loop until the context ends.
func (q *Queue) Start(ctx context.Context) {
	log.Printf("send queue worker started (cap %d/hour)", q.hourlyCap)
	for {
		wait := q.ProcessPending(ctx)
		if wait <= 0 || wait > q.pollInterval {
			wait = q.pollInterval
		}
		select {
		case <-ctx.Done():
			log.Printf("send queue worker stopped")
			return
		case <-q.wake:
		case <-time.After(wait):
		}
	}
}

// ProcessPending delivers queued items in enqueue order until the queue is
// empty or the hourly cap is reached. It returns how long to wait before the
// next item could become eligible (zero when there is nothing to wait for).
// Only the worker goroutine may call it.
func (q *Queue) ProcessPending(ctx context.Context) time.Duration {
	for {
		if ctx.Err() != nil {
			return 0
		}
		item, wait := q.claimNext()
		if item == nil {
			return wait
		}
		q.deliver(ctx, item)
	}
}

// claimNext picks the oldest queued item and moves it to sending, unless the
// trailing-hour window is exhausted — in that case the item stays queued and
// the caller is told when budget frees up.
func (q *Queue) claimNext() (*model.SendQueueItem, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next *model.SendQueueItem
	for _, id := range q.order {
		if q.items[id].Status == model.SendStatusQueued {
			next = q.items[id]
			break
		}
	}
	if next == nil {
		return nil, 0
	}

	sent, oldest := q.sentInWindowLocked()
	if sent >= q.hourlyCap {
		// Rate limited: defer, never fail the item.
		return nil, oldest.Add(time.Hour).Sub(q.now())
	}

	next.Status = model.SendStatusSending
	return next, 0
}

// deliver runs one delivery attempt and records the terminal outcome.
func (q *Queue) deliver(ctx context.Context, item *model.SendQueueItem) {
	msgID, err := q.sender.Send(ctx, item.To, item.Subject, item.Body)

	q.mu.Lock()
	if err != nil {
		item.Status = model.SendStatusFailed
		item.Error = err.Error()
		q.mu.Unlock()
		log.Printf("send %s: delivery to %s failed: %v", item.ID, item.To, err)
		return
	}
	now := q.now()
	item.Status = model.SendStatusSent
	item.SentAt = &now
	q.mu.Unlock()

	log.Printf("send %s: delivered to %s (message %s)", item.ID, item.To, msgID)
	q.advanceLead(ctx, item.PropertyID)
}

// advanceLead moves a promoted lead's outreach status forward after a
// successful delivery. Best effort: a lifecycle mismatch is logged, not
// retried, and never fails the sent item.
func (q *Queue) advanceLead(ctx context.Context, propertyID string) {
	if q.leads == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	lead, err := q.leads.Get(ctx, propertyID)
	if err != nil {
		log.Printf("send queue: lead %s not loadable after send: %v", propertyID, err)
		return
	}
	if lead.OutreachStatus == "" {
		return
	}

	event := lifecycle.EventSendFirstMail
	if lead.OutreachStatus == model.OutreachFirstMailSent {
		event = lifecycle.EventSendFollowUp
	}
	next, err := lifecycle.NextStatus(lead.OutreachStatus, event)
	if err != nil {
		log.Printf("send queue: lead %s not advanced: %v", propertyID, err)
		return
	}
	lead.OutreachStatus = next
	lead.UpdatedAt = q.now()
	if err := q.leads.Upsert(ctx, lead); err != nil {
		log.Printf("send queue: failed to store lead %s: %v", propertyID, err)
	}
}

// sentInWindowLocked counts deliveries completed in the trailing 60 minutes
// and returns the oldest timestamp inside the window. Caller holds the lock.
func (q *Queue) sentInWindowLocked() (int, time.Time) {
	cutoff := q.now().Add(-time.Hour)
	count := 0
	var oldest time.Time
	for _, item := range q.items {
		if item.Status != model.SendStatusSent || item.SentAt == nil {
			continue
		}
		if item.SentAt.After(cutoff) {
			count++
			if oldest.IsZero() || item.SentAt.Before(oldest) {
				oldest = *item.SentAt
			}
		}
	}
	return count, oldest
}

// Stats derives a snapshot; nothing here is stored, so it cannot drift.
func (q *Queue) Stats() model.SendStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := model.SendStats{HourlyCap: q.hourlyCap}
	for _, item := range q.items {
		switch item.Status {
		case model.SendStatusQueued:
			stats.Queued++
		case model.SendStatusSending:
			stats.Sending++
		case model.SendStatusSent:
			stats.Sent++
		case model.SendStatusFailed:
			stats.Failed++
		}
	}
	stats.SentThisHour, _ = q.sentInWindowLocked()
	return stats
}

// Items returns the queue contents in enqueue order.
func (q *Queue) Items() []model.SendQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.SendQueueItem, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.items[id])
	}
	return out
}

// Get returns one item by ID.
func (q *Queue) Get(id string) (*model.SendQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}
