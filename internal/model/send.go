package model

import "time"

// Send queue item status
type SendStatus string

const (
	SendStatusQueued  SendStatus = "queued"
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

// SendQueueItem is one pending or delivered outbound email. Items are created
// on enqueue, mutated only by the queue worker and terminal at sent/failed.
// A failed item is never retried automatically; callers re-enqueue explicitly.
type SendQueueItem struct {
	ID          string     `json:"id"`
	PropertyID  string     `json:"propertyId"`
	To          string     `json:"to"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ContactName string     `json:"contactName,omitempty"`
	Status      SendStatus `json:"status"`
	QueuedAt    time.Time  `json:"queuedAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SendStats is a derived snapshot of queue state.
type SendStats struct {
	Queued       int `json:"queued"`
	Sending      int `json:"sending"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	SentThisHour int `json:"sentThisHour"`
	HourlyCap    int `json:"hourlyCap"`
}
