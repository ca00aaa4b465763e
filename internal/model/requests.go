package model

import "time"

// LeadCreateRequest creates a manually entered staged lead.
type LeadCreateRequest struct {
	Address       string `json:"address" validate:"required"`
	PostalCode    string `json:"postalCode,omitempty"`
	City          string `json:"city,omitempty"`
	OwnerCompany  string `json:"ownerCompany,omitempty"`
	ContactPerson string `json:"contactPerson,omitempty"`
	ContactEmail  string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	ContactPhone  string `json:"contactPhone,omitempty"`
}

// LeadUpdateRequest patches editable lead fields. Nil means "leave as is".
// Lifecycle fields are not patchable here; stage changes go through the
// transition endpoint.
type LeadUpdateRequest struct {
	Address           *string `json:"address,omitempty"`
	PostalCode        *string `json:"postalCode,omitempty"`
	City              *string `json:"city,omitempty"`
	OwnerCompany      *string `json:"ownerCompany,omitempty"`
	OwnerCvr          *string `json:"ownerCvr,omitempty"`
	ContactPerson     *string `json:"contactPerson,omitempty"`
	ContactEmail      *string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	ContactPhone      *string `json:"contactPhone,omitempty"`
	EmailDraftSubject *string `json:"emailDraftSubject,omitempty"`
	EmailDraftBody    *string `json:"emailDraftBody,omitempty"`
	EmailDraftNote    *string `json:"emailDraftNote,omitempty"`
}

// StageTransitionRequest asks for one lifecycle event to be applied.
type StageTransitionRequest struct {
	Event string `json:"event" validate:"required"`
}

// SendEnqueueRequest queues an outbound email for a lead. To/subject/body
// default to the lead's contact email and attached draft when omitted.
type SendEnqueueRequest struct {
	LeadID  string `json:"leadId" validate:"required"`
	To      string `json:"to,omitempty" validate:"omitempty,email"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// SendEnqueueResponse returns the queued item.
type SendEnqueueResponse struct {
	ItemID   string     `json:"itemId"`
	Status   SendStatus `json:"status"`
	QueuedAt time.Time  `json:"queuedAt"`
}

// JobStartResponse acknowledges a triggered job.
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	StreamURL string    `json:"streamUrl"`
	StartedAt time.Time `json:"startedAt"`
}

// JobCancelResponse acknowledges a cancellation request.
type JobCancelResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Cancelled bool      `json:"cancelled"`
}
