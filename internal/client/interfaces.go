package client

import "context"

// Address is a candidate street address returned by the address source.
type Address struct {
	Address    string
	PostalCode string
	City       string
}

// OwnerInfo is ownership/contact data for a property.
type OwnerInfo struct {
	Company       string
	Cvr           string
	ContactPerson string
	Email         string
	Phone         string
}

// ScoreResult is the AI suitability verdict for a candidate property.
type ScoreResult struct {
	Score         float64
	Reason        string
	DailyTraffic  int
	TrafficSource string
}

// ResearchOutcome is what a research pass produced for one lead.
type ResearchOutcome struct {
	Summary string
	Links   []string
	Contact *OwnerInfo
}

// DraftResult is a generated outreach email.
type DraftResult struct {
	Subject string
	Body    string
}

// AddressSource finds candidate addresses along a street (DAWA).
type AddressSource interface {
	SearchStreet(ctx context.Context, street, city string, limit int) ([]Address, error)
}

// CompanyRegistry resolves property ownership (CVR).
type CompanyRegistry interface {
	LookupOwner(ctx context.Context, address, postalCode string) (*OwnerInfo, error)
}

// AIProvider scores candidates, researches leads and drafts outreach emails.
type AIProvider interface {
	ScoreCandidate(ctx context.Context, address, city string) (*ScoreResult, error)
	ResearchLead(ctx context.Context, address, ownerCompany string) (*ResearchOutcome, error)
	DraftEmail(ctx context.Context, address, contactPerson, researchSummary string) (*DraftResult, error)
}

// MailSender delivers one email and returns the transport message ID.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// CRM promotes a lead to the external record store. Push is idempotent per
// lead ID.
type CRM interface {
	Push(ctx context.Context, leadID, address, company, contactEmail string) (string, error)
}
