package model

import "time"

// Lead source
type Source string

const (
	SourceDiscovery   Source = "discovery"
	SourceStreetAgent Source = "street_agent"
	SourceManual      Source = "manual"
	SourceScaffolding Source = "scaffolding"
)

var ValidSources = []Source{
	SourceDiscovery, SourceStreetAgent, SourceManual, SourceScaffolding,
}

// Staging-side lifecycle stage
type Stage string

const (
	StageNew         Stage = "new"
	StageResearching Stage = "researching"
	StageResearched  Stage = "researched"
	StageApproved    Stage = "approved"
	StagePushed      Stage = "pushed"
	StageRejected    Stage = "rejected"
)

// Promoted-side outreach status (HubSpot pipeline naming)
type OutreachStatus string

const (
	OutreachNew            OutreachStatus = "NY_KRAEVER_RESEARCH"
	OutreachResearching    OutreachStatus = "RESEARCH_IGANGSAT"
	OutreachContactPending OutreachStatus = "RESEARCH_DONE_CONTACT_PENDING"
	OutreachReady          OutreachStatus = "KLAR_TIL_UDSENDELSE"
	OutreachFirstMailSent  OutreachStatus = "FOERSTE_MAIL_SENDT"
	OutreachFollowUpSent   OutreachStatus = "OPFOELGNING_SENDT"
	OutreachReplied        OutreachStatus = "SVAR_MODTAGET"
	OutreachWon            OutreachStatus = "LUKKET_VUNDET"
	OutreachLost           OutreachStatus = "LUKKET_TABT"
	OutreachError          OutreachStatus = "FEJL"
)

// LeadRecord is a prospective or active outreach target (a property).
type LeadRecord struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`

	// Scoring
	OutdoorScore  float64 `json:"outdoorScore,omitempty"`
	ScoreReason   string  `json:"scoreReason,omitempty"`
	DailyTraffic  int     `json:"dailyTraffic,omitempty"`
	TrafficSource string  `json:"trafficSource,omitempty"`

	// Ownership / contact
	OwnerCompany  string `json:"ownerCompany,omitempty"`
	OwnerCvr      string `json:"ownerCvr,omitempty"`
	ContactPerson string `json:"contactPerson,omitempty"`
	ContactEmail  string `json:"contactEmail,omitempty"`
	ContactPhone  string `json:"contactPhone,omitempty"`

	// Research artifacts
	ResearchSummary string   `json:"researchSummary,omitempty"`
	ResearchLinks   []string `json:"researchLinks,omitempty"`

	// Outreach artifacts. Drafts are atomic: a non-empty subject implies
	// a non-empty body.
	EmailDraftSubject string `json:"emailDraftSubject,omitempty"`
	EmailDraftBody    string `json:"emailDraftBody,omitempty"`
	EmailDraftNote    string `json:"emailDraftNote,omitempty"`

	Source Source `json:"source"`
	Stage  Stage  `json:"stage"`

	// Set once the record is promoted; records with a HubSpot ID keep
	// their source and createdAt forever.
	HubspotID      string         `json:"hubspotId,omitempty"`
	OutreachStatus OutreachStatus `json:"outreachStatus,omitempty"`

	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	ResearchStartedAt   *time.Time `json:"researchStartedAt,omitempty"`
	ResearchCompletedAt *time.Time `json:"researchCompletedAt,omitempty"`
}

// HasDraft reports whether the record carries a complete email draft.
func (l *LeadRecord) HasDraft() bool {
	return l.EmailDraftSubject != "" && l.EmailDraftBody != ""
}

// ContactPending reports whether research finished without a usable contact.
func (l *LeadRecord) ContactPending() bool {
	return l.Stage == StageResearched && l.ContactEmail == ""
}
