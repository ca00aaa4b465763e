package model

import (
	"encoding/json"
	"time"
)

// Job kinds
type JobKind string

const (
	JobKindDiscovery   JobKind = "discovery"
	JobKindScaffolding JobKind = "scaffolding"
	JobKindResearch    JobKind = "research"
	JobKindStreetAgent JobKind = "street_agent"
)

// Job status
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status change is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress event phases with protocol meaning. Workers emit additional
// free-form phases ("scanning", "scoring", ...); only these four terminate
// a stream.
const (
	PhaseComplete = "complete"
	PhaseDone     = "done"
	PhaseError    = "error"
	PhaseStopped  = "stopped"
)

// TerminalPhase reports whether a phase ends the progress stream.
func TerminalPhase(phase string) bool {
	switch phase {
	case PhaseComplete, PhaseDone, PhaseError, PhaseStopped:
		return true
	}
	return false
}

// ProgressEvent is one frame of a job's progress stream. Seq is assigned at
// emission time and is strictly increasing within a job run; consumers use it
// to deduplicate replayed frames. The optional payloads form a tagged union:
// which one is populated follows from the phase.
type ProgressEvent struct {
	Seq        int             `json:"seq"`
	Phase      string          `json:"phase"`
	Message    string          `json:"message"`
	Detail     string          `json:"detail,omitempty"`
	Progress   *int            `json:"progress,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Candidates []Candidate     `json:"candidates,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Stats      *BatchStats     `json:"stats,omitempty"`
}

// Candidate is a property found by a discovery/scaffolding scan before it
// becomes a staged lead.
type Candidate struct {
	Address      string  `json:"address"`
	PostalCode   string  `json:"postalCode,omitempty"`
	City         string  `json:"city,omitempty"`
	OutdoorScore float64 `json:"outdoorScore"`
	ScoreReason  string  `json:"scoreReason,omitempty"`
}

// BatchStats summarizes a batch operation in the terminal event.
type BatchStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Created   int `json:"created,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
}

// JobRun is one invocation of a long-running operation, persisted for the
// lifetime of the run plus a retention window. Events live in a separate
// append-only list keyed by job ID.
type JobRun struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Status      JobStatus       `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Task payloads

// DiscoveryParams parameterizes a discovery or scaffolding scan.
type DiscoveryParams struct {
	Street string `json:"street" validate:"required"`
	City   string `json:"city" validate:"required"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

// ResearchParams parameterizes a research run. Either a single lead or every
// selectable staged lead ("all" mode) is researched; items run sequentially.
type ResearchParams struct {
	LeadID     string `json:"leadId,omitempty"`
	All        bool   `json:"all,omitempty"`
	WithDrafts bool   `json:"withDrafts,omitempty"`
}

// StreetAgentParams parameterizes the fully automated discover → research →
// draft chain.
type StreetAgentParams struct {
	Street string `json:"street" validate:"required"`
	City   string `json:"city" validate:"required"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

// Terminal result payloads

type DiscoveryResult struct {
	Found   int         `json:"found"`
	Created int         `json:"created"`
	Leads   []Candidate `json:"leads,omitempty"`
}

type ResearchResult struct {
	Stats BatchStats `json:"stats"`
}

type StreetAgentResult struct {
	Discovered int `json:"discovered"`
	Researched int `json:"researched"`
	Drafted    int `json:"drafted"`
}
