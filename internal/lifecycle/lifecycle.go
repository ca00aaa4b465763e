// Package lifecycle is the single authority on lead state transitions.
// Both transition functions are pure; persisting the result is the caller's
// job. Every (state, event) pair outside the tables is rejected with a typed
// error so callers can tell an illegal operation from a no-op.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/leadpilot/api/internal/model"
)

// Event is a lifecycle event applied to a lead.
type Event string

const (
	// Staging side
	EventStartResearch  Event = "start_research"
	EventResearchOK     Event = "research_ok"
	EventResearchFail   Event = "research_fail"
	EventGenerateDraft  Event = "generate_draft"
	EventApprove        Event = "approve"
	EventApproveAndPush Event = "approve_and_push"
	EventReject         Event = "reject"

	// Promoted side
	EventResearchNoContact Event = "research_no_contact"
	EventContactFound      Event = "contact_found"
	EventSendFirstMail     Event = "send_first_mail"
	EventSendFollowUp      Event = "send_follow_up"
	EventReplyPositive     Event = "reply_positive"
	EventReplyRejection    Event = "reply_rejection"
	EventCloseWon          Event = "close_won"
	EventFail              Event = "fail"
)

var (
	// ErrInvalidTransition is the root of every transition rejection.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyResearching rejects start_research on a lead that is
	// already owned by an in-flight research run.
	ErrAlreadyResearching = fmt.Errorf("%w: lead already owned by a running research job", ErrInvalidTransition)

	// ErrTerminalStage rejects any event on pushed/rejected leads.
	ErrTerminalStage = fmt.Errorf("%w: stage is terminal", ErrInvalidTransition)
)

type stageKey struct {
	from  model.Stage
	event Event
}

// Staging-side table. generate_draft keeps the stage; the draft fields
// themselves live on the record.
var stageTable = map[stageKey]model.Stage{
	{model.StageNew, EventStartResearch}:        model.StageResearching,
	{model.StageResearching, EventResearchOK}:   model.StageResearched,
	{model.StageResearching, EventResearchFail}: model.StageNew,
	{model.StageResearched, EventGenerateDraft}: model.StageResearched,
	{model.StageResearched, EventApprove}:       model.StageApproved,
	{model.StageResearched, EventApproveAndPush}: model.StagePushed,
	{model.StageApproved, EventApproveAndPush}:   model.StagePushed,
	{model.StageNew, EventReject}:         model.StageRejected,
	{model.StageResearching, EventReject}: model.StageRejected,
	{model.StageResearched, EventReject}:  model.StageRejected,
	{model.StageApproved, EventReject}:    model.StageRejected,
}

type statusKey struct {
	from  model.OutreachStatus
	event Event
}

var statusTable = map[statusKey]model.OutreachStatus{
	{model.OutreachNew, EventStartResearch}:             model.OutreachResearching,
	{model.OutreachResearching, EventResearchOK}:        model.OutreachReady,
	{model.OutreachResearching, EventResearchNoContact}: model.OutreachContactPending,
	{model.OutreachResearching, EventResearchFail}:      model.OutreachNew,
	{model.OutreachContactPending, EventContactFound}:   model.OutreachReady,
	{model.OutreachReady, EventSendFirstMail}:           model.OutreachFirstMailSent,
	{model.OutreachFirstMailSent, EventSendFollowUp}:    model.OutreachFollowUpSent,
	{model.OutreachFirstMailSent, EventReplyPositive}:   model.OutreachReplied,
	{model.OutreachFollowUpSent, EventReplyPositive}:    model.OutreachReplied,
	{model.OutreachFirstMailSent, EventReplyRejection}:  model.OutreachLost,
	{model.OutreachFollowUpSent, EventReplyRejection}:   model.OutreachLost,
	{model.OutreachReplied, EventCloseWon}:              model.OutreachWon,
	{model.OutreachReplied, EventReplyRejection}:        model.OutreachLost,
}

// NextStage applies a staging-side event. The input stage is never mutated;
// on rejection the returned stage equals the input.
func NextStage(from model.Stage, e Event) (model.Stage, error) {
	if TerminalStage(from) {
		return from, fmt.Errorf("cannot apply %q to %q: %w", e, from, ErrTerminalStage)
	}
	if from == model.StageResearching && e == EventStartResearch {
		return from, fmt.Errorf("cannot apply %q to %q: %w", e, from, ErrAlreadyResearching)
	}
	next, ok := stageTable[stageKey{from, e}]
	if !ok {
		return from, fmt.Errorf("%w: cannot apply %q to stage %q", ErrInvalidTransition, e, from)
	}
	return next, nil
}

// NextStatus applies a promoted-side event. Any non-terminal status accepts
// EventFail and parks the record in FEJL.
func NextStatus(from model.OutreachStatus, e Event) (model.OutreachStatus, error) {
	if TerminalStatus(from) {
		return from, fmt.Errorf("cannot apply %q to %q: %w", e, from, ErrTerminalStage)
	}
	if from == model.OutreachResearching && e == EventStartResearch {
		return from, fmt.Errorf("cannot apply %q to %q: %w", e, from, ErrAlreadyResearching)
	}
	if e == EventFail {
		return model.OutreachError, nil
	}
	next, ok := statusTable[statusKey{from, e}]
	if !ok {
		return from, fmt.Errorf("%w: cannot apply %q to status %q", ErrInvalidTransition, e, from)
	}
	return next, nil
}

// TerminalStage reports whether a staging stage admits no further events.
func TerminalStage(s model.Stage) bool {
	return s == model.StagePushed || s == model.StageRejected
}

// TerminalStatus reports whether an outreach status admits no further events.
func TerminalStatus(s model.OutreachStatus) bool {
	return s == model.OutreachWon || s == model.OutreachLost || s == model.OutreachError
}

// Selectable reports whether a lead may be picked up by a bulk action.
// Terminal stages are done, and a researching lead is owned by an in-flight
// job and must not be touched concurrently.
func Selectable(s model.Stage) bool {
	return !TerminalStage(s) && s != model.StageResearching
}

// ParseEvent maps the wire representation of an event. Unknown events are a
// validation error, not an invalid transition.
func ParseEvent(raw string) (Event, error) {
	switch e := Event(raw); e {
	case EventStartResearch, EventResearchOK, EventResearchFail,
		EventGenerateDraft, EventApprove, EventApproveAndPush, EventReject,
		EventResearchNoContact, EventContactFound, EventSendFirstMail,
		EventSendFollowUp, EventReplyPositive, EventReplyRejection,
		EventCloseWon, EventFail:
		return e, nil
	}
	return "", fmt.Errorf("unknown lifecycle event %q", raw)
}
