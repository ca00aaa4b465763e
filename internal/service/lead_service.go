// Package service holds the request-facing business logic between the HTTP
// handlers and the stores, clients and lifecycle rules.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/lifecycle"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/store"
)

var (
	// ErrDraftMissing rejects promotion of a lead without a complete draft.
	ErrDraftMissing = errors.New("lead has no email draft attached")

	// ErrContactMissing rejects promotion of a lead with no contact email.
	ErrContactMissing = errors.New("lead has no contact email")
)

// LeadService implements lead CRUD, lifecycle transitions and promotion to
// the CRM.
type LeadService struct {
	leads store.LeadStore
	crm   client.CRM
}

func NewLeadService(leads store.LeadStore, crm client.CRM) *LeadService {
	return &LeadService{leads: leads, crm: crm}
}

// Create stages a manually entered lead.
func (s *LeadService) Create(ctx context.Context, req *model.LeadCreateRequest) (*model.LeadRecord, error) {
	now := time.Now()
	lead := &model.LeadRecord{
		ID:            uuid.New().String(),
		Address:       req.Address,
		PostalCode:    req.PostalCode,
		City:          req.City,
		OwnerCompany:  req.OwnerCompany,
		ContactPerson: req.ContactPerson,
		ContactEmail:  req.ContactEmail,
		ContactPhone:  req.ContactPhone,
		Source:        model.SourceManual,
		Stage:         model.StageNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.leads.Upsert(ctx, lead); err != nil {
		return nil, fmt.Errorf("failed to store lead: %w", err)
	}
	return lead, nil
}

// Get returns one lead.
func (s *LeadService) Get(ctx context.Context, id string) (*model.LeadRecord, error) {
	return s.leads.Get(ctx, id)
}

// List returns leads matching the optional stage/source filters, oldest
// first.
func (s *LeadService) List(ctx context.Context, stage, source string) ([]*model.LeadRecord, error) {
	f := store.Filter{Stage: model.Stage(stage), Source: model.Source(source)}
	return s.leads.List(ctx, f)
}

// Update patches editable fields. Lifecycle state is untouchable here.
func (s *LeadService) Update(ctx context.Context, id string, req *model.LeadUpdateRequest) (*model.LeadRecord, error) {
	lead, err := s.leads.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&lead.Address, req.Address)
	apply(&lead.PostalCode, req.PostalCode)
	apply(&lead.City, req.City)
	apply(&lead.OwnerCompany, req.OwnerCompany)
	apply(&lead.OwnerCvr, req.OwnerCvr)
	apply(&lead.ContactPerson, req.ContactPerson)
	apply(&lead.ContactEmail, req.ContactEmail)
	apply(&lead.ContactPhone, req.ContactPhone)
	apply(&lead.EmailDraftSubject, req.EmailDraftSubject)
	apply(&lead.EmailDraftBody, req.EmailDraftBody)
	apply(&lead.EmailDraftNote, req.EmailDraftNote)

	lead.UpdatedAt = time.Now()
	if err := s.leads.Upsert(ctx, lead); err != nil {
		return nil, fmt.Errorf("failed to store lead: %w", err)
	}
	return lead, nil
}

// Delete removes a staged lead.
func (s *LeadService) Delete(ctx context.Context, id string) error {
	return s.leads.Delete(ctx, id)
}

// Transition applies one lifecycle event to a lead. Staging-side events move
// the stage; once the lead is promoted the same call moves the outreach
// status instead. Rejections come back as lifecycle errors untouched, so the
// handler can map them to response codes.
func (s *LeadService) Transition(ctx context.Context, id, rawEvent string) (*model.LeadRecord, error) {
	event, err := lifecycle.ParseEvent(rawEvent)
	if err != nil {
		return nil, err
	}

	// Promotion has preconditions (draft, contact, CRM push) that a bare
	// table lookup cannot enforce; route it through the promotion path so
	// no record reaches stage pushed without a hubspot ID.
	if event == lifecycle.EventApproveAndPush {
		return s.ApproveAndPush(ctx, id)
	}

	lead, err := s.leads.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if lead.OutreachStatus != "" {
		next, err := lifecycle.NextStatus(lead.OutreachStatus, event)
		if err != nil {
			return nil, err
		}
		lead.OutreachStatus = next
	} else {
		next, err := lifecycle.NextStage(lead.Stage, event)
		if err != nil {
			return nil, err
		}
		lead.Stage = next
		switch event {
		case lifecycle.EventStartResearch:
			lead.ResearchStartedAt = &now
		case lifecycle.EventResearchOK:
			lead.ResearchCompletedAt = &now
		case lifecycle.EventResearchFail:
			lead.ResearchStartedAt = nil
		}
	}

	lead.UpdatedAt = now
	if err := s.leads.Upsert(ctx, lead); err != nil {
		return nil, fmt.Errorf("failed to store lead: %w", err)
	}
	return lead, nil
}

// ApproveAndPush promotes a researched or approved lead: pushes it to the
// CRM, records the CRM ID and opens the outreach pipeline at ready-to-send.
// Idempotent: a lead that already carries a CRM ID is returned as is, and no
// second CRM object is ever created.
func (s *LeadService) ApproveAndPush(ctx context.Context, id string) (*model.LeadRecord, error) {
	lead, err := s.leads.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if lead.HubspotID != "" {
		return lead, nil
	}
	if !lead.HasDraft() {
		return nil, ErrDraftMissing
	}
	if lead.ContactEmail == "" {
		return nil, ErrContactMissing
	}

	next, err := lifecycle.NextStage(lead.Stage, lifecycle.EventApproveAndPush)
	if err != nil {
		return nil, err
	}

	hubspotID, err := s.crm.Push(ctx, lead.ID, lead.Address, lead.OwnerCompany, lead.ContactEmail)
	if err != nil {
		return nil, fmt.Errorf("crm push failed: %w", err)
	}

	lead.Stage = next
	lead.HubspotID = hubspotID
	lead.OutreachStatus = model.OutreachReady
	lead.UpdatedAt = time.Now()
	if err := s.leads.Upsert(ctx, lead); err != nil {
		// The CRM object exists; the next call will find the record still
		// unmarked and Push is idempotent per lead ID.
		log.Printf("lead %s: pushed to crm but not stored: %v", lead.ID, err)
		return nil, fmt.Errorf("failed to store promoted lead: %w", err)
	}
	return lead, nil
}
