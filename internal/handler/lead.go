package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/leadpilot/api/internal/lifecycle"
	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/service"
	"github.com/leadpilot/api/internal/store"
	"github.com/leadpilot/api/pkg/response"
)

type LeadHandler struct {
	service   *service.LeadService
	validator *validator.Validate
}

func NewLeadHandler(svc *service.LeadService, v *validator.Validate) *LeadHandler {
	return &LeadHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/leads
func (h *LeadHandler) List(c *fiber.Ctx) error {
	leads, err := h.service.List(c.Context(), c.Query("stage"), c.Query("source"))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, leads)
}

// Create handles POST /api/leads
func (h *LeadHandler) Create(c *fiber.Ctx) error {
	var req model.LeadCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	lead, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Created(c, lead)
}

// Get handles GET /api/leads/:id
func (h *LeadHandler) Get(c *fiber.Ctx) error {
	lead, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Lead not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, lead)
}

// Update handles PATCH /api/leads/:id
func (h *LeadHandler) Update(c *fiber.Ctx) error {
	var req model.LeadUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	lead, err := h.service.Update(c.Context(), c.Params("id"), &req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Lead not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, lead)
}

// Delete handles DELETE /api/leads/:id
func (h *LeadHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Lead not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// Transition handles POST /api/leads/:id/stage
func (h *LeadHandler) Transition(c *fiber.Ctx) error {
	var req model.StageTransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	lead, err := h.service.Transition(c.Context(), c.Params("id"), req.Event)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Lead not found")
		case errors.Is(err, lifecycle.ErrAlreadyResearching):
			return response.Conflict(c, err.Error())
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			return response.InvalidState(c, err.Error())
		default:
			return response.ValidationError(c, err.Error(), nil)
		}
	}
	return response.OK(c, lead)
}

// Approve handles POST /api/leads/:id/approve: approve the draft and push
// the lead to the CRM in one step.
func (h *LeadHandler) Approve(c *fiber.Ctx) error {
	lead, err := h.service.ApproveAndPush(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Lead not found")
		case errors.Is(err, service.ErrDraftMissing), errors.Is(err, service.ErrContactMissing):
			return response.InvalidState(c, err.Error())
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			return response.InvalidState(c, err.Error())
		default:
			return response.UpstreamError(c, err.Error())
		}
	}
	return response.OK(c, lead)
}
