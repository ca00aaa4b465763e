package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/sendqueue"
	"github.com/leadpilot/api/internal/store"
	"github.com/leadpilot/api/pkg/response"
)

type SendHandler struct {
	queue     *sendqueue.Queue
	leads     store.LeadStore
	validator *validator.Validate
}

func NewSendHandler(queue *sendqueue.Queue, leads store.LeadStore, v *validator.Validate) *SendHandler {
	return &SendHandler{
		queue:     queue,
		leads:     leads,
		validator: v,
	}
}

// Enqueue handles POST /api/send. To, subject and body default to the lead's
// contact email and attached draft.
func (h *SendHandler) Enqueue(c *fiber.Ctx) error {
	var req model.SendEnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	lead, err := h.leads.Get(c.Context(), req.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Lead not found")
		}
		return response.ServiceError(c, err.Error())
	}

	item := model.SendQueueItem{
		PropertyID:  lead.ID,
		To:          req.To,
		Subject:     req.Subject,
		Body:        req.Body,
		ContactName: lead.ContactPerson,
	}
	if item.To == "" {
		item.To = lead.ContactEmail
	}
	if item.Subject == "" {
		item.Subject = lead.EmailDraftSubject
	}
	if item.Body == "" {
		item.Body = lead.EmailDraftBody
	}

	queued, err := h.queue.Enqueue(c.Context(), item)
	if err != nil {
		if errors.Is(err, sendqueue.ErrDuplicateSend) {
			return response.Conflict(c, err.Error())
		}
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.Accepted(c, model.SendEnqueueResponse{
		ItemID:   queued.ID,
		Status:   queued.Status,
		QueuedAt: queued.QueuedAt,
	})
}

// Stats handles GET /api/send/stats
func (h *SendHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, h.queue.Stats())
}

// Items handles GET /api/send/items
func (h *SendHandler) Items(c *fiber.Ctx) error {
	return response.OK(c, h.queue.Items())
}
