package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/stream"
	"github.com/leadpilot/api/pkg/response"
)

type JobHandler struct {
	runs      *runner.Service
	validator *validator.Validate
}

func NewJobHandler(runs *runner.Service, v *validator.Validate) *JobHandler {
	return &JobHandler{
		runs:      runs,
		validator: v,
	}
}

// StartDiscovery handles POST /api/scan/discovery
func (h *JobHandler) StartDiscovery(c *fiber.Ctx) error {
	return h.startScan(c, model.JobKindDiscovery)
}

// StartScaffolding handles POST /api/scan/scaffolding
func (h *JobHandler) StartScaffolding(c *fiber.Ctx) error {
	return h.startScan(c, model.JobKindScaffolding)
}

func (h *JobHandler) startScan(c *fiber.Ctx, kind model.JobKind) error {
	var params model.DiscoveryParams
	if err := c.BodyParser(&params); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&params); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return h.start(c, kind, params)
}

// StartResearch handles POST /api/research/start
func (h *JobHandler) StartResearch(c *fiber.Ctx) error {
	var params model.ResearchParams
	if err := c.BodyParser(&params); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if params.LeadID == "" && !params.All {
		return response.ValidationError(c, "Either leadId or all is required", nil)
	}
	return h.start(c, model.JobKindResearch, params)
}

// StartStreetAgent handles POST /api/agent/street
func (h *JobHandler) StartStreetAgent(c *fiber.Ctx) error {
	var params model.StreetAgentParams
	if err := c.BodyParser(&params); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&params); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return h.start(c, model.JobKindStreetAgent, params)
}

func (h *JobHandler) start(c *fiber.Ctx, kind model.JobKind, params any) error {
	run, err := h.runs.Start(c.Context(), kind, params)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, model.JobStartResponse{
		JobID:     run.ID,
		Kind:      run.Kind,
		Status:    run.Status,
		StreamURL: fmt.Sprintf("/api/jobs/%s/stream", run.ID),
		StartedAt: run.StartedAt,
	})
}

// Status handles GET /api/jobs/:jobId/status
func (h *JobHandler) Status(c *fiber.Ctx) error {
	run, err := h.runs.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, runner.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, run)
}

// Cancel handles POST /api/jobs/:jobId/cancel. Idempotent: cancelling a
// finished or already-cancelled job succeeds without changing anything.
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	run, err := h.runs.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, runner.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.JobCancelResponse{
		JobID:     run.ID,
		Status:    run.Status,
		Cancelled: run.Status == model.JobStatusCancelled,
	})
}

// Stream handles GET /api/jobs/:jobId/stream. The response is a server-sent
// event stream that replays the run's persisted events, then follows live
// ones, ending after the terminal frame. A client disconnect only ends the
// stream; the job keeps running.
func (h *JobHandler) Stream(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if _, err := h.runs.Get(c.Context(), jobID); err != nil {
		if errors.Is(err, runner.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	hub := h.runs.Hub()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		lastSeq := 0
		for {
			// Subscribe before replaying so nothing published in between is
			// lost; the seq check drops the overlap.
			events, cancel := hub.Subscribe(jobID)

			history, err := h.runs.Events(context.Background(), jobID)
			if err != nil {
				log.Printf("job %s: failed to load events for stream: %v", jobID, err)
				cancel()
				return
			}
			for _, ev := range history {
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				if err := stream.WriteEvent(w, ev); err != nil {
					cancel()
					return
				}
				if model.TerminalPhase(ev.Phase) {
					cancel()
					w.Flush()
					return
				}
			}
			if err := w.Flush(); err != nil {
				cancel()
				return
			}

			for ev := range events {
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				if err := stream.WriteEvent(w, ev); err != nil {
					cancel()
					return
				}
				if err := w.Flush(); err != nil {
					cancel()
					return
				}
				if model.TerminalPhase(ev.Phase) {
					cancel()
					return
				}
			}
			// Channel closed: the hub cut us loose as a slow consumer.
			// Resubscribe and let the replay fill the gap.
			cancel()
		}
	})
	return nil
}
