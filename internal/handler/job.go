package handler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/pkg/logger"
	"github.com/clipcraft/api/pkg/response"
)

type JobHandler struct {
	service *service.JobService
	log     *zap.Logger
}

func NewJobHandler(svc *service.JobService, log *zap.Logger) *JobHandler {
	return &JobHandler{service: svc, log: logger.OrNop(log).Named("http")}
}

// Create handles POST /jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return response.ValidationError(c, "Request body is required", nil)
	}

	var req model.RenderRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", fiber.Map{"body": err.Error()})
	}

	job, err := h.service.Submit(c.UserContext(), &req)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return response.Accepted(c, model.SubmitResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Video queued for rendering",
	})
}

// Status handles GET /jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	job, err := h.service.Status(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, job)
}

// List handles GET /jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	jobs, err := h.service.List(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, jobs)
}

// Delete handles DELETE /jobs/:jobId
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("jobId")
	if err := h.service.Remove(c.UserContext(), id); err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, model.MessageResponse{Message: fmt.Sprintf("Job %s removed", id)})
}

// Output handles GET /jobs/:jobId/output
func (h *JobHandler) Output(c *fiber.Ctx) error {
	rc, size, job, err := h.service.Output(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return respondError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, "video/mp4")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="video_%s.mp4"`, job.ID))
	return c.Status(fiber.StatusOK).SendStream(rc, int(size))
}
