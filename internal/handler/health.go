package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/pkg/logger"
	"github.com/clipcraft/api/pkg/response"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) bool

type HealthHandler struct {
	service *service.JobService
	checks  map[string]Check
	log     *zap.Logger
}

func NewHealthHandler(svc *service.JobService, checks map[string]Check, log *zap.Logger) *HealthHandler {
	return &HealthHandler{service: svc, checks: checks, log: logger.OrNop(log).Named("http")}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	resp := model.HealthResponse{Status: "ok", Timestamp: time.Now().UTC()}

	active, total, err := h.service.Stats(ctx)
	if err != nil {
		h.log.Warn("health: job stats unavailable", zap.Error(err))
		resp.Status = "degraded"
	}
	resp.ActiveJobs, resp.TotalJobs = active, total

	if len(h.checks) > 0 {
		resp.Services = make(map[string]bool, len(h.checks))
		for name, check := range h.checks {
			ok := check(ctx)
			resp.Services[name] = ok
			if !ok {
				resp.Status = "degraded"
			}
		}
	}

	return response.OK(c, resp)
}
