package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/template"
	"github.com/clipcraft/api/pkg/logger"
	"github.com/clipcraft/api/pkg/response"
)

type TemplateHandler struct {
	store template.Store
	log   *zap.Logger
}

func NewTemplateHandler(store template.Store, log *zap.Logger) *TemplateHandler {
	return &TemplateHandler{store: store, log: logger.OrNop(log).Named("http")}
}

// List handles GET /templates
func (h *TemplateHandler) List(c *fiber.Ctx) error {
	templates, err := h.store.List(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, templates)
}

// Get handles GET /templates/:templateId
func (h *TemplateHandler) Get(c *fiber.Ctx) error {
	t, err := h.store.Get(c.UserContext(), c.Params("templateId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, t)
}
