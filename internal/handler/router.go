package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/middleware"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/internal/template"
	ws "github.com/clipcraft/api/internal/websocket"
	"github.com/clipcraft/api/pkg/logger"
)

type AppDeps struct {
	Jobs      *service.JobService
	Templates template.Store
	Hub       *ws.Hub
	// Limiter is optional; SubmitPerHour <= 0 disables it.
	Limiter       *middleware.RateLimiter
	SubmitPerHour int
	Checks        map[string]Check
	BodyLimitMB   int
	// AccessLog enables fiber's request logger.
	AccessLog bool
	Log       *zap.Logger
}

// NewApp builds the HTTP API.
func NewApp(d AppDeps) *fiber.App {
	log := logger.OrNop(d.Log)

	bodyLimit := d.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 1
	}

	app := fiber.New(fiber.Config{
		AppName:               "clipcraft",
		ErrorHandler:          ErrorHandler(log.Named("http")),
		BodyLimit:             bodyLimit * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	jobs := NewJobHandler(d.Jobs, log)
	templates := NewTemplateHandler(d.Templates, log)
	health := NewHealthHandler(d.Jobs, d.Checks, log)

	app.Get("/health", health.Health)

	submit := []fiber.Handler{jobs.Create}
	if d.Limiter != nil && d.SubmitPerHour > 0 {
		submit = append([]fiber.Handler{d.Limiter.SubmitLimit(d.SubmitPerHour)}, submit...)
	}
	app.Post("/jobs", submit...)
	app.Get("/jobs", jobs.List)
	app.Get("/jobs/:jobId", jobs.Status)
	app.Get("/jobs/:jobId/output", jobs.Output)
	app.Delete("/jobs/:jobId", jobs.Delete)

	app.Get("/templates", templates.List)
	app.Get("/templates/:templateId", templates.Get)

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			jobID := c.Params("jobId")
			d.Hub.HandleConnection(c, jobID, func() (*model.Job, error) {
				return d.Jobs.Status(context.Background(), jobID)
			})
		}))
	}

	return app
}
