package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/pkg/response"
)

// respondError writes err in the error envelope. Server-side failures are
// logged and their cause is not exposed.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	e, ok := apperr.As(err)
	if !ok {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return response.Error(c, fiber.StatusInternalServerError, string(apperr.CodeInternal), "Internal server error", nil)
	}

	status := e.HTTPStatus()
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.String("code", string(e.Code)), zap.Error(err))
	}

	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}

	var details any
	if len(e.Fields) > 0 {
		details = e.Fields
	}
	return response.Error(c, status, string(e.Code), msg, details)
}

// ErrorHandler is the fiber error handler for errors that escape handlers.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := response.CodeBadRequest
			switch {
			case fe.Code == fiber.StatusNotFound:
				code = response.CodeRouteNotFound
			case fe.Code >= fiber.StatusInternalServerError:
				code = response.CodeInternalError
			}
			return response.Error(c, fe.Code, code, fe.Message, nil)
		}
		return respondError(c, log, err)
	}
}
