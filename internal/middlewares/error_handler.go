package middlewares

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/zenithcms/sentinel/internal/auth"
	"github.com/zenithcms/sentinel/internal/token"
	"github.com/zenithcms/sentinel/internal/users"
)

// errorEnvelope mirrors the api package response shape without importing it;
// the handlers import this package for the auth middleware.
type errorEnvelope struct {
	APIVersion string    `json:"apiVersion"`
	Error      errorInfo `json:"error"`
}

type errorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newErrorEnvelope(code int, message string) errorEnvelope {
	return errorEnvelope{
		APIVersion: "1.0",
		Error:      errorInfo{Code: code, Message: message},
	}
}

// statusOf maps domain errors onto HTTP statuses. Anything unmapped is a 500.
func statusOf(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, token.ErrTokenNotFound),
		errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, token.ErrTokenRevoked),
		errors.Is(err, token.ErrUserForcedLogout),
		errors.Is(err, token.ErrRefreshTokenInvalid),
		errors.Is(err, users.ErrInvalidCredentials):
		return fiber.StatusUnauthorized
	case errors.Is(err, users.ErrUserDisabled),
		errors.Is(err, auth.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, users.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code == fiber.StatusInternalServerError {
		slog.Error("Unhandled error", "path", ctx.Path(), "error", err)
		return ctx.Status(code).JSON(newErrorEnvelope(code, "Internal server error"))
	}
	return ctx.Status(code).JSON(newErrorEnvelope(code, err.Error()))
}
