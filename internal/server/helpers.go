package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"helphub/internal/middleware"
	"helphub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// statusClientClosedRequest is nginx's 499 for a request abandoned by its caller.
const statusClientClosedRequest = 499

// APIResponse is the success envelope of every REST endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(APIResponse{Success: true, Message: message, Data: data})
}

// respondError maps err onto its HTTP status. Errors that are not AppErrors
// are logged and reported as internal errors.
func respondError(c *fiber.Ctx, err error) error {
	if ctxErr := models.NewContextError(err); ctxErr != nil {
		err = ctxErr
	}
	status := statusForError(err)
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		if status == fiber.StatusNotFound {
			return models.RespondWithError(c, status, &models.AppError{Code: models.CodeNotFound, Message: "Resource not found"})
		}
		err = models.NewInternalError(err)
	}
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// statusForError returns the HTTP status for an error returned by a service.
func statusForError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case models.CodeValidation:
			return fiber.StatusBadRequest
		case models.CodeNotFound:
			return fiber.StatusNotFound
		case models.CodeForbidden:
			return fiber.StatusForbidden
		case models.CodeUnauthorized:
			return fiber.StatusUnauthorized
		case models.CodeRateLimited:
			return fiber.StatusTooManyRequests
		case models.CodeTimeout:
			return fiber.StatusGatewayTimeout
		case models.CodeCanceled:
			return statusClientClosedRequest
		}
		return fiber.StatusInternalServerError
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return models.CodeValidation
	case fiber.StatusUnauthorized:
		return models.CodeUnauthorized
	case fiber.StatusForbidden:
		return models.CodeForbidden
	case fiber.StatusNotFound:
		return models.CodeNotFound
	case fiber.StatusTooManyRequests:
		return models.CodeRateLimited
	case fiber.StatusGatewayTimeout:
		return models.CodeTimeout
	case statusClientClosedRequest:
		return models.CodeCanceled
	}
	if status >= fiber.StatusInternalServerError {
		return models.CodeInternal
	}
	return ""
}

// currentUserID returns the id AuthRequired stored in locals.
func currentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "messageId" -> "message ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// upgradeRequired answers plain HTTP requests to a websocket route with 426.
func upgradeRequired(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return models.RespondWithError(c, fiber.StatusUpgradeRequired, &models.AppError{
			Code:    models.CodeValidation,
			Message: "WebSocket upgrade required",
		})
	}
	return c.Next()
}
