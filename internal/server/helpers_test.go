package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"helphub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("bad"), fiber.StatusBadRequest},
		{models.NewNotFoundError("Message", 1), fiber.StatusNotFound},
		{models.NewForbiddenError("no"), fiber.StatusForbidden},
		{models.NewUnauthorizedError("who"), fiber.StatusUnauthorized},
		{models.NewRateLimitError("slow down"), fiber.StatusTooManyRequests},
		{models.NewInternalError(errors.New("boom")), fiber.StatusInternalServerError},
		{fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound), fiber.StatusNotFound},
		{context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		{context.Canceled, statusClientClosedRequest},
		{fmt.Errorf("list: %w", context.Canceled), statusClientClosedRequest},
		{models.NewInternalError(context.DeadlineExceeded), fiber.StatusGatewayTimeout},
		{models.NewContextError(context.Canceled), statusClientClosedRequest},
		{errors.New("anything else"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}

func TestHumanizeParam(t *testing.T) {
	cases := map[string]string{
		"id":            "ID",
		"userId":        "user ID",
		"messageId":     "message ID",
		"chatroomMsgId": "chatroom msg ID",
		"page":          "page",
	}
	for in, want := range cases {
		assert.Equal(t, want, humanizeParam(in), in)
	}
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, models.CodeValidation, codeForStatus(fiber.StatusBadRequest))
	assert.Equal(t, models.CodeNotFound, codeForStatus(fiber.StatusNotFound))
	assert.Equal(t, models.CodeRateLimited, codeForStatus(fiber.StatusTooManyRequests))
	assert.Equal(t, models.CodeInternal, codeForStatus(fiber.StatusBadGateway))
	assert.Equal(t, models.CodeTimeout, codeForStatus(fiber.StatusGatewayTimeout))
	assert.Equal(t, models.CodeCanceled, codeForStatus(statusClientClosedRequest))
	assert.Empty(t, codeForStatus(fiber.StatusConflict))
}

func TestRespondError_CancelledFetchIsNotInternal(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return respondError(c, fmt.Errorf("list conversation: %w", context.Canceled))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, statusClientClosedRequest, resp.StatusCode)
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, models.CodeCanceled, body.Code)
	assert.Equal(t, "Request cancelled", body.Message)
}
