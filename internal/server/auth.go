package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"helphub/internal/middleware"
	"helphub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wsTicketPrefix   = "ws_ticket:"
	blacklistPrefix  = "blacklist:"
	defaultTicketTTL = 60 * time.Second
)

var errTicketStoreUnavailable = errors.New("websocket ticket store unavailable")

// WSTicket is returned by POST /api/ws/ticket.
type WSTicket struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

// AuthRequired returns the authentication middleware. A single-use
// websocket ticket in ?ticket= is tried first, then a Bearer access token.
// Failures answer 401 before any handler (or upgrade) runs.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ticket := c.Query("ticket"); ticket != "" {
			userID, err := s.consumeWSTicket(c.UserContext(), ticket)
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
			setAuthenticatedUser(c, userID)
			return c.Next()
		}

		token, err := middleware.BearerToken(c)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := s.verifier.Verify(token)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		// revoked tokens are blacklisted by jti until they expire
		if claims.JTI != "" && s.redis != nil {
			n, err := s.redis.Exists(c.UserContext(), blacklistPrefix+claims.JTI).Result()
			if err == nil && n > 0 {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Token has been revoked"))
			}
		}

		setAuthenticatedUser(c, claims.UserID)
		return c.Next()
	}
}

func setAuthenticatedUser(c *fiber.Ctx, userID uint) {
	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), middleware.UserIDKey, userID))
}

// consumeWSTicket atomically reads and deletes a ticket.
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (uint, error) {
	if s.redis == nil {
		return 0, errTicketStoreUnavailable
	}
	raw, err := s.redis.GetDel(ctx, wsTicketPrefix+ticket).Result()
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("malformed websocket ticket")
	}
	return uint(id), nil
}

func (s *Server) ticketTTL() time.Duration {
	if s.config.WSTicketTTLSeconds > 0 {
		return time.Duration(s.config.WSTicketTTLSeconds) * time.Second
	}
	return defaultTicketTTL
}

// IssueWSTicket godoc
// @Summary Issue a websocket ticket
// @Description Returns a short-lived single-use ticket for GET /api/ws/chat?ticket=...
// @Tags websocket
// @Produce json
// @Success 200 {object} APIResponse{data=WSTicket}
// @Failure 401 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/ticket [post]
// @Security BearerAuth
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable, &models.AppError{
			Code:    models.CodeInternal,
			Message: "WebSocket tickets are unavailable",
		})
	}

	ttl := s.ticketTTL()
	ticket := uuid.NewString()
	err := s.redis.Set(c.UserContext(), wsTicketPrefix+ticket, strconv.FormatUint(uint64(currentUserID(c)), 10), ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return respondError(c, err)
	}

	return respond(c, fiber.StatusOK, "", WSTicket{Ticket: ticket, ExpiresIn: int(ttl / time.Second)})
}
