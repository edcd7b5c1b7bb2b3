package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/featureflags"
	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/notifications"
	"helphub/internal/observability"
	"helphub/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Socket rate limits, per user.
const (
	sendLimit    = 15
	sendWindow   = time.Minute
	typingLimit  = 10
	typingWindow = 10 * time.Second
)

// frameDeadline bounds the store work done for one frame.
const frameDeadline = 10 * time.Second

// receiverPayload addresses a conversation by the other participant.
// SenderID is accepted from older clients and ignored.
type receiverPayload struct {
	ReceiverID uint  `json:"receiverId"`
	SenderID   uint  `json:"senderId,omitempty"`
	IsTyping   *bool `json:"isTyping,omitempty"`
}

// socketSendPayload is send-message. SenderID, when present, must match the
// authenticated user.
type socketSendPayload struct {
	SendMessageRequest
	SenderID *uint `json:"senderId,omitempty"`
}

// WebSocketChatHandler godoc
// @Summary Realtime chat socket
// @Description Upgrades to a websocket carrying {type, payload} frames. Authenticate with ?ticket= from POST /ws/ticket or a Bearer token.
// @Tags websocket
// @Param ticket query string false "Single-use ticket"
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/chat [get]
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			// AuthRequired runs before the upgrade, so this is a wiring bug
			middleware.Logger.Error("websocket accepted without an authenticated user")
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket registration refused",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()),
			)
			if frame, ferr := notifications.EncodeFrame(notifications.EventError, errorPayload{Message: err.Error()}); ferr == nil {
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
			_ = conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(s.baseContext())
		defer cancel()
		ctx = context.WithValue(ctx, middleware.UserIDKey, userID)

		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleChatFrame(ctx, c, raw)
		}
		_ = s.hub.SendTo(client, notifications.EventConnected, connectedPayload{UserID: userID})

		go client.WritePump()
		client.ReadPump()
	})
}

// handleChatFrame dispatches one client frame. Failures are logged and
// answered with an error frame to that client only.
func (s *Server) handleChatFrame(parent context.Context, c *notifications.Client, raw []byte) {
	frame, err := notifications.DecodeFrame(raw)
	if err != nil || frame.Type == "" {
		s.replyError(parent, c, "", models.NewValidationError("Invalid frame"))
		return
	}

	ctx, cancel := context.WithTimeout(parent, frameDeadline)
	defer cancel()
	ctx, span := observability.StartWebSocketSpan(ctx, s.hub.Name(), frame.Type)
	s.hub.Log().LogMessage(ctx, c.UserID, "", frame.Type)

	switch frame.Type {
	case notifications.EventJoinUserRoom:
		// the personal room was joined at registration; any id in the payload is ignored
	case notifications.EventJoinChat:
		err = s.wsJoinChat(c, frame.Payload)
	case notifications.EventLeaveChat:
		err = s.wsLeaveChat(c, frame.Payload)
	case notifications.EventSendMessage:
		err = s.wsSendMessage(ctx, c, frame.Payload)
	case notifications.EventTyping, notifications.EventStopTyping:
		err = s.wsTyping(ctx, c, frame.Type, frame.Payload)
	case notifications.EventMarkRead:
		err = s.wsMarkRead(ctx, c, frame.Payload)
	default:
		err = models.NewValidationError(fmt.Sprintf("Unknown event %q", frame.Type))
	}

	observability.EndSpan(span, err)
	if err != nil {
		s.replyError(ctx, c, frame.Type, err)
	}
}

func (s *Server) replyError(ctx context.Context, c *notifications.Client, event string, err error) {
	payload := errorPayload{Event: event, Message: "Internal server error"}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		payload.Code = appErr.Code
		if appErr.Code != models.CodeInternal {
			payload.Message = appErr.Message
		}
	}

	middleware.Logger.WarnContext(ctx, "websocket event failed",
		slog.String("event", event),
		slog.Uint64("user_id", uint64(c.UserID)),
		slog.String("client_id", c.ID),
		slog.String("error", err.Error()),
	)
	_ = s.hub.SendTo(c, notifications.EventError, payload)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return models.NewValidationError("Missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return models.NewValidationError("Invalid payload")
	}
	return nil
}

// conversationWith resolves the room shared with the payload's receiver.
func conversationWith(me uint, raw json.RawMessage) (receiverPayload, string, error) {
	var p receiverPayload
	if err := decodePayload(raw, &p); err != nil {
		return p, "", err
	}
	if p.ReceiverID == 0 || p.ReceiverID == me {
		return p, "", models.NewValidationError("Invalid receiverId")
	}
	return p, conversation.Key(me, p.ReceiverID), nil
}

func (s *Server) wsJoinChat(c *notifications.Client, raw json.RawMessage) error {
	_, room, err := conversationWith(c.UserID, raw)
	if err != nil {
		return err
	}
	s.hub.Join(c, room)
	return nil
}

func (s *Server) wsLeaveChat(c *notifications.Client, raw json.RawMessage) error {
	_, room, err := conversationWith(c.UserID, raw)
	if err != nil {
		return err
	}
	s.hub.Leave(c, room)
	return nil
}

func (s *Server) wsSendMessage(ctx context.Context, c *notifications.Client, raw json.RawMessage) error {
	var p socketSendPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.SenderID != nil && *p.SenderID != c.UserID {
		middleware.Logger.WarnContext(ctx, "dropped send-message with spoofed sender",
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.Uint64("claimed_sender_id", uint64(*p.SenderID)),
		)
		return models.NewForbiddenError("senderId does not match the authenticated user")
	}

	if !s.allow(ctx, "send_chat", c.UserID, sendLimit, sendWindow) {
		return models.NewRateLimitError("Rate limit exceeded. Please wait a moment.")
	}

	msg, err := s.chatService.SendMessage(ctx, p.input(c.UserID, service.ChannelSocket))
	if err != nil {
		return err
	}
	s.broadcastMessage(ctx, msg, "")
	return nil
}

func (s *Server) wsTyping(ctx context.Context, c *notifications.Client, eventType string, raw json.RawMessage) error {
	p, room, err := conversationWith(c.UserID, raw)
	if err != nil {
		return err
	}
	if !s.featureFlags.Enabled(featureflags.TypingIndicators, c.UserID) {
		return nil
	}
	// spammy typing indicators are dropped silently
	if !s.allow(ctx, "typing", c.UserID, typingLimit, typingWindow) {
		return nil
	}

	out := notifications.EventUserTyping
	isTyping := p.IsTyping == nil || *p.IsTyping
	if eventType == notifications.EventStopTyping {
		out = notifications.EventUserStopTyping
		isTyping = false
	}

	return s.hub.Emit(ctx, room, out, TypingPayload{
		SenderID:       c.UserID,
		IsTyping:       isTyping,
		ConversationID: room,
	}, c.ID)
}

func (s *Server) wsMarkRead(ctx context.Context, c *notifications.Client, raw json.RawMessage) error {
	p, _, err := conversationWith(c.UserID, raw)
	if err != nil {
		return err
	}
	n, err := s.chatService.MarkRead(ctx, c.UserID, p.ReceiverID)
	if err != nil {
		return err
	}
	s.announceRead(ctx, c.UserID, p.ReceiverID, n)
	return nil
}

// allow applies a per-user fixed-window limit. A failing limiter store lets
// the event through.
func (s *Server) allow(ctx context.Context, resource string, userID uint, limit int, window time.Duration) bool {
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, resource, fmt.Sprintf("user:%d", userID), limit, window)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "rate limiter unavailable",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		return true
	}
	return allowed
}
