package server

import (
	"context"
	"log/slog"

	"helphub/internal/conversation"
	"helphub/internal/featureflags"
	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/notifications"
	"helphub/internal/service"
)

// NewMessageNotice is the receive-notification payload sent to the receiver's
// personal room.
type NewMessageNotice struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	SenderID       uint   `json:"senderId"`
	ConversationID string `json:"conversationId"`
}

// TypingPayload is forwarded as user-typing and user-stop-typing.
type TypingPayload struct {
	SenderID       uint   `json:"senderId"`
	IsTyping       bool   `json:"isTyping"`
	ConversationID string `json:"conversationId"`
}

// MessagesReadPayload tells the other participant their messages were read.
type MessagesReadPayload struct {
	ReaderID       uint   `json:"readerId"`
	ConversationID string `json:"conversationId"`
	Count          int64  `json:"count"`
}

type connectedPayload struct {
	UserID uint `json:"userId"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// broadcastMessage fans a stored message out to the conversation room and
// notifies the receiver's personal room. exceptClientID suppresses the echo
// to one connection; empty reaches every session.
func (s *Server) broadcastMessage(ctx context.Context, msg *models.Message, exceptClientID string) {
	if err := s.hub.Emit(ctx, msg.ConversationID, notifications.EventReceiveMessage, msg, exceptClientID); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to emit message",
			slog.Uint64("message_id", uint64(msg.ID)),
			slog.String("error", err.Error()),
		)
	}

	notice := NewMessageNotice{
		Title:          service.NewMessageTitle,
		Message:        "You have a new message",
		Type:           models.NotificationTypeMessage,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
	}
	if err := s.hub.Emit(ctx, conversation.UserRoom(msg.ReceiverID), notifications.EventReceiveNotification, notice, ""); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to emit notification",
			slog.Uint64("receiver_id", uint64(msg.ReceiverID)),
			slog.String("error", err.Error()),
		)
	}
}

// announceRead emits messages-read to the conversation when read receipts
// are enabled for the reader.
func (s *Server) announceRead(ctx context.Context, reader, other uint, count int64) {
	if count == 0 || !s.featureFlags.Enabled(featureflags.ReadReceipts, reader) {
		return
	}
	key := conversation.Key(reader, other)
	payload := MessagesReadPayload{ReaderID: reader, ConversationID: key, Count: count}
	if err := s.hub.Emit(ctx, key, notifications.EventMessagesRead, payload, ""); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to emit read receipt",
			slog.String("conversation_id", key),
			slog.String("error", err.Error()),
		)
	}
	// the sender may not have the conversation open
	if err := s.hub.Emit(ctx, conversation.UserRoom(other), notifications.EventMessagesRead, payload, ""); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to emit read receipt",
			slog.Uint64("user_id", uint64(other)),
			slog.String("error", err.Error()),
		)
	}
}
