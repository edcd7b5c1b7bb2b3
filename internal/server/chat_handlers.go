package server

import (
	"helphub/internal/models"
	"helphub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of POST /api/chat/send and the payload of
// the send-message socket event.
type SendMessageRequest struct {
	ReceiverID  uint                `json:"receiverId"`
	Content     string              `json:"content"`
	MessageType string              `json:"messageType,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ReplyTo     *uint               `json:"replyTo,omitempty"`
}

func (r SendMessageRequest) input(senderID uint, channel string) service.SendMessageInput {
	return service.SendMessageInput{
		SenderID:    senderID,
		ReceiverID:  r.ReceiverID,
		Content:     r.Content,
		MessageType: r.MessageType,
		Attachments: r.Attachments,
		ReplyToID:   r.ReplyTo,
		Channel:     channel,
	}
}

// SendMessage godoc
// @Summary Send a direct message
// @Description Stores a message, notifies the receiver and broadcasts it to the conversation room.
// @Tags chat
// @Accept json
// @Produce json
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} APIResponse{data=models.Message}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/send [post]
// @Security BearerAuth
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	msg, err := s.chatService.SendMessage(ctx, req.input(userID, service.ChannelREST))
	if err != nil {
		return respondError(c, err)
	}

	// other devices of both users learn about REST sends too
	s.broadcastMessage(ctx, msg, "")

	return respond(c, fiber.StatusCreated, "Message sent successfully", msg)
}

// GetConversations godoc
// @Summary List conversations
// @Description One entry per counterpart with the latest message and unread count, newest first.
// @Tags chat
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.ConversationView}
// @Router /chat/conversations [get]
// @Security BearerAuth
func (s *Server) GetConversations(c *fiber.Ctx) error {
	views, err := s.chatService.ListConversations(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "", views)
}

// GetConversation godoc
// @Summary Conversation history
// @Description Returns a page of messages with the user, oldest first, and marks the user's messages to the caller as read.
// @Tags chat
// @Produce json
// @Param userId path int true "Counterpart user ID"
// @Param page query int false "Page (1-based)"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} APIResponse{data=models.ConversationHistory}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/conversation/{userId} [get]
// @Security BearerAuth
func (s *Server) GetConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	otherID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}

	history, err := s.chatService.GetConversation(ctx, service.GetConversationInput{
		UserID:  userID,
		OtherID: otherID,
		Page:    c.QueryInt("page", 1),
		Limit:   c.QueryInt("limit", service.DefaultPageSize),
	})
	if err != nil {
		return respondError(c, err)
	}

	s.announceRead(ctx, userID, otherID, history.MarkedRead)
	return respond(c, fiber.StatusOK, "", history)
}

// MarkRead godoc
// @Summary Mark a conversation read
// @Tags chat
// @Produce json
// @Param userId path int true "Counterpart user ID"
// @Success 200 {object} APIResponse
// @Router /chat/read/{userId} [put]
// @Security BearerAuth
func (s *Server) MarkRead(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	otherID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}

	updated, err := s.chatService.MarkRead(ctx, userID, otherID)
	if err != nil {
		return respondError(c, err)
	}

	s.announceRead(ctx, userID, otherID, updated)
	return respond(c, fiber.StatusOK, "Messages marked as read", fiber.Map{"updated": updated})
}

// GetUnreadCount godoc
// @Summary Total unread messages
// @Tags chat
// @Produce json
// @Success 200 {object} APIResponse
// @Router /chat/unread-count [get]
// @Security BearerAuth
func (s *Server) GetUnreadCount(c *fiber.Ctx) error {
	count, err := s.chatService.UnreadCount(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "", fiber.Map{"unreadCount": count})
}

// DeleteMessage godoc
// @Summary Soft-delete a message
// @Description Either participant may delete; the row is kept but hidden from lists and search.
// @Tags chat
// @Produce json
// @Param messageId path int true "Message ID"
// @Success 200 {object} APIResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/message/{messageId} [delete]
// @Security BearerAuth
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	messageID, err := parseID(c, "messageId")
	if err != nil {
		return nil
	}

	if _, err := s.chatService.DeleteMessage(c.UserContext(), currentUserID(c), messageID); err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "Message deleted successfully", nil)
}

// SearchMessages godoc
// @Summary Search messages
// @Description Case-insensitive substring search over the caller's messages, newest first.
// @Tags chat
// @Produce json
// @Param query query string true "Search text"
// @Param userId query int false "Restrict to the conversation with this user"
// @Success 200 {object} APIResponse{data=[]models.Message}
// @Failure 400 {object} models.ErrorResponse
// @Router /chat/search [get]
// @Security BearerAuth
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	otherID := c.QueryInt("userId", 0)
	if otherID < 0 {
		otherID = 0
	}

	msgs, err := s.chatService.Search(c.UserContext(), currentUserID(c), c.Query("query"), uint(otherID))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "", msgs)
}

// GetFeatureFlags godoc
// @Summary Chat features for the caller
// @Tags chat
// @Produce json
// @Success 200 {object} APIResponse
// @Router /chat/features [get]
// @Security BearerAuth
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return respond(c, fiber.StatusOK, "", s.featureFlags.Snapshot(currentUserID(c)))
}
