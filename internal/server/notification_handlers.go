package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetNotifications godoc
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Param page query int false "Page (1-based)"
// @Param limit query int false "Page size (max 100)"
// @Param unread query bool false "Only unread"
// @Success 200 {object} APIResponse{data=[]models.Notification}
// @Router /notifications [get]
// @Security BearerAuth
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	items, err := s.notificationService.List(c.UserContext(), currentUserID(c),
		c.QueryInt("page", 1), c.QueryInt("limit", 20), c.QueryBool("unread", false))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "", items)
}

// MarkAllNotificationsRead godoc
// @Summary Mark all notifications read
// @Tags notifications
// @Produce json
// @Success 200 {object} APIResponse
// @Router /notifications/read-all [put]
// @Security BearerAuth
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	updated, err := s.notificationService.MarkAllRead(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "All notifications marked as read", fiber.Map{"updated": updated})
}

// GetNotificationUnreadCount godoc
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Success 200 {object} APIResponse
// @Router /notifications/unread-count [get]
// @Security BearerAuth
func (s *Server) GetNotificationUnreadCount(c *fiber.Ctx) error {
	count, err := s.notificationService.UnreadCount(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, "", fiber.Map{"unreadCount": count})
}
