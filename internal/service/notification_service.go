package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"helphub/internal/cache"
	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/observability"
	"helphub/internal/repository"

	"github.com/redis/go-redis/v9"
)

// NewMessageTitle is the inbox title for message notifications.
const NewMessageTitle = "New Message"

// NotificationService manages a user's notification inbox.
type NotificationService struct {
	repo repository.NotificationRepository
	rdb  *redis.Client
	now  func() time.Time
}

// NewNotificationService returns a NotificationService. rdb may be nil.
func NewNotificationService(repo repository.NotificationRepository, rdb *redis.Client) *NotificationService {
	return &NotificationService{repo: repo, rdb: rdb, now: time.Now}
}

// NotifyNewMessage records an inbox entry for the receiver of msg. Failures
// are logged and counted; the caller's send always stands.
func (s *NotificationService) NotifyNewMessage(ctx context.Context, msg *models.Message) {
	senderName := "someone"
	if msg.Sender != nil && msg.Sender.Name != "" {
		senderName = msg.Sender.Name
	}

	messageID := msg.ID
	senderID := msg.SenderID
	n := &models.Notification{
		UserID:           msg.ReceiverID,
		Title:            NewMessageTitle,
		Message:          truncateRunes(fmt.Sprintf("You have a new message from %s", senderName), models.MaxNotificationMessage),
		Type:             models.NotificationTypeMessage,
		Priority:         models.PriorityMedium,
		RelatedMessageID: &messageID,
		RelatedUserID:    &senderID,
	}

	if err := s.repo.Create(ctx, n); err != nil {
		observability.NotificationFailures.Inc()
		middleware.Logger.ErrorContext(ctx, "failed to create message notification",
			slog.Uint64("message_id", uint64(msg.ID)),
			slog.Uint64("receiver_id", uint64(msg.ReceiverID)),
			slog.String("error", err.Error()),
		)
		return
	}
	cache.Invalidate(ctx, s.rdb, cache.NotificationUnreadKey(msg.ReceiverID))
}

// List returns a page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, me uint, page, limit int, unreadOnly bool) ([]*models.Notification, error) {
	page, limit = normalizePage(page, limit)
	out, err := s.repo.ListForUser(ctx, me, unreadOnly, limit, (page-1)*limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if out == nil {
		out = []*models.Notification{}
	}
	return out, nil
}

// MarkAllRead marks every unread notification of the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, me uint) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, me, s.now())
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	cache.Invalidate(ctx, s.rdb, cache.NotificationUnreadKey(me))
	return n, nil
}

// UnreadCount returns the number of unread, unexpired notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, me uint) (int64, error) {
	var count int64
	err := cache.CacheAside(ctx, s.rdb, cache.NotificationUnreadKey(me), &count, cache.UnreadCountTTL, func() error {
		n, err := s.repo.CountUnread(ctx, me)
		count = n
		return err
	})
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
