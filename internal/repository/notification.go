package repository

import (
	"context"
	"time"

	"helphub/internal/models"
	"helphub/internal/observability"

	"gorm.io/gorm"
)

// NotificationRepository defines data access for the notification inbox.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
}

type notificationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewNotificationRepository creates a notification repository over db.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db, log: observability.NewRepoLogger("notifications")}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	defer observability.TrackQuery("create", "notifications")()
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, "notification_id", n.ID, "user_id", n.UserID, "type", n.Type)
	return nil
}

// ListForUser returns unexpired notifications, newest first.
func (r *notificationRepository) ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]*models.Notification, error) {
	defer observability.TrackQuery("list", "notifications")()
	tx := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(expires_at IS NULL OR expires_at > ?)", time.Now())
	if unreadOnly {
		tx = tx.Where("is_read = ?", false)
	}

	var out []*models.Notification
	err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	defer observability.TrackQuery("mark_all_read", "notifications")()
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "mark_all_read")
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	defer observability.TrackQuery("count_unread", "notifications")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Where("(expires_at IS NULL OR expires_at > ?)", time.Now()).
		Count(&count).Error
	return count, err
}
