package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UnreadCountKeyPrefix        = "chat:unread:%d"
	NotificationUnreadKeyPrefix = "notifications:unread:%d"
	UserSummaryKeyPrefix        = "user:%d:summary"
)

const (
	UnreadCountTTL = 30 * time.Second
	UserSummaryTTL = 5 * time.Minute
)

// UnreadCountKey caches the total unread message count of a user.
func UnreadCountKey(userID uint) string {
	return fmt.Sprintf(UnreadCountKeyPrefix, userID)
}

// NotificationUnreadKey caches the unread notification count of a user.
func NotificationUnreadKey(userID uint) string {
	return fmt.Sprintf(NotificationUnreadKeyPrefix, userID)
}

// UserSummaryKey caches the public summary of a user.
func UserSummaryKey(userID uint) string {
	return fmt.Sprintf(UserSummaryKeyPrefix, userID)
}

// Invalidate deletes keys, ignoring a nil client.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb == nil || len(keys) == 0 {
		return
	}
	rdb.Del(ctx, keys...)
}

// InvalidateUnread drops the cached unread counters of a user.
func InvalidateUnread(ctx context.Context, rdb *redis.Client, userID uint) {
	Invalidate(ctx, rdb, UnreadCountKey(userID), NotificationUnreadKey(userID))
}
