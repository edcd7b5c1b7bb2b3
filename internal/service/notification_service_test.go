package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"helphub/internal/cache"
	"helphub/internal/models"
	"helphub/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotificationRepo struct {
	repository.NotificationRepository
}

func (failingNotificationRepo) Create(context.Context, *models.Notification) error {
	return errors.New("insert failed")
}

func TestNotificationService_NotifyFailureDoesNotFailSend(t *testing.T) {
	db := setupTestDB(t)
	alice, bob := createUser(t, db), createUser(t, db)

	notes := NewNotificationService(failingNotificationRepo{}, nil)
	svc := NewChatService(repository.NewMessageRepository(db), repository.NewUserRepository(db, nil), notes)

	msg, err := svc.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: "still delivered"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNotificationService_Inbox(t *testing.T) {
	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	alice, bob := createUser(t, db), createUser(t, db)
	svc := NewNotificationService(repository.NewNotificationRepository(db), rdb)
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		svc.NotifyNewMessage(ctx, &models.Message{ID: i, SenderID: alice.ID, ReceiverID: bob.ID, Sender: alice})
	}

	count, err := svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.True(t, mr.Exists(cache.NotificationUnreadKey(bob.ID)))

	list, err := svc.List(ctx, bob.ID, 1, 2, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].RelatedMessageID)
	assert.Equal(t, uint(3), *list[0].RelatedMessageID)

	n, err := svc.MarkAllRead(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.False(t, mr.Exists(cache.NotificationUnreadKey(bob.ID)))

	count, err = svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	unread, err := svc.List(ctx, bob.ID, 1, 10, true)
	require.NoError(t, err)
	assert.NotNil(t, unread)
	assert.Empty(t, unread)
}

func TestNotificationService_FallbackSenderName(t *testing.T) {
	db := setupTestDB(t)
	bob := createUser(t, db)
	svc := NewNotificationService(repository.NewNotificationRepository(db), nil)

	svc.NotifyNewMessage(context.Background(), &models.Message{ID: 1, SenderID: 42, ReceiverID: bob.ID})

	var n models.Notification
	require.NoError(t, db.Where("user_id = ?", bob.ID).First(&n).Error)
	assert.Equal(t, "You have a new message from someone", n.Message)
	assert.WithinDuration(t, time.Now(), n.CreatedAt, time.Minute)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "hi", truncateRunes("hi", 4))
}
