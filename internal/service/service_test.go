package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/models"
	"helphub/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Message{}, &models.Notification{}))
	return db
}

func createUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{Name: gofakeit.Name(), Email: gofakeit.Email()}
	require.NoError(t, db.Create(u).Error)
	return u
}

func insertMessage(t *testing.T, db *gorm.DB, sender, receiver uint, content string, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		MessageType:    models.MessageTypeText,
		ConversationID: conversation.Key(sender, receiver),
		CreatedAt:      at,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) NotifyNewMessage(ctx context.Context, msg *models.Message) {
	m.Called(ctx, msg)
}

type sinkStub struct {
	mu        sync.Mutex
	published []*models.Message
	err       error
}

func (s *sinkStub) PublishMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, msg)
	return s.err
}

type presenceStub map[uint]bool

func (p presenceStub) IsOnline(id uint) bool { return p[id] }

type chatFixture struct {
	db       *gorm.DB
	svc      *ChatService
	messages repository.MessageRepository
	notes    *NotificationService
	now      time.Time
}

func newChatFixture(t *testing.T, opts ...ChatOption) *chatFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &chatFixture{
		db:       db,
		messages: repository.NewMessageRepository(db),
		notes:    NewNotificationService(repository.NewNotificationRepository(db), nil),
		now:      time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	opts = append([]ChatOption{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewChatService(f.messages, repository.NewUserRepository(db, nil), f.notes, opts...)
	return f
}
