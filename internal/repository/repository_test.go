package repository

import (
	"fmt"
	"testing"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repository_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Message{}, &models.Notification{}))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func createUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{
		Name:       gofakeit.Name(),
		Email:      gofakeit.Email(),
		ProfilePic: gofakeit.URL(),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// insertMessage stores a message from sender to receiver at a fixed time.
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
