package repository

import (
	"context"
	"time"

	"helphub/internal/models"
	"helphub/internal/observability"

	"gorm.io/gorm"
)

// ConversationUnread is the unread count of one conversation for a reader.
type ConversationUnread struct {
	ConversationID string
	Count          int64
}

// MessageRepository defines data access for direct messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	ListConversation(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID uint, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID uint) (int64, error)
	SoftDelete(ctx context.Context, id uint, at time.Time) error
	Search(ctx context.Context, userID uint, query string, conversationID string, limit int) ([]*models.Message, error)
	LatestPerConversation(ctx context.Context, userID uint) ([]*models.Message, error)
	UnreadByConversation(ctx context.Context, receiverID uint) ([]ConversationUnread, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a message repository over db.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

func (r *messageRepository) withParticipants(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Sender").Preload("Receiver")
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("create", "messages")()
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, "message_id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// GetByID returns the message with its participants, including soft-deleted rows.
func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	defer observability.TrackQuery("get", "messages")()
	var msg models.Message
	if err := r.withParticipants(ctx).First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListConversation returns one page of live messages in a conversation, oldest
// first. Pages are counted from the newest message.
func (r *messageRepository) ListConversation(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	defer observability.TrackQuery("list", "messages")()
	var messages []*models.Message
	err := r.withParticipants(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	reverseMessages(messages)
	return messages, nil
}

// MarkConversationRead flips unread messages from sender to receiver. Rows
// already read are untouched, so repeating the call is a no-op.
func (r *messageRepository) MarkConversationRead(ctx context.Context, senderID, receiverID uint, at time.Time) (int64, error) {
	defer observability.TrackQuery("mark_read", "messages")()
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ? AND is_deleted = ?", senderID, receiverID, false, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "mark_read")
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.LogUpdate(ctx, "sender_id", senderID, "receiver_id", receiverID, "rows", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, receiverID uint) (int64, error) {
	defer observability.TrackQuery("count_unread", "messages")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ? AND is_deleted = ?", receiverID, false, false).
		Count(&count).Error
	return count, err
}

// SoftDelete flags the message deleted; the row is kept. Deleting twice
// reports gorm.ErrRecordNotFound.
func (r *messageRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	defer observability.TrackQuery("soft_delete", "messages")()
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": at})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "soft_delete")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.log.LogUpdate(ctx, "message_id", id, "deleted", true)
	return nil
}

// Search finds live messages involving userID whose content contains query,
// ignoring case. A non-empty conversationID narrows the search to that conversation.
func (r *messageRepository) Search(ctx context.Context, userID uint, query string, conversationID string, limit int) ([]*models.Message, error) {
	defer observability.TrackQuery("search", "messages")()
	tx := r.withParticipants(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND is_deleted = ?", userID, userID, false).
		Where("LOWER(content) LIKE ? ESCAPE '"+likeEscape+"'", containsPattern(query))
	if conversationID != "" {
		tx = tx.Where("conversation_id = ?", conversationID)
	}

	var messages []*models.Message
	err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// LatestPerConversation returns the newest live message of every conversation
// userID takes part in. Ties on created_at go to the higher id.
func (r *messageRepository) LatestPerConversation(ctx context.Context, userID uint) ([]*models.Message, error) {
	defer observability.TrackQuery("latest_per_conversation", "messages")()
	ranked := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("messages.*, ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY created_at DESC, id DESC) AS rn").
		Where("(sender_id = ? OR receiver_id = ?) AND is_deleted = ?", userID, userID, false)

	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Table("(?) AS ranked", ranked).
		Where("rn = ?", 1).
		Order("created_at DESC").
		Order("id DESC").
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) UnreadByConversation(ctx context.Context, receiverID uint) ([]ConversationUnread, error) {
	defer observability.TrackQuery("unread_by_conversation", "messages")()
	var rows []ConversationUnread
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("receiver_id = ? AND is_read = ? AND is_deleted = ?", receiverID, false, false).
		Group("conversation_id").
		Scan(&rows).Error
	return rows, err
}
