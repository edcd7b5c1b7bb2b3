// Package service holds the messaging rules: validation, read-on-fetch,
// unread bookkeeping, notification side effects and conversation aggregation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"helphub/internal/cache"
	"helphub/internal/conversation"
	"helphub/internal/database"
	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/observability"
	"helphub/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// History page bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	SearchLimit     = 50
)

// Delivery channels recorded on persisted messages.
const (
	ChannelREST   = "rest"
	ChannelSocket = "socket"
)

// MessageNotifier is told about every stored message. Implementations must
// not fail the send.
type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, msg *models.Message)
}

// MessageSink receives stored messages for durable fan-out.
type MessageSink interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
}

// PresenceChecker reports whether a user has a live connection.
type PresenceChecker interface {
	IsOnline(userID uint) bool
}

// ChatService provides direct-message business logic.
type ChatService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	notifier MessageNotifier
	rdb      *redis.Client
	sink     MessageSink
	presence PresenceChecker
	now      func() time.Time
}

// ChatOption configures optional ChatService collaborators.
type ChatOption func(*ChatService)

// WithCache enables the Redis unread-count cache.
func WithCache(rdb *redis.Client) ChatOption {
	return func(s *ChatService) { s.rdb = rdb }
}

// WithMessageSink publishes every stored message to sink.
func WithMessageSink(sink MessageSink) ChatOption {
	return func(s *ChatService) { s.sink = sink }
}

// WithPresence decorates user summaries with their online state.
func WithPresence(p PresenceChecker) ChatOption {
	return func(s *ChatService) { s.presence = p }
}

// WithClock overrides the time source used for read and delete timestamps.
func WithClock(now func() time.Time) ChatOption {
	return func(s *ChatService) { s.now = now }
}

// NewChatService returns a new ChatService.
func NewChatService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	notifier MessageNotifier,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		messages: messages,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID    uint
	ReceiverID  uint
	Content     string
	MessageType string
	Attachments []models.Attachment
	ReplyToID   *uint
	Channel     string
}

func (in *SendMessageInput) validate() error {
	if in.ReceiverID == 0 {
		return models.NewValidationError("Receiver is required")
	}
	if in.ReceiverID == in.SenderID {
		return models.NewValidationError("Cannot send a message to yourself")
	}

	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return models.NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(in.Content) > models.MaxMessageLength {
		return models.NewValidationError("Message cannot exceed 1000 characters")
	}

	if in.MessageType == "" {
		in.MessageType = models.MessageTypeText
	}
	if !models.IsValidMessageType(in.MessageType) {
		return models.NewValidationError("Invalid message type")
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return models.NewValidationError("Attachment URL is required")
		}
	}
	return nil
}

// SendMessage validates and stores a message, then notifies the receiver.
// Nothing is stored and nobody is notified when validation fails.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (msg *models.Message, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "ChatService", "SendMessage",
		attribute.Int64("chat.sender_id", int64(in.SenderID)),
		attribute.Int64("chat.receiver_id", int64(in.ReceiverID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, in.ReceiverID); err != nil {
		return nil, err
	}

	key := conversation.Key(in.SenderID, in.ReceiverID)
	if in.ReplyToID != nil {
		if err := s.checkReplyTarget(ctx, *in.ReplyToID, key); err != nil {
			return nil, err
		}
	}

	msg = &models.Message{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		MessageType:    in.MessageType,
		Attachments:    in.Attachments,
		ConversationID: key,
		ReplyToID:      in.ReplyToID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, models.NewNotFoundError("User", in.ReceiverID)
		}
		return nil, models.NewInternalError(err)
	}

	channel := in.Channel
	if channel == "" {
		channel = ChannelREST
	}
	observability.MessagesPersisted.WithLabelValues(msg.MessageType, channel).Inc()
	cache.InvalidateUnread(ctx, s.rdb, in.ReceiverID)

	stored, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(ctx, stored)
	}
	if s.sink != nil {
		if err := s.sink.PublishMessage(ctx, stored); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to publish message event",
				slog.Uint64("message_id", uint64(stored.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	return stored, nil
}

func (s *ChatService) checkReplyTarget(ctx context.Context, replyTo uint, key string) error {
	target, err := s.messages.GetByID(ctx, replyTo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewValidationError("Reply target not found")
		}
		return models.NewInternalError(err)
	}
	if target.ConversationID != key || target.IsDeleted {
		return models.NewValidationError("Reply target not found")
	}
	return nil
}

// GetConversationInput selects one page of history with a counterpart.
type GetConversationInput struct {
	UserID  uint
	OtherID uint
	Page    int
	Limit   int
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// GetConversation returns a page of history, oldest first, and marks the
// counterpart's messages to the caller as read. The mark only happens after a
// successful fetch whose context is still live; the returned messages reflect it.
func (s *ChatService) GetConversation(ctx context.Context, in GetConversationInput) (history *models.ConversationHistory, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "ChatService", "GetConversation",
		attribute.Int64("chat.user_id", int64(in.UserID)),
		attribute.Int64("chat.other_id", int64(in.OtherID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if in.OtherID == 0 || in.OtherID == in.UserID {
		return nil, models.NewValidationError("Invalid conversation partner")
	}
	other, err := s.users.GetByID(ctx, in.OtherID)
	if err != nil {
		return nil, err
	}

	page, limit := normalizePage(in.Page, in.Limit)
	msgs, err := s.messages.ListConversation(ctx, conversation.Key(in.UserID, in.OtherID), limit, (page-1)*limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	history = &models.ConversationHistory{
		Messages:   msgs,
		OtherUser:  s.summary(other),
		Pagination: models.Pagination{Page: page, Limit: limit, Count: len(msgs)},
	}

	now := s.now()
	marked, err := s.messages.MarkConversationRead(ctx, in.OtherID, in.UserID, now)
	if err != nil {
		// the page was fetched; a failed mark leaves messages unread for next time
		middleware.Logger.WarnContext(ctx, "read-on-fetch failed",
			slog.Uint64("other_id", uint64(in.OtherID)),
			slog.String("error", err.Error()),
		)
		return history, nil
	}
	if marked > 0 {
		history.MarkedRead = marked
		for _, m := range msgs {
			if m.SenderID == in.OtherID && m.ReceiverID == in.UserID && !m.IsRead {
				m.IsRead = true
				m.ReadAt = &now
			}
		}
		cache.InvalidateUnread(ctx, s.rdb, in.UserID)
	}
	return history, nil
}

// MarkRead marks every unread message from other to me as read and returns
// how many changed. Repeating it is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, me, other uint) (int64, error) {
	if other == 0 || other == me {
		return 0, models.NewValidationError("Invalid conversation partner")
	}
	n, err := s.messages.MarkConversationRead(ctx, other, me, s.now())
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	if n > 0 {
		cache.InvalidateUnread(ctx, s.rdb, me)
	}
	return n, nil
}

// UnreadCount returns the number of live unread messages addressed to me.
func (s *ChatService) UnreadCount(ctx context.Context, me uint) (int64, error) {
	var count int64
	err := cache.CacheAside(ctx, s.rdb, cache.UnreadCountKey(me), &count, cache.UnreadCountTTL, func() error {
		n, err := s.messages.CountUnread(ctx, me)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// DeleteMessage soft-deletes a message the caller sent or received.
func (s *ChatService) DeleteMessage(ctx context.Context, me, messageID uint) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", messageID)
		}
		return nil, models.NewInternalError(err)
	}
	if msg.IsDeleted {
		return nil, models.NewNotFoundError("Message", messageID)
	}
	if !msg.Involves(me) {
		return nil, models.NewForbiddenError("You can only delete your own messages")
	}

	now := s.now()
	if err := s.messages.SoftDelete(ctx, messageID, now); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", messageID)
		}
		return nil, models.NewInternalError(err)
	}
	if !msg.IsRead {
		cache.InvalidateUnread(ctx, s.rdb, msg.ReceiverID)
	}

	msg.IsDeleted = true
	msg.DeletedAt = &now
	return msg, nil
}

// Search finds messages involving me whose content contains query. A non-zero
// otherID restricts the search to that conversation.
func (s *ChatService) Search(ctx context.Context, me uint, query string, otherID uint) ([]*models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}

	key := ""
	if otherID != 0 {
		key = conversation.Key(me, otherID)
	}
	found, err := s.messages.Search(ctx, me, query, key, SearchLimit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if found == nil {
		found = []*models.Message{}
	}
	return found, nil
}

// ListConversations returns one view per counterpart, most recent first.
func (s *ChatService) ListConversations(ctx context.Context, me uint) (views []models.ConversationView, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "ChatService", "ListConversations",
		attribute.Int64("chat.user_id", int64(me)),
	)
	defer func() { observability.EndSpan(span, err) }()

	latest, err := s.messages.LatestPerConversation(ctx, me)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	unread, err := s.messages.UnreadByConversation(ctx, me)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	otherIDs := make([]uint, 0, len(latest))
	for _, m := range latest {
		otherIDs = append(otherIDs, m.Counterpart(me))
	}
	users, err := s.users.GetByIDs(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	return BuildConversationViews(me, latest, unread, users, s.presence), nil
}

// BuildConversationViews joins the newest message of each conversation with
// its unread count and counterpart. The result is ordered by last message
// time, newest first, with ties broken by message id.
func BuildConversationViews(
	me uint,
	latest []*models.Message,
	unread []repository.ConversationUnread,
	users map[uint]*models.User,
	presence PresenceChecker,
) []models.ConversationView {
	counts := make(map[string]int64, len(unread))
	for _, u := range unread {
		counts[u.ConversationID] += u.Count
	}

	views := make([]models.ConversationView, 0, len(latest))
	seen := make(map[string]bool, len(latest))
	for _, m := range latest {
		if seen[m.ConversationID] {
			continue
		}
		seen[m.ConversationID] = true

		otherID := m.Counterpart(me)
		other := models.UserSummary{ID: otherID}
		if u, ok := users[otherID]; ok {
			other = u.Summary()
		}
		if presence != nil {
			other.Online = presence.IsOnline(otherID)
		}

		views = append(views, models.ConversationView{
			ConversationID: m.ConversationID,
			OtherUser:      other,
			LastMessage:    m.Snapshot(),
			UnreadCount:    counts[m.ConversationID],
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i].LastMessage, views[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return views
}

func (s *ChatService) summary(u *models.User) models.UserSummary {
	out := u.Summary()
	if s.presence != nil {
		out.Online = s.presence.IsOnline(u.ID)
	}
	return out
}
