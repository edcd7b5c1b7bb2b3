package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/models"
	"helphub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestChatService_SendMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob := createUser(t, f.db), createUser(t, f.db)

	msg, err := f.svc.SendMessage(ctx, SendMessageInput{
		SenderID:   alice.ID,
		ReceiverID: bob.ID,
		Content:    "  Hello  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	assert.Equal(t, conversation.Key(alice.ID, bob.ID), msg.ConversationID)
	assert.False(t, msg.IsRead)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, alice.Name, msg.Sender.Name)

	var notes []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", bob.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, NewMessageTitle, notes[0].Title)
	assert.Equal(t, "You have a new message from "+alice.Name, notes[0].Message)
	assert.Equal(t, models.NotificationTypeMessage, notes[0].Type)
	require.NotNil(t, notes[0].RelatedMessageID)
	assert.Equal(t, msg.ID, *notes[0].RelatedMessageID)
	require.NotNil(t, notes[0].RelatedUserID)
	assert.Equal(t, alice.ID, *notes[0].RelatedUserID)
}

func TestChatService_SendMessageValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(in *SendMessageInput)
		wantCode string
	}{
		{"missing receiver", func(in *SendMessageInput) { in.ReceiverID = 0 }, models.CodeValidation},
		{"self message", func(in *SendMessageInput) { in.ReceiverID = in.SenderID }, models.CodeValidation},
		{"blank content", func(in *SendMessageInput) { in.Content = "   " }, models.CodeValidation},
		{"content too long", func(in *SendMessageInput) { in.Content = strings.Repeat("a", 1001) }, models.CodeValidation},
		{"bad message type", func(in *SendMessageInput) { in.MessageType = "video" }, models.CodeValidation},
		{"attachment without url", func(in *SendMessageInput) {
			in.Attachments = []models.Attachment{{Filename: "a.txt"}}
		}, models.CodeValidation},
		{"unknown receiver", func(in *SendMessageInput) { in.ReceiverID = 9999 }, models.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &notifierMock{}
			db := setupTestDB(t)
			svc := NewChatService(repository.NewMessageRepository(db), repository.NewUserRepository(db, nil), notifier)
			alice, bob := createUser(t, db), createUser(t, db)

			in := SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: "hi"}
			tt.mutate(&in)

			_, err := svc.SendMessage(ctx, in)
			require.Error(t, err)
			assert.True(t, models.HasCode(err, tt.wantCode), "got %v", err)

			var count int64
			require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
			assert.Zero(t, count)
			notifier.AssertNotCalled(t, "NotifyNewMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestChatService_SendMessageAcceptsMaxLength(t *testing.T) {
	f := newChatFixture(t)
	alice, bob := createUser(t, f.db), createUser(t, f.db)

	// multi-byte runes count once each
	content := strings.Repeat("é", models.MaxMessageLength)
	msg, err := f.svc.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: content})
	require.NoError(t, err)
	assert.Equal(t, content, msg.Content)
}

func TestChatService_SendMessageNotifierAndSink(t *testing.T) {
	db := setupTestDB(t)
	alice, bob := createUser(t, db), createUser(t, db)

	notifier := &notifierMock{}
	notifier.On("NotifyNewMessage", mock.Anything, mock.MatchedBy(func(m *models.Message) bool {
		return m.SenderID == alice.ID && m.ReceiverID == bob.ID
	})).Once()
	sink := &sinkStub{err: errors.New("stream unavailable")}

	svc := NewChatService(repository.NewMessageRepository(db), repository.NewUserRepository(db, nil), notifier, WithMessageSink(sink))
	msg, err := svc.SendMessage(context.Background(), SendMessageInput{
		SenderID:   alice.ID,
		ReceiverID: bob.ID,
		Content:    "hi",
		Channel:    ChannelSocket,
	})

	// a failing sink does not fail the send
	require.NoError(t, err)
	notifier.AssertExpectations(t)
	require.Len(t, sink.published, 1)
	assert.Equal(t, msg.ID, sink.published[0].ID)
}

func TestChatService_SendMessageReplyTo(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob, carol := createUser(t, f.db), createUser(t, f.db), createUser(t, f.db)

	original := insertMessage(t, f.db, bob.ID, alice.ID, "question", f.now.Add(-time.Minute))
	elsewhere := insertMessage(t, f.db, carol.ID, alice.ID, "other", f.now.Add(-time.Minute))

	reply, err := f.svc.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: "answer", ReplyToID: &original.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, original.ID, *reply.ReplyToID)

	_, err = f.svc.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: "answer", ReplyToID: &elsewhere.ID})
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestChatService_GetConversationReadOnFetch(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob := createUser(t, f.db), createUser(t, f.db)

	_, err := f.svc.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ReceiverID: bob.ID, Content: "Hello"})
	require.NoError(t, err)

	before, err := f.svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), before)

	history, err := f.svc.GetConversation(ctx, GetConversationInput{UserID: bob.ID, OtherID: alice.ID})
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "Hello", history.Messages[0].Content)
	assert.Equal(t, alice.ID, history.Messages[0].SenderID)
	assert.True(t, history.Messages[0].IsRead)
	require.NotNil(t, history.Messages[0].ReadAt)
	assert.True(t, f.now.Equal(*history.Messages[0].ReadAt))
	assert.Equal(t, int64(1), history.MarkedRead)
	assert.Equal(t, alice.ID, history.OtherUser.ID)
	assert.Equal(t, models.Pagination{Page: 1, Limit: DefaultPageSize, Count: 1}, history.Pagination)

	after, err := f.svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, after)
}

func TestChatService_GetConversationSenderDoesNotMarkOwnMessages(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob := createUser(t, f.db), createUser(t, f.db)
	insertMessage(t, f.db, alice.ID, bob.ID, "ping", f.now.Add(-time.Minute))

	history, err := f.svc.GetConversation(ctx, GetConversationInput{UserID: alice.ID, OtherID: bob.ID})
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.False(t, history.Messages[0].IsRead)
	assert.Zero(t, history.MarkedRead)

	count, err := f.svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// cancellingRepo cancels the request context once the page has been read,
// like a client aborting while the response is in flight.
type cancellingRepo struct {
	repository.MessageRepository
	cancel context.CancelFunc
}

func (r *cancellingRepo) ListConversation(ctx context.Context, key string, limit, offset int) ([]*models.Message, error) {
	msgs, err := r.MessageRepository.ListConversation(ctx, key, limit, offset)
	r.cancel()
	return msgs, err
}

func TestChatService_GetConversationCancelledLeavesUnread(t *testing.T) {
	db := setupTestDB(t)
	alice, bob := createUser(t, db), createUser(t, db)
	insertMessage(t, db, alice.ID, bob.ID, "are you there?", time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := repository.NewMessageRepository(db)
	svc := NewChatService(&cancellingRepo{MessageRepository: messages, cancel: cancel}, repository.NewUserRepository(db, nil), nil)

	_, err := svc.GetConversation(ctx, GetConversationInput{UserID: bob.ID, OtherID: alice.ID})
	require.ErrorIs(t, err, context.Canceled)

	count, err := messages.CountUnread(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestChatService_GetConversationPagination(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob := createUser(t, f.db), createUser(t, f.db)
	base := f.now.Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insertMessage(t, f.db, alice.ID, bob.ID, string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}

	page1, err := f.svc.GetConversation(ctx, GetConversationInput{UserID: alice.ID, OtherID: bob.ID, Page: 1, Limit: 2})
	require.NoError(t, err)
	page2, err := f.svc.GetConversation(ctx, GetConversationInput{UserID: alice.ID, OtherID: bob.ID, Page: 2, Limit: 2})
	require.NoError(t, err)

	contents := func(ms []*models.Message) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.Content)
		}
		return out
	}
	assert.Equal(t, []string{"d", "e"}, contents(page1.Messages))
	assert.Equal(t, []string{"b", "c"}, contents(page2.Messages))

	_, err = f.svc.GetConversation(ctx, GetConversationInput{UserID: alice.ID, OtherID: 9999})
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestChatService_MarkReadIdempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob := createUser(t, f.db), createUser(t, f.db)
	for i := 0; i < 3; i++ {
		insertMessage(t, f.db, alice.ID, bob.ID, "msg", f.now.Add(time.Duration(-i)*time.Minute))
	}

	n, err := f.svc.MarkRead(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = f.svc.MarkRead(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := f.svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.MarkRead(ctx, bob.ID, bob.ID)
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestChatService_DeleteMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob, carol := createUser(t, f.db), createUser(t, f.db), createUser(t, f.db)
	msg := insertMessage(t, f.db, alice.ID, bob.ID, "oops", f.now.Add(-time.Minute))

	t.Run("third party is forbidden", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(ctx, carol.ID, msg.ID)
		assert.True(t, models.HasCode(err, models.CodeForbidden))
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(ctx, alice.ID, 9999)
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("receiver may delete", func(t *testing.T) {
		deleted, err := f.svc.DeleteMessage(ctx, bob.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)

		var row models.Message
		require.NoError(t, f.db.First(&row, msg.ID).Error)
		assert.True(t, row.IsDeleted)
		require.NotNil(t, row.DeletedAt)
	})

	t.Run("already deleted", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(ctx, alice.ID, msg.ID)
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("hidden from history and unread", func(t *testing.T) {
		history, err := f.svc.GetConversation(ctx, GetConversationInput{UserID: bob.ID, OtherID: alice.ID})
		require.NoError(t, err)
		assert.Empty(t, history.Messages)

		count, err := f.svc.UnreadCount(ctx, bob.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestChatService_Search(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob, carol := createUser(t, f.db), createUser(t, f.db), createUser(t, f.db)
	insertMessage(t, f.db, alice.ID, bob.ID, "Can you help me MOVE a sofa?", f.now.Add(-3*time.Minute))
	insertMessage(t, f.db, carol.ID, alice.ID, "I can move boxes", f.now.Add(-2*time.Minute))
	insertMessage(t, f.db, bob.ID, carol.ID, "move elsewhere", f.now.Add(-time.Minute))

	found, err := f.svc.Search(ctx, alice.ID, "move", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "I can move boxes", found[0].Content)

	found, err = f.svc.Search(ctx, alice.ID, "move", bob.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = f.svc.Search(ctx, alice.ID, "nothing here", 0)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	_, err = f.svc.Search(ctx, alice.ID, "  ", 0)
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestChatService_ListConversations(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice, bob, carol, dave := createUser(t, f.db), createUser(t, f.db), createUser(t, f.db), createUser(t, f.db)
	f.svc.presence = presenceStub{carol.ID: true}

	t.Run("empty list", func(t *testing.T) {
		views, err := f.svc.ListConversations(ctx, dave.ID)
		require.NoError(t, err)
		assert.NotNil(t, views)
		assert.Empty(t, views)
	})

	base := f.now.Add(-time.Hour)
	insertMessage(t, f.db, bob.ID, alice.ID, "one", base)
	insertMessage(t, f.db, bob.ID, alice.ID, "two", base.Add(time.Minute))
	third := insertMessage(t, f.db, bob.ID, alice.ID, "three", base.Add(2*time.Minute))
	insertMessage(t, f.db, carol.ID, alice.ID, "hey", base.Add(5*time.Minute))
	newest := insertMessage(t, f.db, alice.ID, carol.ID, "reply", base.Add(6*time.Minute))
	gone := insertMessage(t, f.db, alice.ID, bob.ID, "deleted", base.Add(10*time.Minute))
	_, err := f.svc.DeleteMessage(ctx, alice.ID, gone.ID)
	require.NoError(t, err)

	views, err := f.svc.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, carol.ID, views[0].OtherUser.ID)
	assert.Equal(t, newest.ID, views[0].LastMessage.ID)
	assert.Equal(t, int64(1), views[0].UnreadCount)
	assert.True(t, views[0].OtherUser.Online)

	assert.Equal(t, bob.ID, views[1].OtherUser.ID)
	assert.Equal(t, bob.Name, views[1].OtherUser.Name)
	assert.Equal(t, third.ID, views[1].LastMessage.ID, "deleted message falls back to the next newest")
	assert.Equal(t, int64(3), views[1].UnreadCount)
	assert.False(t, views[1].OtherUser.Online)

	var sum int64
	for _, v := range views {
		sum += v.UnreadCount
	}
	total, err := f.svc.UnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, total, sum)
}

func TestBuildConversationViews(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	latest := []*models.Message{
		{ID: 4, SenderID: 1, ReceiverID: 2, ConversationID: "1-2", CreatedAt: at},
		{ID: 7, SenderID: 3, ReceiverID: 1, ConversationID: "1-3", CreatedAt: at},
		{ID: 9, SenderID: 1, ReceiverID: 4, ConversationID: "1-4", CreatedAt: at.Add(time.Second)},
	}
	unread := []repository.ConversationUnread{{ConversationID: "1-3", Count: 2}}
	users := map[uint]*models.User{2: {ID: 2, Name: "Bea"}}

	views := BuildConversationViews(1, latest, unread, users, nil)
	require.Len(t, views, 3)
	assert.Equal(t, "1-4", views[0].ConversationID)
	assert.Equal(t, "1-3", views[1].ConversationID, "same timestamp orders by id desc")
	assert.Equal(t, "1-2", views[2].ConversationID)

	assert.Equal(t, int64(2), views[1].UnreadCount)
	assert.Equal(t, uint(3), views[1].OtherUser.ID)
	assert.Equal(t, "Bea", views[2].OtherUser.Name)
	assert.Equal(t, uint(4), views[0].OtherUser.ID)

	assert.NotNil(t, BuildConversationViews(1, nil, nil, nil, nil))
}
