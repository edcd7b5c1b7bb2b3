package chatclient

import (
	"testing"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func message(id, from, to uint, at time.Time) *models.Message {
	return &models.Message{
		ID:             id,
		SenderID:       from,
		ReceiverID:     to,
		Content:        "m",
		MessageType:    models.MessageTypeText,
		ConversationID: conversation.Key(from, to),
		CreatedAt:      at,
	}
}

func ids(msgs []*models.Message) []uint {
	out := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestState_OpenHistoryMergesByIDInOrder(t *testing.T) {
	s := NewState(1)
	s.OpenConversation(2)

	s.ApplyMessage(message(3, 2, 1, t0.Add(2*time.Second)))
	s.ApplyMessage(message(1, 1, 2, t0))
	s.MergeHistory([]*models.Message{
		message(2, 2, 1, t0.Add(time.Second)),
		message(3, 2, 1, t0.Add(2*time.Second)),
	})
	// same timestamp falls back to id
	s.ApplyMessage(message(5, 1, 2, t0.Add(2*time.Second)))
	s.ApplyMessage(message(4, 2, 1, t0.Add(2*time.Second)))
	s.ApplyMessage(message(1, 1, 2, t0))

	assert.Equal(t, []uint{1, 2, 3, 4, 5}, ids(s.History()))
	assert.Zero(t, s.UnreadTotal())
}

func TestState_MessagesForOtherConversationsCountUnreadOnce(t *testing.T) {
	s := NewState(1)
	s.SetConversations([]models.ConversationView{
		{ConversationID: conversation.Key(1, 2), OtherUser: models.UserSummary{ID: 2}, LastMessage: models.LastMessage{ID: 1, CreatedAt: t0}},
		{ConversationID: conversation.Key(1, 3), OtherUser: models.UserSummary{ID: 3}, LastMessage: models.LastMessage{ID: 2, CreatedAt: t0.Add(-time.Hour)}},
	}, 0)
	s.OpenConversation(2)

	m := message(10, 3, 1, t0.Add(time.Minute))
	s.ApplyMessage(m)
	s.ApplyMessage(m)

	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, uint(3), convs[0].OtherUser.ID)
	assert.Equal(t, uint(10), convs[0].LastMessage.ID)
	assert.EqualValues(t, 1, convs[0].UnreadCount)
	assert.EqualValues(t, 1, s.UnreadTotal())
	assert.Empty(t, s.History())
}

func TestState_OwnMessagesAreNotUnread(t *testing.T) {
	s := NewState(1)
	s.ApplyMessage(message(7, 1, 4, t0))

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, conversation.Key(1, 4), convs[0].ConversationID)
	assert.Zero(t, convs[0].UnreadCount)
	assert.Zero(t, s.UnreadTotal())
}

func TestState_OpeningClearsUnread(t *testing.T) {
	s := NewState(1)
	s.ApplyMessage(message(1, 2, 1, t0))
	s.ApplyMessage(message(2, 2, 1, t0.Add(time.Second)))
	s.ApplyMessage(message(3, 3, 1, t0.Add(2*time.Second)))
	require.EqualValues(t, 3, s.UnreadTotal())

	s.OpenConversation(2)
	assert.EqualValues(t, 1, s.UnreadTotal())
	for _, v := range s.Conversations() {
		if v.OtherUser.ID == 2 {
			assert.Zero(t, v.UnreadCount)
		}
	}
}

func TestState_IgnoresForeignMessages(t *testing.T) {
	s := NewState(1)
	s.ApplyMessage(message(1, 2, 3, t0))
	s.ApplyMessage(nil)
	assert.Empty(t, s.Conversations())
}

func TestState_TypingAndPresence(t *testing.T) {
	s := NewState(1)
	s.SetConversations([]models.ConversationView{{OtherUser: models.UserSummary{ID: 2}}}, 0)

	s.SetTyping(2, true)
	assert.True(t, s.IsTyping(2))
	s.SetTyping(2, false)
	assert.False(t, s.IsTyping(2))

	s.SetOnline(2, true)
	assert.True(t, s.IsOnline(2))
	assert.True(t, s.Conversations()[0].OtherUser.Online)
}

func TestState_ReadReceiptFlagsMyMessages(t *testing.T) {
	s := NewState(1)
	s.OpenConversation(2)
	s.ApplyMessage(message(1, 1, 2, t0))
	s.ApplyMessage(message(2, 2, 1, t0.Add(time.Second)))

	s.MarkReadByPeer(2)
	h := s.History()
	assert.True(t, h[0].IsRead)
	assert.False(t, h[1].IsRead)
}
