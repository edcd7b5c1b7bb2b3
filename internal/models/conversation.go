package models

import "time"

// LastMessage is the snapshot of the newest message shown in a conversation list.
type LastMessage struct {
	ID          uint      `json:"id"`
	SenderID    uint      `json:"senderId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
	IsRead      bool      `json:"isRead"`
}

// ConversationView is the per-counterpart entry of a user's conversation list.
// It is computed on demand and never stored.
type ConversationView struct {
	ConversationID string      `json:"conversationId"`
	OtherUser      UserSummary `json:"otherUser"`
	LastMessage    LastMessage `json:"lastMessage"`
	UnreadCount    int64       `json:"unreadCount"`
}

// ConversationHistory is one page of messages with a counterpart, oldest first.
type ConversationHistory struct {
	Messages   []*Message  `json:"messages"`
	OtherUser  UserSummary `json:"otherUser"`
	Pagination Pagination  `json:"pagination"`
	// MarkedRead is how many messages this fetch flipped to read.
	MarkedRead int64 `json:"-"`
}

// Pagination describes the page returned in a history response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Count int `json:"count"`
}

// Snapshot returns the last-message projection of m.
func (m *Message) Snapshot() LastMessage {
	return LastMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
	}
}
