package models

import "time"

// Message kinds.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// MaxMessageLength bounds message content, counted in runes after trimming.
const MaxMessageLength = 1000

// Attachment references a file already stored elsewhere.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one directed chat message between two users. ConversationID is
// derived from the participant pair and never set by callers directly.
type Message struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	SenderID       uint         `gorm:"not null;index:idx_messages_participants,priority:1" json:"senderId"`
	Sender         *User        `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID     uint         `gorm:"not null;index:idx_messages_participants,priority:2;index:idx_messages_receiver_unread,priority:1" json:"receiverId"`
	Receiver       *User        `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	MessageType    string       `gorm:"size:16;not null;default:'text'" json:"messageType"`
	Attachments    []Attachment `gorm:"type:json;serializer:json" json:"attachments"`
	IsRead         bool         `gorm:"not null;default:false;index:idx_messages_receiver_unread,priority:2" json:"isRead"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	ConversationID string       `gorm:"size:64;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	ReplyToID      *uint        `json:"replyTo,omitempty"`
	IsEdited       bool         `gorm:"not null;default:false" json:"isEdited"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	IsDeleted      bool         `gorm:"not null;default:false" json:"isDeleted"`
	DeletedAt      *time.Time   `json:"deletedAt,omitempty"`
	CreatedAt      time.Time    `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// IsValidMessageType reports whether t is a supported message kind.
func IsValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Involves reports whether userID is the sender or receiver of m.
func (m *Message) Involves(userID uint) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the participant of m that is not userID.
func (m *Message) Counterpart(userID uint) uint {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
