package models

import "time"

// Notification types.
const (
	NotificationTypeMessage        = "message"
	NotificationTypePostAccepted   = "post_accepted"
	NotificationTypePostCompleted  = "post_completed"
	NotificationTypeReviewReceived = "review_received"
	NotificationTypeSystem         = "system"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Limits on notification text.
const (
	MaxNotificationTitle   = 100
	MaxNotificationMessage = 500
)

// Notification is an inbox entry for a user. Metadata is opaque; the chat
// core only fills the related message and user ids.
type Notification struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index:idx_notifications_user_read,priority:1" json:"userId"`
	Title            string         `gorm:"size:100;not null" json:"title"`
	Message          string         `gorm:"size:500;not null" json:"message"`
	Type             string         `gorm:"size:32;not null" json:"type"`
	RelatedPostID    *uint          `json:"relatedPost,omitempty"`
	RelatedUserID    *uint          `json:"relatedUser,omitempty"`
	RelatedMessageID *uint          `json:"relatedMessage,omitempty"`
	IsRead           bool           `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"isRead"`
	ReadAt           *time.Time     `json:"readAt,omitempty"`
	ActionURL        string         `json:"actionUrl,omitempty"`
	Priority         string         `gorm:"size:16;not null;default:'medium'" json:"priority"`
	ExpiresAt        *time.Time     `json:"expiresAt,omitempty"`
	Metadata         map[string]any `gorm:"type:json;serializer:json" json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// IsValidNotificationType reports whether t is a supported notification type.
func IsValidNotificationType(t string) bool {
	switch t {
	case NotificationTypeMessage, NotificationTypePostAccepted, NotificationTypePostCompleted,
		NotificationTypeReviewReceived, NotificationTypeSystem:
		return true
	}
	return false
}
