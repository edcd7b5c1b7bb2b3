// Package notifications is the realtime transport: websocket clients, room
// fan-out across instances, presence and the durable message stream.
package notifications

import "encoding/json"

// Client to server events.
const (
	EventJoinUserRoom = "join-user-room"
	EventJoinChat     = "join-chat"
	EventLeaveChat    = "leave-chat"
	EventSendMessage  = "send-message"
	EventTyping       = "typing"
	EventStopTyping   = "stop-typing"
	EventMarkRead     = "mark-read"
)

// Server to client events.
const (
	EventConnected           = "connected"
	EventReceiveMessage      = "receive-message"
	EventReceiveNotification = "receive-notification"
	EventUserTyping          = "user-typing"
	EventUserStopTyping      = "user-stop-typing"
	EventUserStatus          = "user-status"
	EventMessagesRead        = "messages-read"
	EventMessagesDropped     = "messages_dropped"
	EventServerShutdown      = "server_shutdown"
	EventError               = "error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame marshals payload into a frame of the given type.
func EncodeFrame(eventType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Type: eventType, Payload: raw})
}

// DecodeFrame parses an incoming frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// UserStatusPayload announces a presence transition.
type UserStatusPayload struct {
	UserID uint   `json:"userId"`
	Status string `json:"status"`
}

// Presence states carried by user-status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
