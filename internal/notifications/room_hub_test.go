package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"helphub/internal/conversation"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, rdb *redis.Client) *RoomHub {
	t.Helper()
	hub := NewRoomHub(rdb)
	hub.presence.SetOfflineGracePeriod(20 * time.Millisecond)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	return hub
}

func connect(t *testing.T, hub *RoomHub, userID uint) *Client {
	t.Helper()
	c := NewClient(hub, nil, userID)
	require.NoError(t, hub.add(c))
	return c
}

// next returns the next frame of the given type, skipping presence chatter.
func next(t *testing.T, c *Client, eventType string) Frame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw, ok := <-c.Send:
			require.True(t, ok, "send channel closed")
			f, err := DecodeFrame(raw)
			require.NoError(t, err)
			if f.Type == eventType {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame for user %d", eventType, c.UserID)
			return Frame{}
		}
	}
}

func assertNoFrame(t *testing.T, c *Client, eventType string) {
	t.Helper()
	for {
		select {
		case raw := <-c.Send:
			f, err := DecodeFrame(raw)
			require.NoError(t, err)
			assert.NotEqual(t, eventType, f.Type, "unexpected %s frame for user %d", eventType, c.UserID)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestRoomHub_RegisterJoinsPersonalRoom(t *testing.T) {
	hub := newTestHub(t, nil)
	c := connect(t, hub, 7)

	assert.True(t, hub.InRoom(c, conversation.UserRoom(7)))
	assert.Equal(t, []string{"user-7"}, hub.Rooms(c))
	assert.True(t, hub.IsOnline(7))
	assert.NotEmpty(t, c.ID)
}

func TestRoomHub_JoinIsIdempotent(t *testing.T) {
	hub := newTestHub(t, nil)
	c := connect(t, hub, 1)
	room := conversation.Key(1, 2)

	assert.True(t, hub.Join(c, room))
	assert.False(t, hub.Join(c, room))
	assert.Equal(t, 1, hub.MemberCount(room))

	require.NoError(t, hub.Emit(context.Background(), room, EventReceiveMessage, map[string]string{"content": "hi"}, ""))
	next(t, c, EventReceiveMessage)
	assertNoFrame(t, c, EventReceiveMessage)
}

func TestRoomHub_EmitExcludesOrigin(t *testing.T) {
	hub := newTestHub(t, nil)
	alice, bob := connect(t, hub, 1), connect(t, hub, 2)
	room := conversation.Key(1, 2)
	hub.Join(alice, room)
	hub.Join(bob, room)

	require.NoError(t, hub.Emit(context.Background(), room, EventUserTyping, map[string]any{"senderId": 1, "isTyping": true}, alice.ID))

	f := next(t, bob, EventUserTyping)
	var payload struct {
		SenderID uint `json:"senderId"`
		IsTyping bool `json:"isTyping"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, uint(1), payload.SenderID)
	assert.True(t, payload.IsTyping)
	assertNoFrame(t, alice, EventUserTyping)
}

func TestRoomHub_MultiDeviceAndNonMembers(t *testing.T) {
	hub := newTestHub(t, nil)
	phone, laptop := connect(t, hub, 1), connect(t, hub, 1)
	bob, carol := connect(t, hub, 2), connect(t, hub, 3)
	room := conversation.Key(1, 2)
	hub.Join(phone, room)
	hub.Join(laptop, room)
	hub.Join(bob, room)

	require.NoError(t, hub.Emit(context.Background(), room, EventReceiveMessage, map[string]string{"content": "x"}, ""))

	next(t, phone, EventReceiveMessage)
	next(t, laptop, EventReceiveMessage)
	next(t, bob, EventReceiveMessage)
	assertNoFrame(t, carol, EventReceiveMessage)
}

func TestRoomHub_LeaveAndUnregister(t *testing.T) {
	hub := newTestHub(t, nil)
	c := connect(t, hub, 1)
	room := conversation.Key(1, 2)
	hub.Join(c, room)

	hub.Leave(c, conversation.UserRoom(1))
	assert.True(t, hub.InRoom(c, conversation.UserRoom(1)), "personal room stays joined")

	hub.Leave(c, room)
	assert.Zero(t, hub.MemberCount(room))

	hub.Join(c, room)
	hub.UnregisterClient(c)
	assert.Zero(t, hub.MemberCount(room))
	assert.Zero(t, hub.MemberCount(conversation.UserRoom(1)))
	assert.False(t, hub.Join(c, room), "unregistered clients cannot join")

	_, open := <-c.Send
	assert.False(t, open)

	// second unregister is a no-op
	hub.UnregisterClient(c)
}

func TestRoomHub_ConnectionLimit(t *testing.T) {
	hub := newTestHub(t, nil)
	for i := 0; i < maxConnsPerUser; i++ {
		connect(t, hub, 5)
	}
	err := hub.add(NewClient(hub, nil, 5))
	assert.ErrorIs(t, err, ErrUserConnLimit)

	_, err = hub.Register(6, nil)
	assert.NoError(t, err)
}

func TestRoomHub_PresenceStatus(t *testing.T) {
	hub := newTestHub(t, nil)
	watcher := connect(t, hub, 1)

	c := connect(t, hub, 2)
	f := next(t, watcher, EventUserStatus)
	var status UserStatusPayload
	require.NoError(t, json.Unmarshal(f.Payload, &status))
	assert.Equal(t, UserStatusPayload{UserID: 2, Status: StatusOnline}, status)

	hub.UnregisterClient(c)
	f = next(t, watcher, EventUserStatus)
	require.NoError(t, json.Unmarshal(f.Payload, &status))
	assert.Equal(t, UserStatusPayload{UserID: 2, Status: StatusOffline}, status)
	assert.False(t, hub.IsOnline(2))
}

func TestRoomHub_CrossInstanceFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdbA.Close(); _ = rdbB.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, hubB := newTestHub(t, rdbA), newTestHub(t, rdbB)
	require.NoError(t, hubA.StartWiring(ctx))
	require.NoError(t, hubB.StartWiring(ctx))

	alice := connect(t, hubA, 1)
	bob := connect(t, hubB, 2)
	room := conversation.Key(1, 2)
	hubA.Join(alice, room)
	hubB.Join(bob, room)

	require.NoError(t, hubA.Emit(ctx, room, EventUserTyping, map[string]any{"senderId": 1}, alice.ID))
	next(t, bob, EventUserTyping)
	assertNoFrame(t, alice, EventUserTyping)

	require.NoError(t, hubB.Emit(ctx, conversation.UserRoom(1), EventReceiveNotification, map[string]string{"title": "New Message"}, ""))
	next(t, alice, EventReceiveNotification)

	assert.True(t, hubB.IsOnline(1), "presence is shared through redis")
}

func TestRoomHub_ShutdownHandsFramesToWritePump(t *testing.T) {
	hub := NewRoomHub(nil)
	c := connect(t, hub, 1)
	c.TrySend([]byte(`{"type":"receive-message","payload":{}}`))

	require.NoError(t, hub.Shutdown(context.Background()))

	// queued frames come first, then the notice, then the channel closes
	f := next(t, c, EventReceiveMessage)
	assert.Equal(t, EventReceiveMessage, f.Type)
	f = next(t, c, EventServerShutdown)
	assert.JSONEq(t, `{"message":"Server is shutting down"}`, string(f.Payload))
	_, open := <-c.Send
	assert.False(t, open)

	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"), c.closeFrame)
	assert.Zero(t, hub.MemberCount(conversation.UserRoom(1)))
	assert.False(t, c.TrySend([]byte(`{"type":"late"}`)))
}

func TestRoomHub_ShutdownWaitsForFlushUntilDeadline(t *testing.T) {
	hub := NewRoomHub(nil)
	c := connect(t, hub, 1)
	// a write pump that never finishes
	c.Conn = &websocket.Conn{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Shutdown(ctx), context.DeadlineExceeded)
}

func TestRoomKind(t *testing.T) {
	assert.Equal(t, roomKindUser, roomKind(conversation.UserRoom(4)))
	assert.Equal(t, roomKindConversation, roomKind(conversation.Key(4, 9)))
	assert.Equal(t, roomKindUnknown, roomKind("lobby"))
	assert.Equal(t, roomKindUnknown, roomKind("4-x"))
}

func TestClient_TrySendBackpressure(t *testing.T) {
	c := &Client{ID: "c1", UserID: 1, Send: make(chan []byte, 1)}

	assert.True(t, c.TrySend([]byte(`{"type":"a"}`)))
	assert.False(t, c.TrySend([]byte(`{"type":"b"}`)))
	assert.Len(t, c.Send, 1)

	c.close()
	assert.False(t, c.TrySend([]byte(`{"type":"c"}`)))
}

func TestEncodeFrame(t *testing.T) {
	raw, err := EncodeFrame(EventConnected, map[string]uint{"userId": 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","payload":{"userId":4}}`, string(raw))

	raw, err = EncodeFrame(EventMessagesDropped, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"messages_dropped"}`, string(raw))

	f, err := DecodeFrame([]byte(`{"type":"typing","payload":{"receiverId":2}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTyping, f.Type)
	assert.JSONEq(t, `{"receiverId":2}`, string(f.Payload))
}

func TestRoomChannel(t *testing.T) {
	assert.Equal(t, "chat:room:3-7", RoomChannel("3-7"))
	assert.NoError(t, NewNotifier(nil).PublishRoom(context.Background(), "3-7", []byte("x")))
	assert.False(t, NewNotifier(nil).Enabled())
}
