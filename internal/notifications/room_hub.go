package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"helphub/internal/conversation"
	"helphub/internal/middleware"
	"helphub/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	// ErrUserConnLimit is returned when a user already holds maxConnsPerUser sockets.
	ErrUserConnLimit = errors.New("user connection limit reached")
	// ErrServerConnLimit is returned when the instance is full.
	ErrServerConnLimit = errors.New("server connection limit reached")
)

// roomEnvelope is what travels over Redis between instances.
type roomEnvelope struct {
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// RoomHub tracks local clients and their rooms: the personal room of each
// user and any conversation rooms they joined. Emits go through Redis when the
// hub is wired so members on other instances receive them too.
type RoomHub struct {
	mu         sync.RWMutex
	userConns  map[uint]map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	joined     map[*Client]map[string]struct{}
	totalConns int

	notifier *Notifier
	wired    atomic.Bool
	presence *ConnectionManager
	log      *observability.WSLogger
}

// NewRoomHub creates a hub. rdb may be nil for a single-instance deployment.
func NewRoomHub(rdb *redis.Client) *RoomHub {
	h := &RoomHub{
		userConns: make(map[uint]map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
		joined:    make(map[*Client]map[string]struct{}),
		notifier:  NewNotifier(rdb),
		log:       observability.NewWSLogger("chat"),
	}
	h.presence = NewConnectionManager(rdb, ConnectionManagerConfig{
		OnUserOnline:  func(id uint) { h.broadcastStatus(id, StatusOnline) },
		OnUserOffline: func(id uint) { h.broadcastStatus(id, StatusOffline) },
	})
	return h
}

// Name returns a human-readable identifier for this hub.
func (h *RoomHub) Name() string { return "chat hub" }

// Presence exposes the hub's connection manager.
func (h *RoomHub) Presence() *ConnectionManager { return h.presence }

// Log returns the hub's websocket event logger.
func (h *RoomHub) Log() *observability.WSLogger { return h.log }

// Register adds a connection for userID and joins it to the user's personal
// room. It fails when the per-user or instance limit is reached.
func (h *RoomHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	client := NewClient(h, conn, userID)
	if err := h.add(client); err != nil {
		return nil, err
	}
	return client, nil
}

func (h *RoomHub) add(client *Client) error {
	h.mu.Lock()
	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return ErrServerConnLimit
	}
	conns, ok := h.userConns[client.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.userConns[client.UserID] = conns
	}
	if len(conns) >= maxConnsPerUser {
		if len(conns) == 0 {
			delete(h.userConns, client.UserID)
		}
		h.mu.Unlock()
		return ErrUserConnLimit
	}
	conns[client] = struct{}{}
	h.totalConns++
	h.joinLocked(client, conversation.UserRoom(client.UserID))
	h.mu.Unlock()

	client.OnActivity = func(uid uint) { h.presence.Touch(context.Background(), uid) }
	middleware.ActiveWebSockets.Inc()
	h.log.LogConnect(context.Background(), client.UserID, client.ID)
	h.presence.Register(context.Background(), client.UserID)
	return nil
}

// UnregisterClient removes a connection from every room it joined and closes
// its outbound channel. Calling it twice is harmless.
func (h *RoomHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.userConns[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := conns[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.userConns, client.UserID)
	}
	h.totalConns--
	for room := range h.joined[client] {
		h.leaveLocked(client, room)
	}
	delete(h.joined, client)
	h.mu.Unlock()

	client.close()
	middleware.ActiveWebSockets.Dec()
	h.log.LogDisconnect(context.Background(), client.UserID, client.ID, "closed")
	h.presence.Unregister(context.Background(), client.UserID)
}

// Join adds the client to room. It reports false when the client was already
// a member or is no longer registered.
func (h *RoomHub) Join(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, registered := h.joined[client]; !registered {
		return false
	}
	return h.joinLocked(client, room)
}

func (h *RoomHub) joinLocked(client *Client, room string) bool {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, already := members[client]; already {
		return false
	}
	members[client] = struct{}{}

	rooms, ok := h.joined[client]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[client] = rooms
	}
	rooms[room] = struct{}{}
	observability.WebSocketRoomMembers.WithLabelValues(roomKind(room)).Inc()
	return true
}

// Leave removes the client from room. The personal room cannot be left.
func (h *RoomHub) Leave(client *Client, room string) {
	if room == conversation.UserRoom(client.UserID) {
		return
	}
	h.mu.Lock()
	h.leaveLocked(client, room)
	if rooms, ok := h.joined[client]; ok {
		delete(rooms, room)
	}
	h.mu.Unlock()
}

func (h *RoomHub) leaveLocked(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, member := members[client]; !member {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	observability.WebSocketRoomMembers.WithLabelValues(roomKind(room)).Dec()
}

// Rooms returns the rooms a client has joined.
func (h *RoomHub) Rooms(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[client]))
	for room := range h.joined[client] {
		out = append(out, room)
	}
	return out
}

// InRoom reports whether the client is a member of room.
func (h *RoomHub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][client]
	return ok
}

// MemberCount returns the number of local clients in room.
func (h *RoomHub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// IsOnline reports whether the user is connected on any instance.
func (h *RoomHub) IsOnline(userID uint) bool {
	return h.presence.IsOnline(context.Background(), userID)
}

// Emit sends an event to every member of room except the client with id
// exceptClientID. An empty exceptClientID reaches everyone.
func (h *RoomHub) Emit(ctx context.Context, room, eventType string, payload any, exceptClientID string) error {
	frame, err := EncodeFrame(eventType, payload)
	if err != nil {
		return err
	}
	observability.RecordWebSocketEvent(eventType)

	if h.wired.Load() {
		env, err := json.Marshal(roomEnvelope{Except: exceptClientID, Frame: frame})
		if err != nil {
			return err
		}
		err = h.notifier.PublishRoom(ctx, room, env)
		if err == nil {
			return nil
		}
		// Redis is down; local members still get it
		h.log.LogError(ctx, 0, room, err, eventType)
	}
	h.deliverLocal(room, frame, exceptClientID)
	return nil
}

// SendTo writes an event to a single client.
func (h *RoomHub) SendTo(client *Client, eventType string, payload any) error {
	frame, err := EncodeFrame(eventType, payload)
	if err != nil {
		return err
	}
	client.TrySend(frame)
	return nil
}

func (h *RoomHub) deliverLocal(room string, frame []byte, except string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if except != "" && c.ID == except {
			continue
		}
		c.TrySend(frame)
	}
}

// StartWiring subscribes to Redis room channels. Until it succeeds emits are
// delivered to local members only.
func (h *RoomHub) StartWiring(ctx context.Context) error {
	if !h.notifier.Enabled() {
		return nil
	}
	err := h.notifier.StartRoomSubscriber(ctx, func(room string, payload []byte) {
		if roomKind(room) == roomKindUnknown {
			middleware.Logger.Warn("dropped envelope for unknown room", slog.String("room", room))
			return
		}
		var env roomEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			middleware.Logger.Warn("invalid room envelope",
				slog.String("room", room),
				slog.String("error", err.Error()),
			)
			return
		}
		h.deliverLocal(room, env.Frame, env.Except)
	})
	if err != nil {
		return err
	}
	h.wired.Store(true)
	return nil
}

func (h *RoomHub) broadcastStatus(userID uint, status string) {
	frame, err := EncodeFrame(EventUserStatus, UserStatusPayload{UserID: userID, Status: status})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conns := range h.userConns {
		if id == userID {
			continue
		}
		for c := range conns {
			c.TrySend(frame)
		}
	}
}

// Shutdown queues a server-shutdown notice and a going-away close for every
// client, then waits for their write pumps to flush until ctx ends.
func (h *RoomHub) Shutdown(ctx context.Context) error {
	h.presence.Stop()

	frame, _ := EncodeFrame(EventServerShutdown, map[string]string{"message": "Server is shutting down"})
	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")

	var flushing []*Client
	h.mu.Lock()
	for _, conns := range h.userConns {
		for c := range conns {
			c.TrySend(frame)
			c.closeWith(goingAway)
			if c.Conn != nil && c.flushed != nil {
				flushing = append(flushing, c)
			}
			middleware.ActiveWebSockets.Dec()
		}
	}
	h.userConns = make(map[uint]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.joined = make(map[*Client]map[string]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	for _, c := range flushing {
		select {
		case <-c.flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

const (
	roomKindUser         = "user"
	roomKindConversation = "conversation"
	roomKindUnknown      = "unknown"
)

func roomKind(room string) string {
	if _, ok := conversation.IsUserRoom(room); ok {
		return roomKindUser
	}
	if _, _, err := conversation.Participants(room); err == nil {
		return roomKindConversation
	}
	return roomKindUnknown
}
