package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/models"
	"helphub/internal/notifications"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	defaultRedialInterval = 500 * time.Millisecond
	maxRedialInterval     = 30 * time.Second
)

// ErrNotAuthenticated is returned when an operation needs a token and none is set.
var ErrNotAuthenticated = errors.New("chatclient: not authenticated")

// Notice is a receive-notification payload.
type Notice struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	SenderID       uint   `json:"senderId"`
	ConversationID string `json:"conversationId"`
}

// Session owns at most one live socket for the current login and keeps State
// in sync with it.
type Session struct {
	api    *Client
	dialer *websocket.Dialer
	state  *State
	log    *slog.Logger

	onNotice func(Notice)
	onFrame  func(notifications.Frame)

	redialInterval time.Duration

	// mu serialises token changes, dials and teardown
	mu    sync.Mutex
	token string
	link  *link
}

// link is one socket connection and its read loop.
type link struct {
	conn    *websocket.Conn
	done    chan struct{}
	dead    atomic.Bool
	writeMu sync.Mutex
}

func (l *link) alive() bool { return l != nil && !l.dead.Load() }

func (l *link) write(eventType string, payload any) error {
	frame, err := notifications.EncodeFrame(eventType, payload)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithRedialInterval sets the first wait of Reconnect's backoff.
func WithRedialInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.redialInterval = d }
}

// OnNotice registers a callback for receive-notification events.
func OnNotice(fn func(Notice)) SessionOption {
	return func(s *Session) { s.onNotice = fn }
}

// OnFrame registers a callback that sees every frame after State is updated.
func OnFrame(fn func(notifications.Frame)) SessionOption {
	return func(s *Session) { s.onFrame = fn }
}

// NewSession creates a logged-out session on top of api.
func NewSession(api *Client, opts ...SessionOption) *Session {
	s := &Session{
		api:    api,
		dialer: websocket.DefaultDialer,
		state:  NewState(0),
		log:    slog.Default(),

		redialInterval: defaultRedialInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State exposes the session's local state.
func (s *Session) State() *State { return s.state }

// API exposes the REST client.
func (s *Session) API() *Client { return s.api }

// Connected reports whether the socket is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.alive()
}

// SetToken switches the session to a new login. Any existing socket is torn
// down first; a non-empty token then dials a fresh one. An empty token logs out.
func (s *Session) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.token = token
	s.api.SetToken(token)

	if token == "" {
		s.state.Reset(0)
		return nil
	}
	me, err := subjectOf(token)
	if err != nil {
		return err
	}
	s.state.Reset(me)
	return s.dialLocked(ctx)
}

// EnsureConnected dials when logged in without a live socket.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return ErrNotAuthenticated
	}
	if s.link.alive() {
		return nil
	}
	s.teardownLocked()
	return s.dialLocked(ctx)
}

// Reconnect redials with exponential backoff until a socket is live. It stops
// early when ctx ends, when the session is logged out, or when the server
// rejects the token.
func (s *Session) Reconnect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.redialInterval
	policy.MaxInterval = maxRedialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.EnsureConnected(ctx)
		if errors.Is(err, ErrNotAuthenticated) || IsStatus(err, http.StatusUnauthorized) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			s.log.Warn("redial failed", slog.String("error", err.Error()))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy))
	return err
}

// Disconnected returns a channel that is closed once the current socket is
// gone, whether the server dropped it or Close ended it. Without a socket the
// channel is already closed.
func (s *Session) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.link.done
}

// Close releases the socket and waits for its read loop. The token is kept,
// so EnsureConnected can dial again.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

// Open makes counterpart the open conversation, joins its room when
// connected and merges the first page of history.
func (s *Session) Open(ctx context.Context, counterpart uint) error {
	prev := s.state.Open()
	s.state.OpenConversation(counterpart)

	if l := s.currentLink(); l.alive() {
		if prev != 0 && prev != counterpart {
			_ = l.write(notifications.EventLeaveChat, map[string]uint{"receiverId": prev})
		}
		if err := l.write(notifications.EventJoinChat, map[string]uint{"receiverId": counterpart}); err != nil {
			s.log.Warn("join-chat failed", slog.String("error", err.Error()))
		}
	}

	history, err := s.api.Conversation(ctx, counterpart, 0, 0)
	if err != nil {
		return err
	}
	s.state.MergeHistory(history.Messages)
	return nil
}

// Send delivers content to receiver. With a live socket the message goes out
// as send-message and comes back as receive-message, so the returned message
// is nil. Without one it is posted over REST and merged right away.
func (s *Session) Send(ctx context.Context, receiver uint, content string) (*models.Message, error) {
	if l := s.currentLink(); l.alive() {
		err := l.write(notifications.EventSendMessage, SendRequest{ReceiverID: receiver, Content: content})
		if err == nil {
			return nil, nil
		}
		s.log.Warn("socket send failed, falling back to REST", slog.String("error", err.Error()))
	}

	msg, err := s.api.Send(ctx, SendRequest{ReceiverID: receiver, Content: content})
	if err != nil {
		return nil, err
	}
	s.state.ApplyMessage(msg)
	return msg, nil
}

// Typing tells receiver whether I am typing. It is a no-op when offline.
func (s *Session) Typing(receiver uint, typing bool) error {
	l := s.currentLink()
	if !l.alive() {
		return nil
	}
	event := notifications.EventTyping
	if !typing {
		event = notifications.EventStopTyping
	}
	return l.write(event, map[string]any{"receiverId": receiver, "isTyping": typing})
}

// Refresh reloads the conversation list and the unread total.
func (s *Session) Refresh(ctx context.Context) error {
	views, err := s.api.Conversations(ctx)
	if err != nil {
		return err
	}
	total, err := s.api.UnreadCount(ctx)
	if err != nil {
		return err
	}
	s.state.SetConversations(views, total)
	return nil
}

func (s *Session) currentLink() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) dialLocked(ctx context.Context) error {
	ticket, err := s.api.IssueTicket(ctx)
	if err != nil {
		return fmt.Errorf("issue ticket: %w", err)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.api.SocketURL(ticket), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial chat socket: %w", err)
	}

	l := &link{conn: conn, done: make(chan struct{})}
	s.link = l
	go s.readLoop(l)

	if err := l.write(notifications.EventJoinUserRoom, map[string]uint{"userId": s.state.Me()}); err != nil {
		return fmt.Errorf("join user room: %w", err)
	}
	if open := s.state.Open(); open != 0 {
		_ = l.write(notifications.EventJoinChat, map[string]uint{"receiverId": open})
	}
	return nil
}

func (s *Session) teardownLocked() {
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	l.writeMu.Lock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.writeMu.Unlock()
	_ = l.conn.Close()
	<-l.done
}

func (s *Session) readLoop(l *link) {
	defer func() {
		l.dead.Store(true)
		_ = l.conn.Close()
		close(l.done)
	}()
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("chat socket closed", slog.String("error", err.Error()))
			}
			return
		}
		frame, err := notifications.DecodeFrame(raw)
		if err != nil {
			s.log.Warn("undecodable frame", slog.String("error", err.Error()))
			continue
		}
		s.route(frame)
	}
}

// route applies one server frame to State.
func (s *Session) route(f notifications.Frame) {
	switch f.Type {
	case notifications.EventReceiveMessage:
		var msg models.Message
		if s.decode(f, &msg) {
			s.state.ApplyMessage(&msg)
		}
	case notifications.EventUserTyping, notifications.EventUserStopTyping:
		var p struct {
			SenderID       uint   `json:"senderId"`
			IsTyping       bool   `json:"isTyping"`
			ConversationID string `json:"conversationId"`
		}
		if s.decode(f, &p) {
			if peer, ok := s.counterpartOf(p.ConversationID, p.SenderID); ok && peer == p.SenderID {
				s.state.SetTyping(peer, p.IsTyping && f.Type == notifications.EventUserTyping)
			}
		}
	case notifications.EventUserStatus:
		var p notifications.UserStatusPayload
		if s.decode(f, &p) {
			s.state.SetOnline(p.UserID, p.Status == notifications.StatusOnline)
		}
	case notifications.EventMessagesRead:
		var p struct {
			ReaderID       uint   `json:"readerId"`
			ConversationID string `json:"conversationId"`
		}
		if !s.decode(f, &p) || p.ReaderID == s.state.Me() {
			break
		}
		if peer, ok := s.counterpartOf(p.ConversationID, p.ReaderID); ok && peer == p.ReaderID {
			s.state.MarkReadByPeer(peer)
		}
	case notifications.EventReceiveNotification:
		var n Notice
		if s.decode(f, &n) && s.onNotice != nil {
			s.onNotice(n)
		}
	case notifications.EventError:
		s.log.Warn("server rejected a frame", slog.String("payload", string(f.Payload)))
	}
	if s.onFrame != nil {
		s.onFrame(f)
	}
}

// counterpartOf returns the other participant of the conversation a frame is
// about. Frames without a key fall back to the id they carry; frames for a
// conversation I am not part of yield false.
func (s *Session) counterpartOf(key string, fallback uint) (uint, bool) {
	if key == "" {
		return fallback, fallback != 0
	}
	return conversation.Other(key, s.state.Me())
}

func (s *Session) decode(f notifications.Frame, v any) bool {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		s.log.Warn("bad frame payload", slog.String("type", f.Type), slog.String("error", err.Error()))
		return false
	}
	return true
}

// subjectOf reads the user id from a token without verifying it; the server
// does the verification.
func subjectOf(token string) (uint, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, errors.New("token has no subject")
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("token subject %q is not a user id", sub)
	}
	return uint(id), nil
}
