// Package chatclient is a Go client for the messaging API: a typed REST
// client and a Session that keeps one live socket per login and merges
// everything it hears into local State.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"helphub/internal/models"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// SendRequest is the body of POST /api/chat/send.
type SendRequest struct {
	ReceiverID  uint                `json:"receiverId"`
	Content     string              `json:"content"`
	MessageType string              `json:"messageType,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ReplyTo     *uint               `json:"replyTo,omitempty"`
}

// Client calls the REST API. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default 10s-timeout http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a client for the server at baseURL, e.g. http://localhost:8375.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken sets the bearer token sent with every request. Empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Send posts a message and returns it as stored.
func (c *Client) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversations lists the caller's conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationView, error) {
	var views []models.ConversationView
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Conversation fetches one page of history with otherID. Zero page or limit
// leaves the server defaults.
func (c *Client) Conversation(ctx context.Context, otherID uint, page, limit int) (*models.ConversationHistory, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var history models.ConversationHistory
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chat/conversation/%d", otherID), q, nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// MarkRead marks everything otherID sent the caller as read.
func (c *Client) MarkRead(ctx context.Context, otherID uint) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/chat/read/%d", otherID), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// UnreadCount returns the caller's unread message total.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/api/chat/unread-count")
}

// DeleteMessage soft-deletes a message the caller sent or received.
func (c *Client) DeleteMessage(ctx context.Context, messageID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chat/message/%d", messageID), nil, nil, nil)
}

// Search finds messages containing query; otherID restricts it to one conversation.
func (c *Client) Search(ctx context.Context, query string, otherID uint) ([]*models.Message, error) {
	q := url.Values{"query": {query}}
	if otherID != 0 {
		q.Set("userId", strconv.FormatUint(uint64(otherID), 10))
	}
	var msgs []*models.Message
	if err := c.do(ctx, http.MethodGet, "/api/chat/search", q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Notifications lists the caller's inbox.
func (c *Client) Notifications(ctx context.Context, page, limit int, unreadOnly bool) ([]*models.Notification, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var items []*models.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", q, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// NotificationUnreadCount returns how many inbox entries are unread.
func (c *Client) NotificationUnreadCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/api/notifications/unread-count")
}

// IssueTicket obtains a single-use websocket ticket.
func (c *Client) IssueTicket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ws/ticket", nil, nil, &out); err != nil {
		return "", err
	}
	if out.Ticket == "" {
		return "", errors.New("server returned an empty ticket")
	}
	return out.Ticket, nil
}

// SocketURL is the chat socket address authenticated by ticket.
func (c *Client) SocketURL(ticket string) string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/chat"
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String()
}

func (c *Client) count(ctx context.Context, path string) (int64, error) {
	var out struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// envelope is the {success, message, code, data} shape of every response.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
