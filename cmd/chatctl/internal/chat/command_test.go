package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"helphub/cmd/chatctl/internal"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsShape(t *testing.T) {
	cfg := &internal.Config{}

	tail := NewTailCommand(cfg)
	assert.Equal(t, "tail", tail.Use)
	assert.NotNil(t, tail.Flags().Lookup("open"))
	assert.NotNil(t, tail.Flags().Lookup("type"))

	send := NewSendCommand(cfg)
	assert.NotNil(t, send.Flags().Lookup("to"))

	convs := NewConversationsCommand(cfg)
	assert.Equal(t, []string{"convs"}, convs.Aliases)
	assert.NotNil(t, convs.Flags().Lookup("with"))

	assert.NotNil(t, NewSearchCommand(cfg).Flags().Lookup("with"))
}

func TestCommands_RequireToken(t *testing.T) {
	cfg := &internal.Config{URL: "http://localhost:1"}

	cmd := NewSendCommand(cfg)
	cmd.SetArgs([]string{"--to", "2", "hello"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "no token")
}

func TestSendCommand_PostsAndPrints(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/send", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":9,"senderId":1,"receiverId":2,"content":"see you at noon","conversationId":"1-2"}}`))
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := NewSendCommand(&internal.Config{URL: srv.URL, Token: "tok", Output: "jsonl"})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--to", "2", "see", "you", "at", "noon"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "see you at noon", got["content"])
	assert.EqualValues(t, 2, got["receiverId"])
	assert.Contains(t, out.String(), `"conversationId":"1-2"`)
}

func TestTailCommand_RedialsAfterConnectionLoss(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ws/ticket", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ticket":"t-1","expires_in":60}}`))
	})
	mux.HandleFunc("GET /api/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		first := dials.Add(1) == 1
		go func() {
			defer func() { _ = conn.Close() }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				// the first socket is dropped right after join-user-room
				if first {
					return
				}
			}
		}()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("x"))
	require.NoError(t, err)

	var stderr bytes.Buffer
	cmd := NewTailCommand(&internal.Config{URL: srv.URL, Token: tok, Output: "jsonl"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return dials.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop")
	}
	assert.Contains(t, stderr.String(), "connection lost, reconnecting")
}
