package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig names the JetStream stream that stores message events.
type StreamConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// MessageStream appends every stored message to a JetStream stream under
// <prefix>.<conversation key>, giving operators a durable, replayable log.
type MessageStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    StreamConfig
	stream jetstream.Stream
}

// NewMessageStream connects to NATS and makes sure the stream exists.
func NewMessageStream(ctx context.Context, cfg StreamConfig) (*MessageStream, error) {
	if cfg.Stream == "" {
		cfg.Stream = "CHAT_MESSAGES"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "chat.messages"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("helphub"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.Stream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Description: "Stored chat messages",
			Subjects:    []string{cfg.SubjectPrefix + ".*"},
			MaxAge:      cfg.MaxAge,
			Storage:     jetstream.FileStorage,
		})
		if err == nil {
			middleware.Logger.Info("created message stream", slog.String("stream", cfg.Stream))
		}
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %q: %w", cfg.Stream, err)
	}

	return &MessageStream{nc: nc, js: js, cfg: cfg, stream: stream}, nil
}

// Subject returns the subject for a conversation key.
func (s *MessageStream) Subject(conversationID string) string {
	return s.cfg.SubjectPrefix + "." + conversationID
}

// PublishMessage appends msg to the stream.
func (s *MessageStream) PublishMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	subject := s.Subject(msg.ConversationID)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("msg-%d", msg.ID))); err != nil {
		observability.StreamPublishFailures.Inc()
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers stored messages to handler, starting from the beginning
// of the stream. An empty conversationID follows every conversation. Stop the
// returned context to end the subscription.
func (s *MessageStream) Subscribe(ctx context.Context, conversationID string, handler func(*models.Message)) (jetstream.ConsumeContext, error) {
	filter := s.cfg.SubjectPrefix + ".*"
	if conversationID != "" {
		filter = s.Subject(conversationID)
	}

	cons, err := s.js.OrderedConsumer(ctx, s.cfg.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", filter, err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		var msg models.Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			middleware.Logger.Warn("undecodable stream message",
				slog.String("subject", m.Subject()),
				slog.String("error", err.Error()),
			)
			return
		}
		handler(&msg)
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", filter, err)
	}
	return cc, nil
}

// ConversationFromSubject extracts the conversation key from a stream subject.
func (s *MessageStream) ConversationFromSubject(subject string) string {
	return strings.TrimPrefix(subject, s.cfg.SubjectPrefix+".")
}

// Close drains the connection.
func (s *MessageStream) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

// Connected reports whether the NATS connection is up.
func (s *MessageStream) Connected() bool {
	return s != nil && s.nc != nil && s.nc.IsConnected()
}
