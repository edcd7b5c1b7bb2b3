// Package stress load-tests the chat socket with many concurrent sessions.
package stress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"helphub/cmd/chatctl/internal"
	"helphub/cmd/chatctl/internal/token"
	"helphub/internal/chatclient"
	"helphub/internal/notifications"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"
)

// Metrics tracks the run. Fields are updated atomically.
type Metrics struct {
	ConnectionsAttempted int64 `json:"connectionsAttempted"`
	ConnectionsSuccess   int64 `json:"connectionsSuccess"`
	ConnectionsFailed    int64 `json:"connectionsFailed"`
	MessagesSent         int64 `json:"messagesSent"`
	MessagesReceived     int64 `json:"messagesReceived"`
	Dropped              int64 `json:"droppedNotices"`
	Errors               int64 `json:"errors"`
}

// Options configure a run.
type Options struct {
	Clients   int
	FirstUser uint
	Duration  time.Duration
	Interval  time.Duration
	Stagger   time.Duration
}

// Run connects opts.Clients sessions as consecutive user ids starting at
// opts.FirstUser. Each one messages the next user in the ring every
// opts.Interval until the duration ends or ctx is cancelled.
func Run(ctx context.Context, cfg *internal.Config, opts Options) (*Metrics, error) {
	if opts.Clients < 2 {
		return nil, fmt.Errorf("need at least two clients, got %d", opts.Clients)
	}
	if opts.FirstUser == 0 {
		opts.FirstUser = 1
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var m Metrics
	var wg sync.WaitGroup
	for i := 0; i < opts.Clients; i++ {
		me := opts.FirstUser + uint(i)
		peer := opts.FirstUser + uint((i+1)%opts.Clients)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(ctx, cfg, opts, me, peer, &m)
		}()

		select {
		case <-ctx.Done():
		case <-time.After(opts.Stagger):
		}
	}
	wg.Wait()
	return &m, nil
}

func runClient(ctx context.Context, cfg *internal.Config, opts Options, me, peer uint, m *Metrics) {
	atomic.AddInt64(&m.ConnectionsAttempted, 1)

	signed, err := token.Mint(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, me, opts.Duration+time.Minute)
	if err != nil {
		atomic.AddInt64(&m.ConnectionsFailed, 1)
		return
	}
	api, err := chatclient.NewClient(cfg.URL)
	if err != nil {
		atomic.AddInt64(&m.ConnectionsFailed, 1)
		return
	}

	session := chatclient.NewSession(api,
		chatclient.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		chatclient.OnFrame(func(f notifications.Frame) {
			switch f.Type {
			case notifications.EventReceiveMessage:
				atomic.AddInt64(&m.MessagesReceived, 1)
			case notifications.EventMessagesDropped:
				atomic.AddInt64(&m.Dropped, 1)
			case notifications.EventError:
				atomic.AddInt64(&m.Errors, 1)
			}
		}),
	)
	if err := session.SetToken(ctx, signed); err != nil {
		atomic.AddInt64(&m.ConnectionsFailed, 1)
		return
	}
	defer func() { _ = session.Close() }()
	atomic.AddInt64(&m.ConnectionsSuccess, 1)

	if err := session.Open(ctx, peer); err != nil {
		atomic.AddInt64(&m.Errors, 1)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := session.Send(ctx, peer, gofakeit.Sentence(8)); err != nil {
				if ctx.Err() != nil {
					return
				}
				atomic.AddInt64(&m.Errors, 1)
				continue
			}
			atomic.AddInt64(&m.MessagesSent, 1)
		}
	}
}

// NewStressCommand runs a load test and prints the metrics.
func NewStressCommand(cfg *internal.Config) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Load-test the chat socket with concurrent sessions",
		Args:  cobra.NoArgs,
		Example: `  CHATCTL_JWT_SECRET=dev-secret chatctl stress --clients 50 --duration 30s
  chatctl stress --first-user 10 --clients 4 --interval 200ms -o yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("stress mints its own tokens: set CHATCTL_JWT_SECRET or --secret")
			}
			ctx, stop := internal.SignalContext(cmd.Context())
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "target %s, %d clients for %s\n", cfg.URL, opts.Clients, opts.Duration)
			started := time.Now()
			m, err := Run(ctx, cfg, opts)
			if err != nil {
				return err
			}
			return internal.Print(cmd.OutOrStdout(), cfg.Output, map[string]any{
				"elapsed": time.Since(started).Round(time.Millisecond).String(),
				"metrics": m,
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Clients, "clients", 50, "number of concurrent sessions")
	f.UintVar(&opts.FirstUser, "first-user", 1, "user id of the first session")
	f.DurationVar(&opts.Duration, "duration", 30*time.Second, "test duration")
	f.DurationVar(&opts.Interval, "interval", time.Second, "send interval per session")
	f.DurationVar(&opts.Stagger, "stagger", 50*time.Millisecond, "delay between connecting sessions")
	f.StringVar(&cfg.JWTSecret, "secret", cfg.JWTSecret, "HS256 secret (CHATCTL_JWT_SECRET)")
	return cmd
}
