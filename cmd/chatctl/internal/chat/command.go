// Package chat implements the chatctl commands that talk to the REST API and
// the chat socket as a user.
package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"helphub/cmd/chatctl/internal"
	"helphub/internal/chatclient"
	"helphub/internal/notifications"

	"github.com/spf13/cobra"
)

// NewTailCommand prints every frame of a live session until interrupted.
func NewTailCommand(cfg *internal.Config) *cobra.Command {
	var open uint
	var types []string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect to the chat socket and print incoming events",
		Args:  cobra.NoArgs,
		Example: `  chatctl tail
  chatctl tail --open 42 --type receive-message,user-typing -o jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			api, err := cfg.Client()
			if err != nil {
				return err
			}

			ctx, stop := internal.SignalContext(cmd.Context())
			defer stop()

			wanted := make(map[string]bool, len(types))
			for _, t := range types {
				wanted[strings.TrimSpace(t)] = true
			}
			out := cmd.OutOrStdout()
			session := chatclient.NewSession(api,
				chatclient.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
				chatclient.OnFrame(func(f notifications.Frame) {
					if len(wanted) > 0 && !wanted[f.Type] {
						return
					}
					_ = internal.Print(out, cfg.Output, f)
				}),
			)
			if err := session.SetToken(ctx, cfg.Token); err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			if open != 0 {
				if err := session.Open(ctx, open); err != nil {
					return fmt.Errorf("open conversation %d: %w", open, err)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "connected as user %d, ctrl-c to stop\n", session.State().Me())
			return follow(ctx, session, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().UintVar(&open, "open", 0, "also join the conversation with this user")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only print these event types")
	return cmd
}

// follow keeps session connected until ctx ends, redialing whenever the
// socket is lost.
func follow(ctx context.Context, session *chatclient.Session, status io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Disconnected():
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintln(status, "connection lost, reconnecting")
		if err := session.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconnect: %w", err)
		}
		fmt.Fprintln(status, "reconnected")
	}
}

// NewSendCommand posts one message over REST.
func NewSendCommand(cfg *internal.Config) *cobra.Command {
	var to uint
	var messageType string

	cmd := &cobra.Command{
		Use:     "send --to USER_ID MESSAGE...",
		Short:   "Send a direct message",
		Args:    cobra.MinimumNArgs(1),
		Example: `  chatctl send --to 2 "I can help with the groceries"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			if to == 0 {
				return fmt.Errorf("--to is required")
			}
			api, err := cfg.Client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			msg, err := api.Send(ctx, chatclient.SendRequest{
				ReceiverID:  to,
				Content:     strings.Join(args, " "),
				MessageType: messageType,
			})
			if err != nil {
				return err
			}
			return internal.Print(cmd.OutOrStdout(), cfg.Output, msg)
		},
	}
	cmd.Flags().UintVar(&to, "to", 0, "receiver user id")
	cmd.Flags().StringVar(&messageType, "type", "", "message type: text, image or file")
	return cmd
}

// NewConversationsCommand lists conversations, or one history with --with.
func NewConversationsCommand(cfg *internal.Config) *cobra.Command {
	var with uint
	var page, limit int

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List conversations or show one conversation's history",
		Args:    cobra.NoArgs,
		Example: `  chatctl conversations
  chatctl conversations --with 2 --limit 20 -o yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			api, err := cfg.Client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if with != 0 {
				history, err := api.Conversation(ctx, with, page, limit)
				if err != nil {
					return err
				}
				return internal.Print(cmd.OutOrStdout(), cfg.Output, history)
			}

			views, err := api.Conversations(ctx)
			if err != nil {
				return err
			}
			unread, err := api.UnreadCount(ctx)
			if err != nil {
				return err
			}
			return internal.Print(cmd.OutOrStdout(), cfg.Output, map[string]any{
				"conversations": views,
				"unreadCount":   unread,
			})
		},
	}
	cmd.Flags().UintVar(&with, "with", 0, "show the history with this user instead")
	cmd.Flags().IntVar(&page, "page", 0, "history page")
	cmd.Flags().IntVar(&limit, "limit", 0, "history page size")
	return cmd
}

// NewSearchCommand searches the caller's messages.
func NewSearchCommand(cfg *internal.Config) *cobra.Command {
	var with string

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			var other uint64
			if with != "" {
				var err error
				if other, err = strconv.ParseUint(with, 10, 32); err != nil {
					return fmt.Errorf("--with: %w", err)
				}
			}
			api, err := cfg.Client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			msgs, err := api.Search(ctx, args[0], uint(other))
			if err != nil {
				return err
			}
			return internal.Print(cmd.OutOrStdout(), cfg.Output, msgs)
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "only search the conversation with this user id")
	return cmd
}
