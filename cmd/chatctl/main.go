// Command chatctl is a developer and operator tool for the messaging API:
// it tails live sessions, sends messages, reads the message stream, mints
// dev tokens and load-tests the chat socket.
package main

import (
	"fmt"
	"os"

	"helphub/cmd/chatctl/internal"
	"helphub/cmd/chatctl/internal/chat"
	"helphub/cmd/chatctl/internal/stream"
	"helphub/cmd/chatctl/internal/stress"
	"helphub/cmd/chatctl/internal/token"

	"github.com/spf13/cobra"
)

// NewChatctlCommand builds the command tree around cfg.
func NewChatctlCommand(cfg *internal.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Talk to the HelpHub messaging API from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  chatctl token --user 1
  CHATCTL_TOKEN=$(chatctl token --user 1 --raw) chatctl tail
  chatctl send --to 2 "are you still free tomorrow?"`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfg.URL, "url", cfg.URL, "API base URL (CHATCTL_URL)")
	pf.StringVar(&cfg.Token, "token", cfg.Token, "bearer token (CHATCTL_TOKEN)")
	pf.StringVarP(&cfg.Output, "output", "o", cfg.Output, "output format: json, jsonl or yaml (CHATCTL_OUTPUT)")

	cmd.AddCommand(
		chat.NewTailCommand(cfg),
		chat.NewSendCommand(cfg),
		chat.NewConversationsCommand(cfg),
		chat.NewSearchCommand(cfg),
		stream.NewStreamCommand(cfg),
		stress.NewStressCommand(cfg),
		token.NewTokenCommand(cfg),
	)
	return cmd
}

func main() {
	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewChatctlCommand(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
