// Package stream follows the JetStream log of stored messages.
package stream

import (
	"fmt"

	"helphub/cmd/chatctl/internal"
	"helphub/internal/conversation"
	"helphub/internal/models"
	"helphub/internal/notifications"

	"github.com/spf13/cobra"
)

// NewStreamCommand replays and follows stored messages from NATS.
func NewStreamCommand(cfg *internal.Config) *cobra.Command {
	var between []uint

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Replay and follow the stored-message stream",
		Args:  cobra.NoArgs,
		Example: `  chatctl stream
  chatctl stream --between 1,2 -o jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := ""
			switch len(between) {
			case 0:
			case 2:
				key = conversation.Key(between[0], between[1])
			default:
				return fmt.Errorf("--between takes exactly two user ids")
			}

			ctx, stop := internal.SignalContext(cmd.Context())
			defer stop()

			ms, err := notifications.NewMessageStream(ctx, notifications.StreamConfig{
				URL:           cfg.NATSURL,
				Stream:        cfg.NATSStream,
				SubjectPrefix: cfg.NATSSubjectPrefix,
			})
			if err != nil {
				return err
			}
			defer ms.Close()

			out := cmd.OutOrStdout()
			cc, err := ms.Subscribe(ctx, key, func(m *models.Message) {
				_ = internal.Print(out, cfg.Output, m)
			})
			if err != nil {
				return err
			}
			defer cc.Stop()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().UintSliceVar(&between, "between", nil, "only follow the conversation between two user ids")
	cmd.Flags().StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server (CHATCTL_NATS_URL)")
	return cmd
}
