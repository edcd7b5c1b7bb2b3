package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"helphub/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "chat:room:"

// Notifier publishes room frames into Redis so every instance can deliver
// them to its local members.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a Notifier. A nil client disables cross-instance fan-out.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// RoomChannel derives the Redis channel name for a room.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// PublishRoom sends an encoded room envelope to the room's channel.
func (n *Notifier) PublishRoom(ctx context.Context, room string, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	if err := n.rdb.Publish(ctx, RoomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", RoomChannel(room), err)
	}
	return nil
}

// StartRoomSubscriber subscribes to every room channel and calls onMessage
// with the room name and payload until ctx is done. It returns once the
// subscription is confirmed by the server.
func (n *Notifier) StartRoomSubscriber(ctx context.Context, onMessage func(room string, payload []byte)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				room := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in room subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(room, []byte(msg.Payload))
				}()
			}
		}
	}()

	return nil
}
