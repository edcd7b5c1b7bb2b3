// Package bootstrap opens the process-wide dependencies of the API: the
// database, Redis and the optional NATS message stream.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"helphub/internal/cache"
	"helphub/internal/config"
	"helphub/internal/database"
	"helphub/internal/middleware"
	"helphub/internal/notifications"
	"helphub/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemoData fills an empty development database with demo conversations.
	SeedDemoData bool
	// SkipStream leaves the NATS stream disconnected even when NATS_URL is set.
	SkipStream bool
}

// Runtime is what InitRuntime opened. Redis and Stream may be nil.
type Runtime struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Stream *notifications.MessageStream
}

// InitRuntime connects to the database (applying the schema), Redis and,
// when configured, the NATS message stream. Redis and NATS are optional:
// failures there are logged and the runtime continues without them.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// may leave a nil client if unreachable
	cache.InitRedis(cfg.RedisURL)
	rt := &Runtime{DB: db, Redis: cache.GetClient()}

	if cfg.NATSURL != "" && !opts.SkipStream {
		stream, err := notifications.NewMessageStream(ctx, notifications.StreamConfig{
			URL:           cfg.NATSURL,
			Stream:        cfg.NATSStream,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		})
		if err != nil {
			middleware.Logger.Warn("message stream unavailable (continuing without it)",
				slog.String("error", err.Error()))
		} else {
			rt.Stream = stream
		}
	}

	if opts.SeedDemoData {
		if err := seedIfEmpty(ctx, cfg, db); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return rt, nil
}

// Close releases everything the runtime opened.
func (rt *Runtime) Close() {
	if rt.Stream != nil {
		rt.Stream.Close()
	}
	if err := cache.Close(); err != nil {
		middleware.Logger.Warn("error closing redis", slog.String("error", err.Error()))
	}
	if err := database.Close(rt.DB); err != nil {
		middleware.Logger.Warn("error closing database", slog.String("error", err.Error()))
	}
}

func seedIfEmpty(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if !strings.EqualFold(cfg.Env, "development") {
		middleware.Logger.Warn("demo seeding is only allowed in development", slog.String("env", cfg.Env))
		return nil
	}
	var users int64
	if err := db.WithContext(ctx).Table("users").Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}
	_, err := seed.Seed(ctx, db, seed.DefaultOptions())
	return err
}
