package seed

import (
	"context"
	"fmt"
	"log/slog"

	"helphub/internal/middleware"
	"helphub/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers int
	// ConversationsPerUser is how many partners each user gets, at most.
	ConversationsPerUser int
	MessagesPerConversation int
	// UnreadPerConversation messages at the end of each conversation stay unread.
	UnreadPerConversation int
	MaxDays               int
	RandSeed              int64
	ShouldClean           bool
	DryRun                bool
}

// DefaultOptions is a small demo data set.
func DefaultOptions() Options {
	return Options{
		NumUsers:                12,
		ConversationsPerUser:    3,
		MessagesPerConversation: 20,
		UnreadPerConversation:   2,
		MaxDays:                 30,
	}
}

// Summary reports what a seed run created.
type Summary struct {
	Users         []*models.User
	Conversations int
	Messages      int
}

// Seed populates the database with users and direct conversations between
// them. Each user talks to the next ConversationsPerUser users in a ring,
// so every pair is created once.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	middleware.Logger.Info("starting database seeding",
		slog.Int("users", opts.NumUsers),
		slog.Int("conversations_per_user", opts.ConversationsPerUser),
		slog.Bool("dry_run", opts.DryRun),
	)

	if opts.ShouldClean && !opts.DryRun {
		if err := clearData(ctx, db); err != nil {
			middleware.Logger.Warn("could not clear existing data, continuing", slog.String("error", err.Error()))
		}
	}

	f := NewFactory(db, opts)
	summary := &Summary{}

	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return summary, fmt.Errorf("create user: %w", err)
		}
		summary.Users = append(summary.Users, u)
	}

	n := len(summary.Users)
	partners := opts.ConversationsPerUser
	if partners > (n-1)/2 {
		partners = (n - 1) / 2
	}
	for i, u := range summary.Users {
		for d := 1; d <= partners; d++ {
			other := summary.Users[(i+d)%n]
			msgs, err := f.CreateConversation(ctx, u, other, opts.MessagesPerConversation, opts.UnreadPerConversation)
			if err != nil {
				return summary, fmt.Errorf("create conversation %d-%d: %w", u.ID, other.ID, err)
			}
			if len(msgs) > 0 {
				summary.Conversations++
				summary.Messages += len(msgs)
			}
		}
	}

	middleware.Logger.Info("database seeding completed",
		slog.Int("users", len(summary.Users)),
		slog.Int("conversations", summary.Conversations),
		slog.Int("messages", summary.Messages),
	)
	return summary, nil
}

func clearData(ctx context.Context, db *gorm.DB) error {
	middleware.Logger.Info("clearing existing data")
	// children first so foreign keys hold on every driver
	for _, table := range []string{"notifications", "messages", "users"} {
		if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}
