// Package seed provides helpers to create test and demo data for the
// messaging database. These helpers are intended for development and
// testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"helphub/internal/conversation"
	"helphub/internal/middleware"
	"helphub/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by seed presets and tests.
type Factory struct {
	db    *gorm.DB
	faker *gofakeit.Faker
	opts  Options
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a Factory bound to db. A zero opts.RandSeed picks a
// random seed; any other value makes the generated data reproducible.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	return &Factory{db: db, faker: gofakeit.New(opts.RandSeed), opts: opts, nextID: 1000}
}

// BuildUser constructs a sample user without persisting it.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	first, last := f.faker.FirstName(), f.faker.LastName()
	user := &models.User{
		Name:       first + " " + last,
		Email:      fmt.Sprintf("%s.%s.%d@%s", first, last, f.faker.Number(100, 99999), f.faker.DomainName()),
		ProfilePic: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
	}
	for _, override := range overrides {
		override(user)
	}
	return user
}

// CreateUser constructs and persists a sample user.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	user := f.BuildUser(overrides...)
	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		return user, nil
	}
	if err := f.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildMessage constructs a text message from sender to receiver at the
// given time without persisting it.
func (f *Factory) BuildMessage(sender, receiver *models.User, at time.Time, overrides ...func(*models.Message)) *models.Message {
	msg := &models.Message{
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Content:        f.faker.Sentence(f.faker.Number(3, 14)),
		MessageType:    models.MessageTypeText,
		ConversationID: conversation.Key(sender.ID, receiver.ID),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	for _, override := range overrides {
		override(msg)
	}
	return msg
}

// CreateMessage persists a message from sender to receiver.
func (f *Factory) CreateMessage(ctx context.Context, sender, receiver *models.User, overrides ...func(*models.Message)) (*models.Message, error) {
	msg := f.BuildMessage(sender, receiver, time.Now(), overrides...)
	if f.opts.DryRun {
		f.nextID++
		msg.ID = f.nextID
		return msg, nil
	}
	if err := f.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateConversation writes n alternating messages between a and b, spread
// over the last opts.MaxDays days and ordered in time. The oldest messages
// are marked read; the newest unread ones are left for whoever received them.
func (f *Factory) CreateConversation(ctx context.Context, a, b *models.User, n, unread int) ([]*models.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}

	start := time.Now().Add(-time.Duration(f.faker.Number(1, maxDays)) * 24 * time.Hour)
	step := time.Since(start) / time.Duration(n+1)

	msgs := make([]*models.Message, 0, n)
	for i := 0; i < n; i++ {
		sender, receiver := a, b
		if f.faker.Bool() {
			sender, receiver = b, a
		}
		at := start.Add(time.Duration(i+1) * step)
		msg := f.BuildMessage(sender, receiver, at)
		if i < n-unread {
			readAt := at.Add(time.Minute)
			msg.IsRead = true
			msg.ReadAt = &readAt
		}
		msgs = append(msgs, msg)
	}

	if f.opts.DryRun {
		for _, m := range msgs {
			f.nextID++
			m.ID = f.nextID
		}
		middleware.Logger.Info("[dry-run] conversation built",
			slog.String("conversation_id", conversation.Key(a.ID, b.ID)),
			slog.Int("messages", len(msgs)),
		)
		return msgs, nil
	}

	if err := f.db.WithContext(ctx).CreateInBatches(msgs, 100).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
