package stress

import (
	"context"
	"testing"
	"time"

	"helphub/cmd/chatctl/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStressCommand(t *testing.T) {
	cmd := NewStressCommand(&internal.Config{})

	require.NotNil(t, cmd)
	assert.Equal(t, "stress", cmd.Use)
	for _, name := range []string{"clients", "first-user", "duration", "interval", "stagger", "secret"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "50", cmd.Flags().Lookup("clients").DefValue)
}

func TestRun_NeedsTwoClients(t *testing.T) {
	_, err := Run(context.Background(), &internal.Config{JWTSecret: "x"}, Options{Clients: 1, Duration: time.Second})
	assert.Error(t, err)
}

func TestRun_UnreachableServerCountsFailures(t *testing.T) {
	cfg := &internal.Config{URL: "http://127.0.0.1:1", JWTSecret: "x"}
	m, err := Run(context.Background(), cfg, Options{
		Clients:  3,
		Duration: 2 * time.Second,
		Interval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, m.ConnectionsAttempted)
	assert.EqualValues(t, 3, m.ConnectionsFailed)
	assert.Zero(t, m.ConnectionsSuccess)
}
