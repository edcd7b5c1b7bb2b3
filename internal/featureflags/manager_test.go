package featureflags

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, 1), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	assert.True(t, m.Enabled("always", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("junk", 1))

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42), "rollout must be deterministic per user")
	}
	assert.False(t, m.Enabled("canary", 0), "percentage rollout requires a user")
}

func TestDefaultsAndOverrides(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(ReadReceipts, 7))
	assert.True(t, m.Enabled(TypingIndicators, 7))

	m = NewManager("READ_RECEIPTS = off")
	assert.False(t, m.Enabled(ReadReceipts, 7))
	assert.True(t, m.Enabled(TypingIndicators, 7))
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off,=on,w=")

	raw := m.flags
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.Equal(t, "off", raw["z"])
	assert.NotContains(t, raw, "bad")
	assert.NotContains(t, raw, "w")
	assert.Len(t, raw, 3+len(defaults))

	snap := m.Snapshot(123)
	assert.Len(t, snap, len(raw))
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])

	assert.Equal(t, []string{ReadReceipts, TypingIndicators, "x", "y", "z"}, m.Names())
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(ReadReceipts, 1))
	assert.Empty(t, m.LogValue().Group())
}

func TestLogValue_OrderedByName(t *testing.T) {
	m := NewManager("typing_indicators=off,beta=10%")

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("loaded", slog.Any("flags", m))

	assert.Contains(t, buf.String(), "flags.beta=10% flags.read_receipts=on flags.typing_indicators=off")
}
