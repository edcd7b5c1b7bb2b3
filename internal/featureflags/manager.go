// Package featureflags evaluates per-user switches for optional chat
// behaviour such as read receipts and typing indicators.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Flags consulted by the messaging API.
const (
	// ReadReceipts gates messages-read events to the other participant.
	ReadReceipts = "read_receipts"
	// TypingIndicators gates forwarding of typing and stop-typing.
	TypingIndicators = "typing_indicators"
)

// defaults apply until FEATURE_FLAGS overrides them.
var defaults = map[string]string{
	ReadReceipts:     "on",
	TypingIndicators: "on",
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "read_receipts=25%,typing_indicators=off"
type Manager struct {
	flags map[string]string
}

// NewManager creates a manager from the built-in defaults overridden by a
// comma-separated config string. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given user.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic user rollout, e.g. 25%)
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil, pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Names returns the configured flag names in order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.flags))
	for name := range m.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogValue renders the configured flags as a group ordered by name.
func (m *Manager) LogValue() slog.Value {
	if m == nil {
		return slog.GroupValue()
	}
	names := m.Names()
	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.String(name, m.flags[name]))
	}
	return slog.GroupValue(attrs...)
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
