package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"helphub/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceOnlineSetKey  = "ws:online_users"
	defaultPresenceLastSeenKeyNS = "ws:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultOfflineGrace          = 5 * time.Second
	defaultReaperInterval        = 60 * time.Second
)

// ConnectionManagerConfig controls Redis presence and cleanup behavior.
// Zero values fall back to the defaults above.
type ConnectionManagerConfig struct {
	OnlineSetKey       string
	LastSeenKeyPrefix  string
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
	OnUserOnline       func(userID uint)
	OnUserOffline      func(userID uint)
}

// ConnectionManager counts local connections per user, mirrors presence into
// Redis and reports online/offline transitions. A user only goes offline after
// the grace period passes with no connection on any instance.
type ConnectionManager struct {
	rdb *redis.Client

	mu            sync.RWMutex
	local         map[uint]int
	pending       map[uint]*time.Timer
	releasedAt    map[uint]time.Time
	offlineSent   map[uint]bool
	onlineSetKey  string
	lastSeenNS    string
	lastSeenTTL   time.Duration
	offlineGrace  time.Duration
	reapEvery     time.Duration
	onUserOnline  func(userID uint)
	onUserOffline func(userID uint)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewConnectionManager creates a manager. With Redis it also starts a reaper
// that drops users whose last-seen key expired.
func NewConnectionManager(rdb *redis.Client, cfg ConnectionManagerConfig) *ConnectionManager {
	m := &ConnectionManager{
		rdb:           rdb,
		local:         make(map[uint]int),
		pending:       make(map[uint]*time.Timer),
		releasedAt:    make(map[uint]time.Time),
		offlineSent:   make(map[uint]bool),
		onlineSetKey:  withDefault(cfg.OnlineSetKey, defaultPresenceOnlineSetKey),
		lastSeenNS:    withDefault(cfg.LastSeenKeyPrefix, defaultPresenceLastSeenKeyNS),
		lastSeenTTL:   positiveOr(cfg.LastSeenTTL, defaultPresenceTTL),
		offlineGrace:  positiveOr(cfg.OfflineGracePeriod, defaultOfflineGrace),
		reapEvery:     positiveOr(cfg.ReaperInterval, defaultReaperInterval),
		onUserOnline:  cfg.OnUserOnline,
		onUserOffline: cfg.OnUserOffline,
		stopCh:        make(chan struct{}),
	}

	if m.rdb != nil {
		go m.reaperLoop()
	}
	return m
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func positiveOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// SetCallbacks replaces the transition callbacks.
func (m *ConnectionManager) SetCallbacks(onOnline, onOffline func(userID uint)) {
	m.mu.Lock()
	m.onUserOnline = onOnline
	m.onUserOffline = onOffline
	m.mu.Unlock()
}

// SetOfflineGracePeriod changes how long a user stays online after the last
// connection closes.
func (m *ConnectionManager) SetOfflineGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.offlineGrace = d
	m.mu.Unlock()
}

// Stop ends the reaper and cancels pending offline timers.
func (m *ConnectionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for userID, t := range m.pending {
			t.Stop()
			delete(m.pending, userID)
		}
		m.mu.Unlock()
	})
}

// Register records a new local connection for userID.
func (m *ConnectionManager) Register(ctx context.Context, userID uint) {
	wasOnline := m.IsOnline(ctx, userID)

	m.mu.Lock()
	if t, ok := m.pending[userID]; ok {
		t.Stop()
		delete(m.pending, userID)
	}
	m.local[userID]++
	m.offlineSent[userID] = false
	m.mu.Unlock()

	m.Touch(ctx, userID)
	if !wasOnline {
		m.emit(userID, true)
	}
}

// Touch refreshes the user's last-seen key.
func (m *ConnectionManager) Touch(ctx context.Context, userID uint) {
	if m.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	pipe := m.rdb.Pipeline()
	pipe.SAdd(ctx, m.onlineSetKey, uid)
	pipe.SetEx(ctx, m.lastSeenKey(userID), strconv.FormatInt(time.Now().UnixMilli(), 10), m.lastSeenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		middleware.Logger.WarnContext(ctx, "presence touch failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}

// Unregister drops one local connection. When it was the last one, the user
// goes offline after the grace period unless they reconnect.
func (m *ConnectionManager) Unregister(_ context.Context, userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.local[userID]; n > 1 {
		m.local[userID] = n - 1
		return
	}
	delete(m.local, userID)
	m.releasedAt[userID] = time.Now()

	if t, ok := m.pending[userID]; ok {
		t.Stop()
	}
	m.pending[userID] = time.AfterFunc(m.offlineGrace, func() {
		m.finalizeOffline(context.Background(), userID)
	})
}

// IsOnline reports whether the user has a connection here or a live
// last-seen key in Redis.
func (m *ConnectionManager) IsOnline(ctx context.Context, userID uint) bool {
	m.mu.RLock()
	local := m.local[userID] > 0
	_, pending := m.pending[userID]
	m.mu.RUnlock()
	if local || pending {
		return true
	}
	if m.rdb == nil {
		return false
	}
	n, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
	return err == nil && n > 0
}

// OnlineUserIDs returns users online on any instance, dropping stale set
// members on the way. Local users are always included.
func (m *ConnectionManager) OnlineUserIDs(ctx context.Context) []uint {
	local := m.localUserIDs()
	if m.rdb == nil {
		return local
	}
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[uint]bool, len(members)+len(local))
	out := make([]uint, 0, len(members)+len(local))
	for _, raw := range members {
		userID, ok := parseUserID(raw)
		if !ok || seen[userID] {
			continue
		}
		n, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if err != nil {
			continue
		}
		if n == 0 {
			_ = m.rdb.SRem(ctx, m.onlineSetKey, raw).Err()
			continue
		}
		seen[userID] = true
		out = append(out, userID)
	}
	for _, userID := range local {
		if !seen[userID] {
			seen[userID] = true
			out = append(out, userID)
		}
	}
	return out
}

// reapOnce removes set members whose last-seen key expired.
func (m *ConnectionManager) reapOnce(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return
	}
	for _, raw := range members {
		userID, ok := parseUserID(raw)
		if !ok {
			continue
		}
		n, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if err != nil || n > 0 {
			continue
		}
		_ = m.rdb.SRem(ctx, m.onlineSetKey, raw).Err()

		m.mu.RLock()
		hasLocal := m.local[userID] > 0
		m.mu.RUnlock()
		if !hasLocal {
			m.emit(userID, false)
		}
	}
}

func (m *ConnectionManager) reaperLoop() {
	ticker := time.NewTicker(m.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce(context.Background())
		}
	}
}

func (m *ConnectionManager) finalizeOffline(ctx context.Context, userID uint) {
	m.mu.Lock()
	delete(m.pending, userID)
	released := m.releasedAt[userID]
	delete(m.releasedAt, userID)
	if m.local[userID] > 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.rdb != nil {
		if m.touchedSince(ctx, userID, released) {
			return
		}
		pipe := m.rdb.Pipeline()
		pipe.SRem(ctx, m.onlineSetKey, strconv.FormatUint(uint64(userID), 10))
		pipe.Del(ctx, m.lastSeenKey(userID))
		_, _ = pipe.Exec(ctx)
	}
	m.emit(userID, false)
}

// touchedSince reports whether another instance refreshed the user's
// last-seen stamp after this instance released its last connection.
func (m *ConnectionManager) touchedSince(ctx context.Context, userID uint, released time.Time) bool {
	raw, err := m.rdb.Get(ctx, m.lastSeenKey(userID)).Result()
	if err != nil {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return ms > released.UnixMilli()
}

func (m *ConnectionManager) emit(userID uint, online bool) {
	m.mu.Lock()
	if !online {
		if m.offlineSent[userID] {
			m.mu.Unlock()
			return
		}
		m.offlineSent[userID] = true
	} else {
		m.offlineSent[userID] = false
	}
	cb := m.onUserOffline
	if online {
		cb = m.onUserOnline
	}
	m.mu.Unlock()

	if cb != nil {
		cb(userID)
	}
}

func (m *ConnectionManager) localUserIDs() []uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint, 0, len(m.local))
	for userID, n := range m.local {
		if n > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (m *ConnectionManager) lastSeenKey(userID uint) string {
	return m.lastSeenNS + strconv.FormatUint(uint64(userID), 10)
}

func parseUserID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
