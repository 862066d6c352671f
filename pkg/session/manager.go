package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/longnt/sage/internal/observability"
	"github.com/longnt/sage/pkg/store"
)

// DefaultRetention is how long an idle session survives before the sweep
// removes it.
const DefaultRetention = 30 * 24 * time.Hour

// DefaultHistoryLimit bounds how many past turns are loaded per exchange.
const DefaultHistoryLimit = 20

// Config holds manager configuration.
type Config struct {
	Retention    time.Duration
	HistoryLimit int
	Logger       zerolog.Logger

	// MintThreadID overrides thread id generation, used by backends that
	// assign their own conversation handles. Nil means a local nanoid.
	MintThreadID func(ctx context.Context) (string, error)
}

// Manager owns the session cache and its backing store.
type Manager struct {
	store        *store.Store
	retention    time.Duration
	historyLimit int
	logger       zerolog.Logger
	mint         func(ctx context.Context) (string, error)

	mu       sync.RWMutex
	cache    map[string]string
	keyLocks map[string]*sync.Mutex
	locksMu  sync.Mutex
}

// NewManager creates a Manager and loads the cache from the store.
func NewManager(st *store.Store, cfg Config) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	mint := cfg.MintThreadID
	if mint == nil {
		mint = func(context.Context) (string, error) {
			id, err := gonanoid.New()
			if err != nil {
				return "", err
			}
			return "thr_" + id, nil
		}
	}

	m := &Manager{
		store:        st,
		retention:    cfg.Retention,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		mint:         mint,
		cache:        make(map[string]string),
		keyLocks:     make(map[string]*sync.Mutex),
	}

	if err := m.Reload(context.Background()); err != nil {
		return nil, err
	}

	m.logger.Info().Int("sessions", m.Len()).Msg("Session manager initialized")

	return m, nil
}

// Key derives the stable session key for a user/channel pair.
func Key(userID, channelID string) string {
	return userID + ":" + channelID
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.ContainsAny(key, "\x00\n") {
		return fmt.Errorf("session key contains invalid characters")
	}
	return nil
}

func (m *Manager) keyLock(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if l, ok := m.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.keyLocks[key] = l
	return l
}

// ResolveOrCreate returns the thread id for a session key, creating and
// persisting a new session on first use. Concurrent calls for the same key
// observe the same thread id.
func (m *Manager) ResolveOrCreate(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	m.mu.RLock()
	threadID, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return threadID, nil
	}

	// Serialize creation per key so duplicate deliveries cannot mint two
	// thread ids for one conversation.
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	threadID, ok = m.cache[key]
	m.mu.RUnlock()
	if ok {
		return threadID, nil
	}

	threadID, err := m.mint(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to mint thread id: %w", err)
	}

	if err := m.store.Upsert(ctx, key, threadID); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	m.cache[key] = threadID
	size := len(m.cache)
	m.mu.Unlock()

	observability.SetActiveSessions(size)

	m.logger.Info().
		Str("session_key", key).
		Str("thread_id", threadID).
		Msg("Session created")

	return threadID, nil
}

// Touch updates the session's last-used marker. Failures are logged, never
// propagated; a missed touch only shortens retention slightly.
func (m *Manager) Touch(ctx context.Context, key string) {
	if err := m.store.Touch(ctx, key); err != nil {
		m.logger.Warn().Str("session_key", key).Err(err).Msg("Failed to touch session")
	}
}

// Append records one conversation turn. A store failure degrades to a no-op
// so a persistence hiccup never fails the user-facing exchange.
func (m *Manager) Append(ctx context.Context, key, role, content string) {
	if err := m.store.AppendMessage(ctx, key, role, content); err != nil {
		m.logger.Warn().
			Str("session_key", key).
			Str("role", role).
			Err(err).
			Msg("Failed to persist message")
	}
}

// History returns the last limit turns oldest to newest. A store failure
// degrades to an empty history.
func (m *Manager) History(ctx context.Context, key string, limit int) []store.Message {
	if limit <= 0 {
		limit = m.historyLimit
	}

	messages, err := m.store.RecentMessages(ctx, key, limit)
	if err != nil {
		m.logger.Warn().Str("session_key", key).Err(err).Msg("Failed to load history")
		return nil
	}
	return messages
}

// EvictStale deletes sessions idle longer than maxAge (the configured
// retention when maxAge is zero), refreshes the cache, and returns the count
// removed.
func (m *Manager) EvictStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = m.retention
	}

	deleted, err := m.store.DeleteStale(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("eviction sweep failed: %w", err)
	}

	if err := m.Reload(ctx); err != nil {
		return int(deleted), err
	}

	observability.AddEvictedSessions(int(deleted))
	if deleted > 0 {
		m.logger.Info().Int64("deleted", deleted).Msg("Evicted stale sessions")
	}

	return int(deleted), nil
}

// Reload replaces the cache with the store's current contents. The lock is
// held across the load so a concurrent create cannot fall between the store
// read and the swap: its row is either in the snapshot or its blocked cache
// write re-adds the key right after the swap.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	sessions, err := m.store.LoadAll(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	m.cache = sessions
	size := len(m.cache)
	m.mu.Unlock()

	observability.SetActiveSessions(size)

	return nil
}

// Keys returns the cached session keys.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// HistoryLimit returns the configured per-exchange history bound.
func (m *Manager) HistoryLimit() int {
	return m.historyLimit
}
