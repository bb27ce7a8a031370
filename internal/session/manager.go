package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heliconai/salesdesk/internal/metrics"
)

// Manager mediates all access to session safety state. It lazily
// creates state on first touch, applies the idle and lifetime resets,
// and keeps a small read-through cache in front of the store.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu       sync.RWMutex
	cache    map[string]*State
	maxCache int
}

// NewManager returns a manager backed by the given store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		logger:   logger,
		cache:    make(map[string]*State),
		maxCache: 10000,
	}
}

// Snapshot returns the current state for a session, creating a fresh
// one if none exists or the existing one has expired. The returned
// value is a private copy; mutations do not persist until Record or
// MarkTimedOut.
func (m *Manager) Snapshot(ctx context.Context, sessionID string, now time.Time) (*State, error) {
	st, err := m.load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return m.create(ctx, sessionID, now)
	}
	if err != nil {
		return nil, err
	}
	if expired, reason := st.Expired(now); expired {
		metrics.SessionResets.WithLabelValues(reason).Inc()
		m.logger.Info("resetting session state",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
			zap.Int("iterations", st.IterationCount))
		if err := m.store.Delete(ctx, sessionID); err != nil {
			m.logger.Warn("failed to delete expired session state", zap.Error(err))
		}
		m.evict(sessionID)
		return m.create(ctx, sessionID, now)
	}
	return st, nil
}

// Record folds one completed dispatch into the session state and
// persists it. Conflicting writers retry against the fresh state.
func (m *Manager) Record(ctx context.Context, sessionID string, workers []string, now time.Time) (*State, error) {
	const casAttempts = 3
	for attempt := 0; attempt < casAttempts; attempt++ {
		st, err := m.Snapshot(ctx, sessionID, now)
		if err != nil {
			return nil, err
		}
		st.RecordDispatch(workers, now)
		err = m.store.CompareAndSwap(ctx, st)
		if errors.Is(err, ErrConflict) {
			m.evict(sessionID)
			continue
		}
		if err != nil {
			return nil, err
		}
		m.cachePut(st)
		return st, nil
	}
	return nil, ErrConflict
}

// MarkTimedOut latches the session-window flag so every later turn in
// the session is refused until the state resets.
func (m *Manager) MarkTimedOut(ctx context.Context, sessionID string, now time.Time) error {
	st, err := m.Snapshot(ctx, sessionID, now)
	if err != nil {
		return err
	}
	if st.TimedOut {
		return nil
	}
	st.TimedOut = true
	if err := m.store.CompareAndSwap(ctx, st); err != nil {
		return err
	}
	m.cachePut(st)
	return nil
}

// End discards the session state, e.g. when the conversation closes.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.evict(sessionID)
	return m.store.Delete(ctx, sessionID)
}

func (m *Manager) create(ctx context.Context, sessionID string, now time.Time) (*State, error) {
	st := NewState(sessionID, now)
	if err := m.store.CompareAndSwap(ctx, st); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the race to another replica; use theirs.
			m.evict(sessionID)
			return m.load(ctx, sessionID)
		}
		return nil, err
	}
	metrics.SessionsCreated.Inc()
	m.cachePut(st)
	m.logger.Debug("created session state", zap.String("session_id", sessionID))
	return st, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	cached, ok := m.cache[sessionID]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		cp := *cached
		cp.CallHistory = append([]CallRecord(nil), cached.CallHistory...)
		return &cp, nil
	}
	metrics.SessionCacheMisses.Inc()
	st, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.cachePut(st)
	return st, nil
}

func (m *Manager) cachePut(st *State) {
	cp := *st
	cp.CallHistory = append([]CallRecord(nil), st.CallHistory...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[st.SessionID]; !ok && len(m.cache) >= m.maxCache {
		m.evictOldestLocked()
	}
	m.cache[st.SessionID] = &cp
	metrics.SessionCacheSize.Set(float64(len(m.cache)))
}

func (m *Manager) evict(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.cache)))
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, st := range m.cache {
		if oldestID == "" || st.LastActive.Before(oldest) {
			oldestID = id
			oldest = st.LastActive
		}
	}
	if oldestID != "" {
		delete(m.cache, oldestID)
	}
}
