package session

import (
	"context"
	"sync"
)

// Store persists session safety state. Implementations must treat the
// Version field as the optimistic-concurrency token: CompareAndSwap
// succeeds only when the stored version equals the snapshot's version,
// and bumps it on success.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, state *State) error
	CompareAndSwap(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process Store for single-node deployments and
// tests. It satisfies the same version semantics as the Redis store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	cp.CallHistory = append([]CallRecord(nil), st.CallHistory...)
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	cp.CallHistory = append([]CallRecord(nil), state.CallHistory...)
	m.states[state.SessionID] = &cp
	return nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.states[state.SessionID]
	if ok && cur.Version != state.Version {
		return ErrConflict
	}
	cp := *state
	cp.Version++
	cp.CallHistory = append([]CallRecord(nil), state.CallHistory...)
	m.states[state.SessionID] = &cp
	state.Version = cp.Version
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}
