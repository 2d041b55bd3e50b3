package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Each Load returns a copy, so a concurrent burst races only on
// Save, which keeps the over-admission bounded.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, subjectID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[subjectID]
	if !ok {
		return NewState(subjectID), nil
	}

	cp := &State{
		SubjectID:      state.SubjectID,
		WindowRequests: make([]time.Time, len(state.WindowRequests)),
		TotalUsage:     state.TotalUsage,
	}
	copy(cp.WindowRequests, state.WindowRequests)
	return cp, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SubjectID] = state
	return nil
}
