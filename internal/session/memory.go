package session

import (
	"context"
	"sync"

	"hsa-planner/internal/model"
)

// MemoryStore keeps encoded records in process memory. Records are stored
// encoded so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (model.ConversationState, error) {
	m.mu.Lock()
	data, ok := m.records[sessionID]
	m.mu.Unlock()
	if !ok {
		return model.ConversationState{}, ErrSessionNotFound
	}
	return Decode(data)
}

func (m *MemoryStore) Save(_ context.Context, state model.ConversationState, expected uint64) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var actual uint64
	if cur, ok := m.records[state.SessionID]; ok {
		st, err := Decode(cur)
		if err != nil {
			return err
		}
		actual = st.Revision
	}
	if actual != expected {
		return &ConflictError{SessionID: state.SessionID, Expected: expected, Actual: actual}
	}
	m.records[state.SessionID] = data
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
