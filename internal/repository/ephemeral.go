package repository

import (
	"context"
	"encoding/json"
	"sync"
)

// EphemeralStateStore keeps documents in process memory. Used when no
// DATABASE_URL is configured so learning still runs, without persistence.
type EphemeralStateStore struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

func NewEphemeralStateStore() *EphemeralStateStore {
	return &EphemeralStateStore{docs: make(map[string]json.RawMessage)}
}

func (s *EphemeralStateStore) LoadDocument(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return decodeDocument(key, raw, out), nil
}

func (s *EphemeralStateStore) SaveDocument(ctx context.Context, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[key] = data
	s.mu.Unlock()
	return nil
}
