package repository

import (
	"context"

	"automatic-succotash/internal/memory"
)

// Document keys owned by this service inside learning_state.
const (
	DocumentAIMemory         = "ai_long_term_memory"
	DocumentHistoricalMemory = "historical_research_memory"
)

type documentStore interface {
	LoadDocument(ctx context.Context, key string, out any) (bool, error)
	SaveDocument(ctx context.Context, key string, doc any) error
}

// MemoryStore adapts one learning_state document to the adaptive-memory
// Store interface.
type MemoryStore struct {
	store documentStore
	key   string
}

func NewMemoryStore(store *StateRepository, key string) *MemoryStore {
	return &MemoryStore{store: store, key: key}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]memory.Entry, error) {
	entries := map[string]memory.Entry{}
	found, err := s.store.LoadDocument(ctx, s.key, &entries)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return entries, nil
}

func (s *MemoryStore) Save(ctx context.Context, entries map[string]memory.Entry) error {
	return s.store.SaveDocument(ctx, s.key, entries)
}
