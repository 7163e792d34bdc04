// Package store is the persisted-room collaborator: it holds room
// metadata for the surrounding application and knows nothing about
// live session state.
package store

import (
	"context"
	"sync"

	"github.com/moodroom/moodroom/internal/domain"
)

type RoomStore interface {
	Lookup(ctx context.Context, id domain.RoomID) (domain.RoomMeta, bool, error)
	Save(ctx context.Context, meta domain.RoomMeta) error
}

// MemoryStore is the default backend.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]domain.RoomMeta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[domain.RoomID]domain.RoomMeta)}
}

func (s *MemoryStore) Lookup(_ context.Context, id domain.RoomID) (domain.RoomMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.rooms[id]
	return meta, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, meta domain.RoomMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[meta.ID] = meta
	return nil
}
