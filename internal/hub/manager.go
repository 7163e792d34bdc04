package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moodroom/moodroom/internal/config"
	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/store"
)

// Manager owns the set of live rooms. Rooms run concurrently and
// independently; the manager only creates, lists and stops them.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	store  store.RoomStore

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewManager(parent context.Context, cfg *config.Config, st store.RoomStore) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		store:  st,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the live room for id, starting its actor on
// first use. The room store is consulted for metadata; a miss does not
// block creation, the store is advisory.
func (m *Manager) GetOrCreate(id domain.RoomID) *Room {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room
	}

	m.seedMeta(id)

	room = NewRoom(m.ctx, id, m.cfg, m.remove)
	m.rooms[id] = room
	go room.Run()
	log.Info().Str("module", "hub.manager").Str("room", string(id)).Msg("room created")
	return room
}

func (m *Manager) seedMeta(id domain.RoomID) {
	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()

	meta, found, err := m.store.Lookup(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub.manager").Str("room", string(id)).Msg("room store lookup failed")
		return
	}
	if found {
		log.Info().Str("module", "hub.manager").Str("room", string(id)).Str("title", meta.Title).Msg("room metadata found")
		return
	}
	meta = domain.RoomMeta{ID: id, Title: string(id), CreatedAt: time.Now()}
	if err := m.store.Save(ctx, meta); err != nil {
		log.Warn().Err(err).Str("module", "hub.manager").Str("room", string(id)).Msg("room store save failed")
	}
}

func (m *Manager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

func (m *Manager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Info())
	}
	return out
}

func (m *Manager) Stop(id domain.RoomID) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		room.Stop()
	}
}

// Shutdown stops every room. Individual loops finish their teardown
// asynchronously.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	m.rooms = make(map[domain.RoomID]*Room)
	m.mu.Unlock()
	log.Info().Str("module", "hub.manager").Msg("manager shut down")
}

func (m *Manager) remove(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
}
