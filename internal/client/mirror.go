package client

import (
	"sync"

	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/protocol"
)

// Mirror is the agent's local copy of room state. It is mutated only
// by applying hub envelopes; a fresh init replaces it wholesale.
type Mirror struct {
	mu      sync.RWMutex
	players map[domain.PlayerID]domain.Player
	chat    []domain.ChatMessage
	mood    domain.Mood
	chatCap int
}

func NewMirror(chatCap int) *Mirror {
	return &Mirror{
		players: make(map[domain.PlayerID]domain.Player),
		mood:    domain.DefaultMood,
		chatCap: chatCap,
	}
}

// Apply folds one hub envelope into the mirror.
func (m *Mirror) Apply(msg protocol.ServerMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case protocol.Init:
		m.players = make(map[domain.PlayerID]domain.Player, len(msg.Players))
		for _, p := range msg.Players {
			m.players[p.ID] = p
		}
		m.chat = append([]domain.ChatMessage(nil), msg.ChatHistory...)
		m.mood = msg.CurrentMood
	case protocol.PlayerJoined:
		m.players[msg.Player.ID] = msg.Player
	case protocol.PlayerMoved:
		if p, ok := m.players[msg.ID]; ok {
			p.Position = msg.Position
			p.Rotation = msg.Rotation
			p.IsActive = true
			m.players[msg.ID] = p
		}
	case protocol.PlayerLeft:
		delete(m.players, msg.ID)
	case protocol.ChatBroadcast:
		m.chat = append(m.chat, msg.Message)
		if m.chatCap > 0 && len(m.chat) > m.chatCap {
			m.chat = m.chat[len(m.chat)-m.chatCap:]
		}
	case protocol.MoodChange:
		m.mood = msg.Mood
	}
}

func (m *Mirror) Players() []domain.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

func (m *Mirror) Player(id domain.PlayerID) (domain.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	return p, ok
}

func (m *Mirror) Chat() []domain.ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ChatMessage(nil), m.chat...)
}

func (m *Mirror) Mood() domain.Mood {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mood
}
