package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/moodroom/moodroom/internal/domain"
)

// ServerMessage is the closed sum of hub-originated envelopes.
type ServerMessage interface{ serverMessage() }

type Init struct {
	Type        string               `json:"type"`
	Timestamp   int64                `json:"timestamp"`
	Players     []domain.Player      `json:"players"`
	CurrentMood domain.Mood          `json:"currentMood"`
	ChatHistory []domain.ChatMessage `json:"chatHistory"`
}

type PlayerJoined struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Player    domain.Player `json:"player"`
}

type PlayerMoved struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	ID        domain.PlayerID `json:"id"`
	Position  domain.Vec3     `json:"position"`
	Rotation  float64         `json:"rotation"`
}

type PlayerLeft struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	ID        domain.PlayerID `json:"id"`
}

type ChatBroadcast struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Message   domain.ChatMessage `json:"message"`
}

type MoodChange struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Mood      domain.Mood `json:"mood"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorReply struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

func (Init) serverMessage()          {}
func (PlayerJoined) serverMessage()  {}
func (PlayerMoved) serverMessage()   {}
func (PlayerLeft) serverMessage()    {}
func (ChatBroadcast) serverMessage() {}
func (MoodChange) serverMessage()    {}
func (Pong) serverMessage()          {}
func (ErrorReply) serverMessage()    {}

func NewInit(players []domain.Player, mood domain.Mood, history []domain.ChatMessage) Init {
	return Init{Type: TypeInit, Timestamp: now(), Players: players, CurrentMood: mood, ChatHistory: history}
}

func NewPlayerJoined(p domain.Player) PlayerJoined {
	return PlayerJoined{Type: TypePlayerJoined, Timestamp: now(), Player: p}
}

func NewPlayerMoved(id domain.PlayerID, pos domain.Vec3, rot float64) PlayerMoved {
	return PlayerMoved{Type: TypePlayerMoved, Timestamp: now(), ID: id, Position: pos, Rotation: rot}
}

func NewPlayerLeft(id domain.PlayerID) PlayerLeft {
	return PlayerLeft{Type: TypePlayerLeft, Timestamp: now(), ID: id}
}

func NewChatBroadcast(m domain.ChatMessage) ChatBroadcast {
	return ChatBroadcast{Type: TypeChatMessage, Timestamp: now(), Message: m}
}

func NewMoodChange(mood domain.Mood) MoodChange {
	return MoodChange{Type: TypeMoodChange, Timestamp: now(), Mood: mood}
}

func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: now()}
}

func NewErrorReply(msg string) ErrorReply {
	return ErrorReply{Type: TypeError, Timestamp: now(), Message: msg}
}

// DecodeServer parses a raw frame into the closed server set. The
// client agent drops frames that fail to decode, mirroring the hub.
func DecodeServer(data []byte) (ServerMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	switch probe.Type {
	case TypeInit:
		var m Init
		return m, unmarshal(data, &m)
	case TypePlayerJoined:
		var m PlayerJoined
		return m, unmarshal(data, &m)
	case TypePlayerMoved:
		var m PlayerMoved
		return m, unmarshal(data, &m)
	case TypePlayerLeft:
		var m PlayerLeft
		return m, unmarshal(data, &m)
	case TypeChatMessage:
		var m ChatBroadcast
		return m, unmarshal(data, &m)
	case TypeMoodChange:
		var m MoodChange
		return m, unmarshal(data, &m)
	case TypePong:
		var m Pong
		return m, unmarshal(data, &m)
	case TypeError:
		var m ErrorReply
		return m, unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}
