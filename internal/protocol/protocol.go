// Package protocol defines the wire envelopes exchanged between a
// client and its room hub. Both sets are closed: a frame that does not
// decode into one of them is dropped by the caller, never surfaced.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moodroom/moodroom/internal/domain"
)

// Client-originated envelope types.
const (
	TypeJoin       = "join"
	TypeMove       = "move"
	TypeChat       = "chat"
	TypeUpdateMood = "update_mood"
	TypePing       = "ping"
)

// Hub-originated envelope types.
const (
	TypeInit         = "init"
	TypePlayerJoined = "player_joined"
	TypePlayerMoved  = "player_moved"
	TypePlayerLeft   = "player_left"
	TypeChatMessage  = "chat_message"
	TypeMoodChange   = "mood_change"
	TypePong         = "pong"
	TypeError        = "error"
)

var (
	ErrBadEnvelope = errors.New("protocol: malformed envelope")
	ErrUnknownType = errors.New("protocol: unknown envelope type")
)

// ClientMessage is the closed sum of client-originated envelopes.
type ClientMessage interface{ clientMessage() }

type Join struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	AvatarColor string `json:"avatarColor"`
}

type Move struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Position  domain.Vec3 `json:"position"`
	Rotation  float64     `json:"rotation"`
}

type Chat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

type UpdateMood struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Mood      domain.Mood `json:"mood"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (Join) clientMessage()       {}
func (Move) clientMessage()       {}
func (Chat) clientMessage()       {}
func (UpdateMood) clientMessage() {}
func (Ping) clientMessage()       {}

// DecodeClient parses a raw frame into the closed client set.
// Callers treat any error as "drop the frame".
func DecodeClient(data []byte) (ClientMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	switch probe.Type {
	case TypeJoin:
		var m Join
		return m, unmarshal(data, &m)
	case TypeMove:
		var m Move
		return m, unmarshal(data, &m)
	case TypeChat:
		var m Chat
		return m, unmarshal(data, &m)
	case TypeUpdateMood:
		var m UpdateMood
		return m, unmarshal(data, &m)
	case TypePing:
		var m Ping
		return m, unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return nil
}

// Encode marshals any envelope for the wire.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return b, nil
}

func now() int64 { return time.Now().UnixMilli() }

func NewJoin(name, avatar, avatarColor string) Join {
	return Join{Type: TypeJoin, Timestamp: now(), Name: name, Avatar: avatar, AvatarColor: avatarColor}
}

func NewMove(pos domain.Vec3, rot float64) Move {
	return Move{Type: TypeMove, Timestamp: now(), Position: pos, Rotation: rot}
}

func NewChat(text string) Chat {
	return Chat{Type: TypeChat, Timestamp: now(), Text: text}
}

func NewUpdateMood(mood domain.Mood) UpdateMood {
	return UpdateMood{Type: TypeUpdateMood, Timestamp: now(), Mood: mood}
}

func NewPing() Ping {
	return Ping{Type: TypePing, Timestamp: now()}
}
