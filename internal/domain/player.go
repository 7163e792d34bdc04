package domain

import "time"

type (
	RoomID   string
	PlayerID string
)

// Vec3 is a position in room space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Player is the authoritative per-connection session state.
// ID equals the connection identity assigned by the hub.
type Player struct {
	ID          PlayerID  `json:"id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"`
	AvatarColor string    `json:"avatarColor"`
	Position    Vec3      `json:"position"`
	Rotation    float64   `json:"rotation"` // radians
	IsActive    bool      `json:"isActive"`
	LastActive  time.Time `json:"lastActive"`
}
