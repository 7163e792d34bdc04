// Package domain contains entity types without logic, just meta-data.
package domain

import "time"

// Mood is the room's shared mood value, last-writer-wins.
type Mood string

const DefaultMood Mood = "chill"

// RoomMeta is the persisted room record kept by the surrounding
// application. Live session state never touches it.
type RoomMeta struct {
	ID        RoomID    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
