package domain

import (
	"fmt"
	"time"
)

// MaxChatLength is the longest accepted chat text, in characters.
const MaxChatLength = 500

// ChatMessage is immutable once appended to a room's history.
// SenderName is a snapshot taken at send time.
type ChatMessage struct {
	ID         string   `json:"id"`
	SenderID   PlayerID `json:"senderId"`
	SenderName string   `json:"senderName"`
	Text       string   `json:"text"`
	Timestamp  int64    `json:"timestamp"` // unix millis
}

// NewChatMessage builds a message whose ID is derived from the sender
// and the send time.
func NewChatMessage(sender PlayerID, senderName, text string, at time.Time) ChatMessage {
	ts := at.UnixMilli()
	return ChatMessage{
		ID:         fmt.Sprintf("%s-%d", sender, ts),
		SenderID:   sender,
		SenderName: senderName,
		Text:       text,
		Timestamp:  ts,
	}
}
