// Package domain contains entities without logic, just meta-data.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TempIDPrefix marks locally-synthesized message ids that have not been
// confirmed by the server yet.
const TempIDPrefix = "temp:"

// Message is one chat entry in a room. ID is the single normalized
// identifier: the portal historically emitted both `_id` and `id`, so
// decoding accepts either and the rest of the codebase only ever sees ID.
type Message struct {
	ID         string    `json:"id,omitempty"`
	RoomID     RoomID    `json:"roomId"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Pending reports whether the message is an optimistic local entry still
// waiting for server confirmation.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// SameEntry implements the de-duplication identity: stable ids match by
// id; entries without a stable id match by exact (text, timestamp).
func (m Message) SameEntry(other Message) bool {
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	if m.ID == "" && other.ID == "" {
		return m.Text == other.Text && m.CreatedAt.Equal(other.CreatedAt)
	}
	return false
}

type messageWire struct {
	ID         string    `json:"id,omitempty"`
	MongoID    string    `json:"_id,omitempty"`
	RoomID     RoomID    `json:"roomId"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id := w.ID
	if id == "" {
		id = w.MongoID
	}
	*m = Message{
		ID:         id,
		RoomID:     w.RoomID,
		SenderRole: w.SenderRole,
		Text:       w.Text,
		CreatedAt:  w.CreatedAt,
	}
	return nil
}
