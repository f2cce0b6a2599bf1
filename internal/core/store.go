package core

import (
	"context"

	"github.com/qtrack/consult/internal/domain"
)

// MessageStore is the portal REST boundary for chat messages.
type MessageStore interface {
	// Messages returns a room's history, oldest first.
	Messages(ctx context.Context, room domain.RoomID) ([]domain.Message, error)
	// Send persists a message and returns the authoritative entry with
	// server-assigned id and timestamp. The error, if any, carries the
	// server's human-readable reason.
	Send(ctx context.Context, room domain.RoomID, role domain.Role, text string) (domain.Message, error)
}
