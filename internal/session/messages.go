package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/domain"
)

// SendMessage appends an optimistic pending entry, then invokes the
// store. On success the pending entry is replaced in place by the
// authoritative message; on failure it is removed and the store's
// error is returned to the caller. Empty input after trimming is a
// no-op.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	pending := domain.Message{
		ID:         domain.TempIDPrefix + uuid.NewString(),
		RoomID:     s.room,
		SenderRole: s.role,
		Text:       trimmed,
		CreatedAt:  time.Now().UTC(),
	}
	if !s.post(func() {
		if s.closed {
			return
		}
		s.messages = append(s.messages, pending)
		s.notifyMessages()
	}) {
		return ErrClosed
	}

	msg, err := s.cfg.Store.Send(ctx, s.room, s.role, trimmed)
	if err != nil {
		s.post(func() {
			if s.closed {
				return
			}
			s.removeEntry(pending.ID)
			s.notifyMessages()
		})
		return err
	}

	s.post(func() {
		if s.closed {
			return
		}
		s.confirmPending(pending.ID, msg)
		s.notifyMessages()
	})
	return nil
}

// applyIncoming applies one live message event, loop-side.
// Dedup policy, in order: stable id already present → discard; no
// stable id but exact (text, timestamp) match → discard; else append,
// preserving arrival order.
func (s *Session) applyIncoming(msg domain.Message) {
	for _, m := range s.messages {
		if m.SameEntry(msg) {
			log.Debug().Str("module", "session").Str("room", string(s.room)).Str("id", msg.ID).Msg("duplicate message dropped")
			return
		}
	}
	s.messages = append(s.messages, msg)
	s.notifyMessages()
}

// confirmPending swaps the pending entry for the authoritative one,
// keeping its position. If the channel echo already delivered the
// confirmed message, the pending entry is dropped instead so the
// stable-id uniqueness invariant holds.
func (s *Session) confirmPending(tempID string, msg domain.Message) {
	if msg.ID != "" {
		for _, m := range s.messages {
			if m.ID == msg.ID {
				s.removeEntry(tempID)
				return
			}
		}
	}
	for i, m := range s.messages {
		if m.ID == tempID {
			s.messages[i] = msg
			return
		}
	}
}

func (s *Session) removeEntry(id string) {
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}
