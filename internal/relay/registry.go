package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/domain"
)

// roomCapacity keeps consult rooms two-party: one doctor, one patient.
const roomCapacity = 2

// SessionID is the client token minted per browser/agent connection.
type SessionID string

type entry struct {
	Room   domain.RoomID
	Role   domain.Role
	Conn   *wsConn
	Cancel context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*entry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*entry)}
}

func (r *Registry) Bind(sid SessionID, conn *wsConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[sid]; ok && prev.Cancel != nil {
		prev.Cancel()
	}
	r.sessions[sid] = &entry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("unbound session")
}

// SetRoom scopes the session to a room. It fails when the room already
// holds two other members.
func (r *Registry) SetRoom(sid SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	members := 0
	for other, oe := range r.sessions {
		if other != sid && oe.Room == room {
			members++
		}
	}
	if members >= roomCapacity {
		log.Warn().Str("module", "relay.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("room full")
		return false
	}
	e.Room = room
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("joined room")
	return true
}

func (r *Registry) SetRole(sid SessionID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Role = role
	return true
}

func (r *Registry) RoomOf(sid SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

type memberSnap struct {
	SID  SessionID
	Role domain.Role
	Conn *wsConn
}

func (r *Registry) MembersOf(room domain.RoomID) []memberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memberSnap, 0, roomCapacity)
	for sid, e := range r.sessions {
		if e.Room == room {
			out = append(out, memberSnap{SID: sid, Role: e.Role, Conn: e.Conn})
		}
	}
	return out
}
