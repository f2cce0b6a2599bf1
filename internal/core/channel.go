package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/qtrack/consult/internal/domain"
)

// Event types carried over the room channel, both directions.
const (
	EventJoin      = "join"
	EventIdentify  = "identify"
	EventMessage   = "message"
	EventOffer     = "offer"
	EventAnswer    = "answer"
	EventCandidate = "ice-candidate"
	EventEnd       = "end"
)

// Event is one channel frame. Only the fields relevant to Type are set.
type Event struct {
	Type      string                   `json:"type"`
	Room      domain.RoomID            `json:"roomId,omitempty"`
	Role      domain.Role              `json:"role,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Message   *domain.Message          `json:"message,omitempty"`
}

// Channel is the bidirectional room transport. One session owns one
// channel per mount; the channel is not shared across rooms or reused
// across remounts.
//
// Connectivity is best effort: Emit on a disconnected channel returns an
// error, the transport reconnects in the background and replays
// join/identify, and the caller only ever observes Connected flips.
type Channel interface {
	// Join announces the room scope for subsequent inbound events.
	Join(room domain.RoomID)
	// Identify announces the local role to the signaling peer.
	Identify(role domain.Role)
	// Emit sends one event. Never blocks on a slow link.
	Emit(Event) error
	// Subscribe registers fn for every inbound event and returns a
	// disposer. fn is called from the transport's read loop.
	Subscribe(fn func(Event)) (cancel func())
	// OnConnState registers fn for connect/disconnect flips.
	OnConnState(fn func(connected bool)) (cancel func())
	Connected() bool
	Close()
}
