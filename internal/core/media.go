package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is a capture-device track attachable to a PeerLink.
// pion/mediadevices tracks satisfy this.
type LocalTrack interface {
	webrtc.TrackLocal
	Close() error
}

// MediaDevices acquires the local camera+microphone. Acquire is
// idempotent per holder: a still-open handle is reused for a subsequent
// call. Release stops the underlying capture.
type MediaDevices interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
	Release()
}

// PeerLink is the offer/answer/ICE negotiation primitive. It is a thin
// port over the platform peer connection; no negotiation logic lives
// behind it.
type PeerLink interface {
	// Start configures internal callbacks and binds the link lifetime to ctx.
	Start(ctx context.Context) error
	// CreateAndSetOffer generates and applies the local offer.
	CreateAndSetOffer() (webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer to a link in the offering role.
	ApplyAnswer(sdp string) error
	// ApplyOfferAndCreateAnswer applies a remote offer and produces the
	// local answer.
	ApplyOfferAndCreateAnswer(sdp string) (webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a capture track for sending.
	AddLocalTrack(track LocalTrack) (*webrtc.RTPSender, error)
	// StopSenders stops every outbound track sender.
	StopSenders()
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(*webrtc.TrackRemote))
	// Close releases the underlying peer connection.
	Close()
}

// PeerFactory mints one PeerLink per call attempt.
type PeerFactory func() (PeerLink, error)

// VideoSurface is an opaque rendering sink the session writes stream
// handles into. No rendering logic is behind it.
type VideoSurface interface {
	BindLocal(tracks []LocalTrack)
	BindRemote(track *webrtc.TrackRemote)
	Clear()
}
