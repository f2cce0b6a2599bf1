package session

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
	"github.com/qtrack/consult/internal/domain"
)

// StartCall originates a call. Valid only for a doctor with no call in
// progress; anything else is a silent no-op. Media or negotiation
// failures are absorbed: the state does not advance and the call simply
// does not start (logged at warn so operators are not blind).
func (s *Session) StartCall(ctx context.Context) {
	allowed := false
	ok := s.do(func() {
		allowed = !s.closed && s.role == domain.RoleDoctor && s.call == domain.CallIdle
	})
	if !ok || !allowed {
		return
	}

	peer, tracks, sdp, err := s.dialPeer(ctx, "")
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("start call failed")
		return
	}

	posted := s.post(func() {
		if s.closed || s.call != domain.CallIdle {
			s.discardDial(peer)
			return
		}
		s.attachPeer(peer, tracks)
		if err := s.cfg.Channel.Emit(core.Event{Type: core.EventOffer, Room: s.room, SDP: sdp}); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("offer emit failed")
		}
		s.setCall(domain.CallOffering)
	})
	if !posted {
		peer.Close()
		s.cfg.Devices.Release()
	}
}

// AcceptCall answers a ringing incoming call. Valid only for a patient
// holding a remote offer.
func (s *Session) AcceptCall(ctx context.Context) {
	remoteOffer := ""
	ok := s.do(func() {
		if !s.closed && s.role == domain.RolePatient && s.call == domain.CallRingingIncoming {
			remoteOffer = s.offer
		}
	})
	if !ok || remoteOffer == "" {
		return
	}

	peer, tracks, sdp, err := s.dialPeer(ctx, remoteOffer)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("accept call failed")
		return
	}

	posted := s.post(func() {
		if s.closed || s.call != domain.CallRingingIncoming {
			s.discardDial(peer)
			return
		}
		s.attachPeer(peer, tracks)
		s.offer = ""
		if err := s.cfg.Channel.Emit(core.Event{Type: core.EventAnswer, Room: s.room, SDP: sdp}); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("answer emit failed")
		}
		s.setCall(domain.CallActive)
	})
	if !posted {
		peer.Close()
		s.cfg.Devices.Release()
	}
}

// DeclineCall rejects a ringing incoming call: clears the stored offer
// and signals end, without ever acquiring media or a peer connection.
func (s *Session) DeclineCall() {
	s.do(func() {
		if s.closed || s.call != domain.CallRingingIncoming {
			return
		}
		s.offer = ""
		if err := s.cfg.Channel.Emit(core.Event{Type: core.EventEnd, Room: s.room}); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("end emit failed")
		}
		s.setCall(domain.CallIdle)
	})
}

// EndCall hangs up from Offering or Active: signals end, then tears
// down.
func (s *Session) EndCall() {
	s.do(func() {
		if s.closed || (s.call != domain.CallOffering && s.call != domain.CallActive) {
			return
		}
		if err := s.cfg.Channel.Emit(core.Event{Type: core.EventEnd, Room: s.room}); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("end emit failed")
		}
		s.teardown(true)
	})
}

// dialPeer performs the blocking half of call setup on the caller's
// goroutine: acquire capture, mint a peer link, attach tracks and
// produce the local description. With an empty remoteOffer it creates
// an offer; otherwise it applies the offer and creates an answer.
func (s *Session) dialPeer(ctx context.Context, remoteOffer string) (core.PeerLink, []core.LocalTrack, string, error) {
	if s.cfg.Devices == nil || s.cfg.Peers == nil {
		return nil, nil, "", errors.New("session has no media support")
	}
	tracks, err := s.cfg.Devices.Acquire(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	peer, err := s.cfg.Peers()
	if err != nil {
		return nil, nil, "", err
	}
	s.wirePeer(peer)
	if err := peer.Start(ctx); err != nil {
		peer.Close()
		return nil, nil, "", err
	}
	for _, t := range tracks {
		if _, err := peer.AddLocalTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("add local track")
		}
	}

	var desc webrtc.SessionDescription
	if remoteOffer == "" {
		desc, err = peer.CreateAndSetOffer()
	} else {
		desc, err = peer.ApplyOfferAndCreateAnswer(remoteOffer)
	}
	if err != nil {
		peer.Close()
		return nil, nil, "", err
	}
	return peer, tracks, desc.SDP, nil
}

func (s *Session) wirePeer(peer core.PeerLink) {
	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		cand := ci
		if err := s.cfg.Channel.Emit(core.Event{Type: core.EventCandidate, Room: s.room, Candidate: &cand}); err != nil {
			log.Debug().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("candidate emit failed")
		}
	})
	peer.OnTrack(func(track *webrtc.TrackRemote) {
		s.post(func() {
			if s.closed || s.peer == nil {
				return
			}
			if s.cfg.Surface != nil {
				s.cfg.Surface.BindRemote(track)
			}
		})
	})
}

// discardDial disposes a stale dial completion, loop-side. The capture
// handle is shared: when a winning call already attached it (s.local
// set), only the loser's peer goes away and the capture stays live.
func (s *Session) discardDial(peer core.PeerLink) {
	peer.Close()
	if s.local == nil {
		s.cfg.Devices.Release()
	}
}

// attachPeer records the negotiated link and binds the local preview.
// Loop-side only.
func (s *Session) attachPeer(peer core.PeerLink, tracks []core.LocalTrack) {
	s.peer = peer
	s.local = tracks
	if s.cfg.Surface != nil {
		s.cfg.Surface.BindLocal(tracks)
	}
}

// handleRemoteOffer stores the offer and rings. Patient side only, and
// only from Idle: a second offer during an in-progress call is dropped.
func (s *Session) handleRemoteOffer(sdp string) {
	if s.role != domain.RolePatient || s.call != domain.CallIdle || sdp == "" {
		log.Debug().Str("module", "session").Str("room", string(s.room)).Str("state", string(s.call)).Msg("offer dropped")
		return
	}
	s.offer = sdp
	s.setCall(domain.CallRingingIncoming)
}

// handleRemoteAnswer completes the doctor-side handshake. A state
// mismatch (no live peer, not offering) drops the event without error;
// signals racing a hangup are expected.
func (s *Session) handleRemoteAnswer(sdp string) {
	if s.call != domain.CallOffering || s.peer == nil {
		log.Debug().Str("module", "session").Str("room", string(s.room)).Str("state", string(s.call)).Msg("answer dropped")
		return
	}
	if err := s.peer.ApplyAnswer(sdp); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("apply answer failed")
		return
	}
	s.setCall(domain.CallActive)
}

// handleRemoteCandidate applies a candidate whenever a peer exists.
// Missing peer or malformed candidates are expected during setup races.
func (s *Session) handleRemoteCandidate(ci webrtc.ICECandidateInit) {
	if s.peer == nil {
		log.Debug().Str("module", "session").Str("room", string(s.room)).Msg("candidate dropped, no peer")
		return
	}
	if err := s.peer.AddICECandidate(ci); err != nil {
		log.Debug().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("candidate rejected")
	}
}

// handleRemoteEnd mirrors EndCall's teardown without re-transmitting
// the signal. Safe from any state.
func (s *Session) handleRemoteEnd() {
	s.teardown(true)
}

// teardown stops senders and local capture, closes and clears the peer
// link and stored offer, clears the surface bindings and lands in Idle.
// notify controls whether a state-change callback fires; Close passes
// false because the view is unmounting.
func (s *Session) teardown(notify bool) {
	if s.peer != nil {
		s.peer.StopSenders()
		s.peer.Close()
		s.peer = nil
	}
	if s.cfg.Devices != nil && s.local != nil {
		s.cfg.Devices.Release()
	}
	s.local = nil
	s.offer = ""
	if s.cfg.Surface != nil {
		s.cfg.Surface.Clear()
	}
	if notify {
		s.setCall(domain.CallIdle)
	} else {
		s.call = domain.CallIdle
	}
}
