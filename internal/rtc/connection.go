// Package rtc adapts pion's PeerConnection to the core.PeerLink port.
package rtc

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
)

type Connection struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(*webrtc.TrackRemote)

	mu      sync.Mutex
	senders []*webrtc.RTPSender
}

func DefaultConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

func NewConnection(cfg webrtc.Configuration) (*Connection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc}, nil
}

// Factory returns a core.PeerFactory minting fresh connections with cfg.
func Factory(cfg webrtc.Configuration) core.PeerFactory {
	return func() (core.PeerLink, error) {
		return NewConnection(cfg)
	}
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})

	return nil
}

func (c *Connection) CreateAndSetOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete

	return *c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (c *Connection) ApplyOfferAndCreateAnswer(sdp string) (webrtc.SessionDescription, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete

	return *c.pc.LocalDescription(), nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) AddLocalTrack(track core.LocalTrack) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.senders = append(c.senders, sender)
	c.mu.Unlock()
	return sender, nil
}

func (c *Connection) StopSenders() {
	c.mu.Lock()
	senders := c.senders
	c.senders = nil
	c.mu.Unlock()
	for _, s := range senders {
		if err := s.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("sender stop")
		}
	}
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.onTrack = fn
}

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Msg("closed")
		}
	}
}
