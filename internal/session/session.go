// Package session implements the realtime consult session: a live view
// of one room's message history plus the signaling lifecycle of at most
// one concurrent video call.
//
// All session state is owned by a single event loop goroutine. Public
// commands and channel events are serialized onto that loop; blocking
// work (REST send, media acquisition, SDP generation) runs on the
// caller's goroutine and posts guarded completions back, so a stale
// completion that contradicts the current state is discarded rather
// than applied.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
	"github.com/qtrack/consult/internal/domain"
)

var ErrClosed = errors.New("session closed")

// Handler receives view-facing notifications. All callbacks are invoked
// from the session loop; nil fields are skipped.
type Handler struct {
	// OnMessages receives a fresh snapshot after every list change.
	OnMessages func([]domain.Message)
	// OnCallState receives every call state transition.
	OnCallState func(domain.CallState)
	// OnConnecting flips with the channel's connectivity. There is no
	// hard transport error: the view degrades to a connecting indicator
	// until the transport reconnects.
	OnConnecting func(bool)
}

// Config wires a session's collaborators. Channel, Store and Peers are
// required; Devices is required for call support; Surface and Handler
// are optional.
type Config struct {
	Room    domain.RoomID
	Role    domain.Role
	Channel core.Channel
	Store   core.MessageStore
	Devices core.MediaDevices
	Peers   core.PeerFactory
	Surface core.VideoSurface
	Handler Handler
}

// Session owns one room's channel and call lifecycle. Create with New,
// start with Open, release with Close.
type Session struct {
	cfg  Config
	room domain.RoomID
	role domain.Role

	ops  chan func()
	done chan struct{}

	closeOnce sync.Once
	postMu    sync.RWMutex
	quitting  bool

	// Loop-owned state. Never touched off-loop.
	closed   bool
	messages []domain.Message
	call     domain.CallState
	peer     core.PeerLink
	local    []core.LocalTrack
	offer    string // pending remote offer SDP, patient side
	disposer []func()
}

func New(cfg Config) *Session {
	s := &Session{
		cfg:  cfg,
		room: cfg.Room,
		role: cfg.Role,
		ops:  make(chan func(), 64),
		done: make(chan struct{}),
		call: domain.CallIdle,
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			// ops queued before the quit barrier still run, with the
			// closed flag set, so late completions take their cleanup
			// path instead of vanishing and stranding do() callers.
			for {
				select {
				case op := <-s.ops:
					op()
				default:
					return
				}
			}
		case op := <-s.ops:
			op()
		}
	}
}

// post schedules op on the loop. Returns false once the session is
// closed; callers treat that as a discarded stale completion. Holding
// the read lock across the send means Close's quit barrier cannot pass
// while a post is in flight, so every accepted op is either executed by
// the loop or by the drain after done fires.
func (s *Session) post(op func()) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.quitting {
		return false
	}
	s.ops <- op
	return true
}

// call runs op on the loop and waits for it.
func (s *Session) do(op func()) bool {
	ack := make(chan struct{})
	if !s.post(func() {
		op()
		close(ack)
	}) {
		return false
	}
	<-ack
	return true
}

// Open seeds the message list from history, then subscribes to live
// events and announces the room and role. History failures are not
// fatal: the list starts empty and live events still apply.
func (s *Session) Open(ctx context.Context) error {
	history, err := s.cfg.Store.Messages(ctx, s.room)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("history load failed")
		history = nil
	}

	ok := s.do(func() {
		s.messages = append(s.messages[:0], history...)
		s.notifyMessages()

		cancelEvents := s.cfg.Channel.Subscribe(s.onEvent)
		cancelConn := s.cfg.Channel.OnConnState(func(connected bool) {
			s.post(func() {
				if s.closed {
					return
				}
				if s.cfg.Handler.OnConnecting != nil {
					s.cfg.Handler.OnConnecting(!connected)
				}
			})
		})
		s.disposer = append(s.disposer, cancelEvents, cancelConn)

		if s.cfg.Handler.OnConnecting != nil && !s.cfg.Channel.Connected() {
			s.cfg.Handler.OnConnecting(true)
		}
	})
	if !ok {
		return ErrClosed
	}

	s.cfg.Channel.Join(s.room)
	s.cfg.Channel.Identify(s.role)
	log.Info().Str("module", "session").Str("room", string(s.room)).Str("role", string(s.role)).Msg("session opened")
	return nil
}

// onEvent is invoked from the channel's read loop; it reposts onto the
// session loop. Events scoped to another room are dropped here.
func (s *Session) onEvent(ev core.Event) {
	s.post(func() {
		if s.closed {
			return
		}
		switch ev.Type {
		case core.EventMessage:
			if ev.Message == nil || ev.Message.RoomID != s.room {
				return
			}
			s.applyIncoming(*ev.Message)
		case core.EventOffer:
			if ev.Room != s.room {
				return
			}
			s.handleRemoteOffer(ev.SDP)
		case core.EventAnswer:
			if ev.Room != s.room {
				return
			}
			s.handleRemoteAnswer(ev.SDP)
		case core.EventCandidate:
			if ev.Room != s.room || ev.Candidate == nil {
				return
			}
			s.handleRemoteCandidate(*ev.Candidate)
		case core.EventEnd:
			if ev.Room != s.room {
				return
			}
			s.handleRemoteEnd()
		}
	})
}

// Messages returns a snapshot of the room's message list.
func (s *Session) Messages() []domain.Message {
	var out []domain.Message
	s.do(func() {
		out = append(out, s.messages...)
	})
	return out
}

// CallState returns the current call state.
func (s *Session) CallState() domain.CallState {
	st := domain.CallIdle
	s.do(func() {
		st = s.call
	})
	return st
}

// Close tears down any active call, disposes the event subscriptions
// and disconnects the channel. Synchronous: resources are released
// before it returns, and in-flight completions arriving later are
// discarded against the closed flag.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.do(func() {
			s.closed = true
			s.teardown(false)
			for _, cancel := range s.disposer {
				cancel()
			}
			s.disposer = nil
		})
		s.postMu.Lock()
		s.quitting = true
		s.postMu.Unlock()
		close(s.done)
		s.cfg.Channel.Close()
		log.Info().Str("module", "session").Str("room", string(s.room)).Msg("session closed")
	})
}

func (s *Session) notifyMessages() {
	if s.cfg.Handler.OnMessages == nil {
		return
	}
	snap := make([]domain.Message, len(s.messages))
	copy(snap, s.messages)
	s.cfg.Handler.OnMessages(snap)
}

func (s *Session) setCall(st domain.CallState) {
	if s.call == st {
		return
	}
	s.call = st
	log.Debug().Str("module", "session").Str("room", string(s.room)).Str("state", string(st)).Msg("call state")
	if s.cfg.Handler.OnCallState != nil {
		s.cfg.Handler.OnCallState(st)
	}
}
