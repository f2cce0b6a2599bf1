// Package queue estimates a patient's remaining wait from their queue
// position. The portal only reports position; the countdown between
// polls is synthesized locally and resets only when the reported
// position actually changes.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTickInterval = time.Second
	defaultPerPatient   = 8 * time.Minute
)

// StatusWaiting is the only state that keeps the countdown running.
const StatusWaiting = "waiting"

// Status is one poll of the patient's queue standing.
type Status struct {
	Position int
	State    string
}

// StatusFunc fetches the current queue status, usually rest.Client.Queue.
type StatusFunc func(ctx context.Context) (Status, error)

// Snapshot is what the UI renders: position, state and the synthesized
// countdown.
type Snapshot struct {
	Position        int
	Status          string
	Remaining       time.Duration
	InitialEstimate time.Duration
}

type Config struct {
	Status       StatusFunc
	PollInterval time.Duration
	TickInterval time.Duration
	// PerPatient is the assumed consult length used for the estimate.
	PerPatient time.Duration
	OnUpdate   func(Snapshot)
}

type Estimator struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	snap    Snapshot
	lastPos int
	polled  bool
}

func New(cfg Config) *Estimator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.PerPatient <= 0 {
		cfg.PerPatient = defaultPerPatient
	}
	return &Estimator{cfg: cfg, done: make(chan struct{})}
}

func (e *Estimator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.run(ctx)
}

func (e *Estimator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

// Done is closed when the estimator stops, either via Stop or because
// the queue state left "waiting".
func (e *Estimator) Done() <-chan struct{} {
	return e.done
}

func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *Estimator) run(ctx context.Context) {
	defer close(e.done)

	if !e.poll(ctx) {
		return
	}

	pollT := time.NewTicker(e.cfg.PollInterval)
	defer pollT.Stop()
	tickT := time.NewTicker(e.cfg.TickInterval)
	defer tickT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollT.C:
			if !e.poll(ctx) {
				return
			}
		case <-tickT.C:
			e.tick()
		}
	}
}

// poll fetches the queue status and reports whether the countdown
// should keep running.
func (e *Estimator) poll(ctx context.Context) bool {
	st, err := e.cfg.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Debug().Err(err).Str("module", "queue").Msg("status poll failed")
		return true
	}

	base := time.Duration(st.Position-1) * e.cfg.PerPatient
	if base < 0 {
		base = 0
	}

	e.mu.Lock()
	e.snap.Position = st.Position
	e.snap.Status = st.State
	if !e.polled || e.lastPos != st.Position {
		e.polled = true
		e.lastPos = st.Position
		e.snap.Remaining = base
		e.snap.InitialEstimate = base
	}
	snap := e.snap
	e.mu.Unlock()

	e.notify(snap)
	if st.State != StatusWaiting {
		log.Info().Str("module", "queue").Str("status", st.State).Msg("left waiting state")
		return false
	}
	return true
}

func (e *Estimator) tick() {
	e.mu.Lock()
	e.snap.Remaining -= e.cfg.TickInterval
	if e.snap.Remaining < 0 {
		e.snap.Remaining = 0
	}
	snap := e.snap
	e.mu.Unlock()
	e.notify(snap)
}

func (e *Estimator) notify(snap Snapshot) {
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate(snap)
	}
}
