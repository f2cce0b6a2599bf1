// Package media acquires the local camera and microphone through
// pion/mediadevices and exposes them as attachable tracks.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
)

// ErrNoCapture is returned when every capture attempt failed or the
// platform has no capture drivers.
var ErrNoCapture = errors.New("media capture unavailable")

// captureFn is swapped out in tests.
var captureFn = capture

// Devices implements core.MediaDevices over the platform capture stack.
// A live handle is reused by subsequent Acquire calls until Release.
type Devices struct {
	mu     sync.Mutex
	tracks []core.LocalTrack
}

func NewDevices() *Devices {
	return &Devices{}
}

func (d *Devices) Acquire(ctx context.Context) ([]core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tracks) > 0 {
		return d.tracks, nil
	}
	tracks, label, err := captureFn(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "media").Str("constraints", label).Int("tracks", len(tracks)).Msg("local media captured")
	d.tracks = tracks
	return tracks, nil
}

func (d *Devices) Release() {
	d.mu.Lock()
	tracks := d.tracks
	d.tracks = nil
	d.mu.Unlock()
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("track close")
		}
	}
	if len(tracks) > 0 {
		log.Info().Str("module", "media").Int("tracks", len(tracks)).Msg("local media released")
	}
}
