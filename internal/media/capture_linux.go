//go:build linux && cgo

package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/core"
)

// capture opens camera+microphone with graceful fallback. GetUserMedia
// fails as a unit if either track can't be opened, so try video+audio
// first, then video-only, then audio-only: a busy microphone must not
// prevent the camera from working and vice versa.
func capture(ctx context.Context) ([]core.LocalTrack, string, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, "", err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, "", err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Warn().Str("module", "media").Msg("no media devices found")
	}
	for _, d := range devices {
		log.Debug().Str("module", "media").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG: some cameras expose an MJPEG V4L2 node
				// with malformed JPEG frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("constraints", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		out := make([]core.LocalTrack, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Debug().Err(err).Str("module", "media").Msg("local track ended")
				}
			})
			out = append(out, track)
		}
		return out, a.label, nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNoCapture, lastErr)
	}
	return nil, "", ErrNoCapture
}
