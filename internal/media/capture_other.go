//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/qtrack/consult/internal/core"
)

// capture requires platform drivers (V4L2 and malgo on Linux); other
// platforms run chat-only.
func capture(_ context.Context) ([]core.LocalTrack, string, error) {
	return nil, "", ErrNoCapture
}
