package voicecall

import (
	"context"
	"errors"
)

// Device errors. Capture sources must map their host-specific failures onto
// these so callers can tell the user what went wrong; none of them is
// retried automatically.
var (
	ErrDevicePermission = errors.New("voicecall: capture permission denied")
	ErrDeviceNotFound   = errors.New("voicecall: capture device not found")
	ErrDeviceInUse      = errors.New("voicecall: capture device in use")
)

// CaptureSource supplies mono float32 frames at its native sample rate, the
// way a microphone render callback would. Start may block on a permission
// prompt. The returned channel is closed when the source stops.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan []float32, error)
	SampleRate() int
	Stop() error
}

// OutputSink plays mono float32 audio scheduled against its own clock.
// Implementations must honor the requested start time; the scheduler
// guarantees starts are monotonically non-decreasing.
type OutputSink interface {
	// Now returns the current position of the sink clock in seconds.
	Now() float64
	SampleRate() int
	// PlayAt queues buf to begin playing at start on the sink clock.
	PlayAt(buf []float32, start float64)
}
