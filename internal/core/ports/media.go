package ports

import (
	"context"

	"vigia/internal/core/domain"
)

// CaptureConstraints are the target parameters for a display capture.
type CaptureConstraints struct {
	Width     int
	Height    int
	FrameRate int
	Audio     bool
}

// ScreenCapture acquires the participant's outgoing media stream. Failures
// carry the capture error taxonomy from pkg/errors (denied, unsupported,
// other) so the caller can map them to distinct user-facing messages.
type ScreenCapture interface {
	Capture(ctx context.Context, c CaptureConstraints) (domain.MediaStream, error)
}

// RenderSink accepts received media streams for display or forwarding.
// Rendering a nil stream clears the slot.
type RenderSink interface {
	Render(id domain.StreamID, stream domain.MediaStream) error
}
