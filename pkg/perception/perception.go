// Package perception drives face tracking at a fixed cadence and hands the
// results to the identity interpolator and the pan/tilt loop.
package perception

import (
	"context"
	"time"

	"github.com/teslashibe/go-robbie/pkg/identity"
)

// Frame is one captured camera image.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether the frame carries no image.
func (f *Frame) Empty() bool {
	return f == nil || len(f.JPEG) == 0
}

// FrameSource provides the latest camera frame.
// A nil frame with a nil error means no frame is available yet.
type FrameSource interface {
	LatestFrame(ctx context.Context) (*Frame, error)
}

// FaceTracker finds faces in a frame.
type FaceTracker interface {
	Track(ctx context.Context, frame *Frame) ([]identity.TrackedFace, error)
}

// IdentityUpdater receives each frame's faces.
// Implemented by *identity.Interpolator.
type IdentityUpdater interface {
	Update(faces []identity.TrackedFace)
	FocalPoint() identity.Point
	Identities() []identity.TrackedIdentity
}

// FocusSink receives the focal point after each processed frame.
// Implemented by *pantilt.PanTilt.
type FocusSink interface {
	SetFocalPoint(p identity.Point)
}

// Visualizer renders the processed frame, e.g. for the dashboard.
type Visualizer interface {
	Visualize(frame *Frame, identities []identity.TrackedIdentity)
}

// Config holds the perception loop parameters.
type Config struct {
	// Interval between ticks. Ticks arriving while a frame is still being
	// processed are dropped.
	Interval time.Duration

	// FrameTimeout bounds a single tick's work.
	FrameTimeout time.Duration
}

// DefaultConfig returns 8 frames per second.
func DefaultConfig() Config {
	return Config{
		Interval:     125 * time.Millisecond,
		FrameTimeout: 2 * time.Second,
	}
}

// Stats are cumulative loop counters.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	NoFrame   uint64 `json:"no_frame"`
	Failed    uint64 `json:"failed"`
}
