package robbie

import (
	"context"
	"sync/atomic"

	"github.com/teslashibe/go-robbie/pkg/perception"
)

// sizedSource remembers the size of the last frame it handed out. The
// pan/tilt loop uses it as the viewport.
type sizedSource struct {
	perception.FrameSource

	width  atomic.Int32
	height atomic.Int32
}

// LatestFrame implements perception.FrameSource.
func (s *sizedSource) LatestFrame(ctx context.Context) (*perception.Frame, error) {
	f, err := s.FrameSource.LatestFrame(ctx)
	if err == nil && !f.Empty() && f.Width > 0 && f.Height > 0 {
		s.width.Store(int32(f.Width))
		s.height.Store(int32(f.Height))
	}
	return f, err
}

// Size implements pantilt.ViewportFunc. It is zero until a frame is seen.
func (s *sizedSource) Size() (width, height int) {
	return int(s.width.Load()), int(s.height.Load())
}
