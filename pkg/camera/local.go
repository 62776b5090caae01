package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

// capture is the part of gocv.VideoCapture the source uses.
type capture interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// openFunc opens a capture device for cfg.
type openFunc func(cfg Config) (capture, error)

func openDevice(cfg Config) (capture, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", cfg.Device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	return vc, nil
}

// maxReadFailures is the number of consecutive failed reads before the
// device is reopened.
const maxReadFailures = 30

// LocalSource captures frames from a local device and keeps the latest one
// JPEG encoded.
type LocalSource struct {
	open   openFunc
	latest latestFrame
	logger *slog.Logger

	mu      sync.Mutex
	cfg     Config
	changed chan struct{}
}

// NewLocalSource creates a source for cfg. Capture starts with Run.
func NewLocalSource(cfg Config) (*LocalSource, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", problems)
	}
	return newLocalSource(cfg, openDevice), nil
}

func newLocalSource(cfg Config, open openFunc) *LocalSource {
	return &LocalSource{
		open:    open,
		cfg:     cfg,
		changed: make(chan struct{}, 1),
		logger:  log.Component("camera"),
	}
}

// LatestFrame implements perception.FrameSource.
func (s *LocalSource) LatestFrame(ctx context.Context) (*perception.Frame, error) {
	return s.latest.get(), nil
}

// Reconfigure applies cfg. The device is reopened on the next capture.
// Suitable as Manager.OnConfigChange.
func (s *LocalSource) Reconfigure(cfg Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return nil
}

func (s *LocalSource) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run captures until ctx is cancelled.
func (s *LocalSource) Run(ctx context.Context) error {
	for {
		cfg := s.config()
		dev, err := s.open(cfg)
		if err != nil {
			return err
		}
		s.logger.Info("camera opened", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height, "fps", cfg.Framerate)

		reopen := s.capture(ctx, dev, cfg)
		dev.Close()
		if !reopen {
			return ctx.Err()
		}
		s.logger.Info("reopening camera")
	}
}

// capture reads frames from dev until ctx is done or the device must be
// reopened. It returns true for a reopen.
func (s *LocalSource) capture(ctx context.Context, dev capture, cfg Config) bool {
	ticker := time.NewTicker(cfg.FrameInterval())
	defer ticker.Stop()

	img := gocv.NewMat()
	defer img.Close()

	failures := 0
	var lastErrLog time.Time
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.changed:
			return true
		case <-ticker.C:
		}

		if !dev.Read(&img) || img.Empty() {
			failures++
			if time.Since(lastErrLog) > 5*time.Second {
				s.logger.Warn("camera read failed", "failures", failures)
				lastErrLog = time.Now()
			}
			if failures >= maxReadFailures {
				return true
			}
			continue
		}
		failures = 0

		frame, err := encode(img, cfg)
		if err != nil {
			s.logger.Debug("frame encode failed", "error", err)
			continue
		}
		s.latest.set(frame)
	}
}

// encode converts img to a JPEG frame.
func encode(img gocv.Mat, cfg Config) (*perception.Frame, error) {
	if cfg.Mirror {
		gocv.Flip(img, &img, 1)
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, cfg.Quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return &perception.Frame{
		JPEG:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// latestFrame holds the most recent frame. Stored frames are never mutated.
type latestFrame struct {
	mu    sync.RWMutex
	frame *perception.Frame
}

func (l *latestFrame) set(f *perception.Frame) {
	l.mu.Lock()
	l.frame = f
	l.mu.Unlock()
}

func (l *latestFrame) get() *perception.Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame
}

var _ perception.FrameSource = (*LocalSource)(nil)
