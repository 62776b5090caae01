package perception

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/observe"
)

// Loop runs face tracking on a ticker. At most one frame is in flight; a tick
// that finds the previous frame still running is dropped, never queued.
type Loop struct {
	cfg     Config
	source  FrameSource
	tracker FaceTracker
	ids     IdentityUpdater
	focus   FocusSink
	viz     Visualizer
	metrics *observe.Metrics
	logger  *slog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup

	ticks     atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	noFrame   atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithFocusSink forwards the focal point after each frame.
func WithFocusSink(s FocusSink) Option {
	return func(l *Loop) { l.focus = s }
}

// WithVisualizer refreshes a visualization after each frame.
func WithVisualizer(v Visualizer) Option {
	return func(l *Loop) { l.viz = v }
}

// WithMetrics records frame outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates a perception loop.
func NewLoop(cfg Config, source FrameSource, tracker FaceTracker, ids IdentityUpdater, opts ...Option) *Loop {
	l := &Loop{
		cfg:     cfg,
		source:  source,
		tracker: tracker,
		ids:     ids,
		logger:  log.Component("perception"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run ticks until ctx is cancelled, then waits for the in-flight frame.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Interval <= 0 {
		return fmt.Errorf("perception: invalid interval %v", l.cfg.Interval)
	}
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info("perception loop started", "interval", l.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			s := l.Stats()
			l.logger.Info("perception loop stopped",
				"processed", s.Processed, "dropped", s.Dropped, "failed", s.Failed)
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick tries to admit one frame. It returns false when the previous frame is
// still being processed and this tick was dropped.
func (l *Loop) Tick(ctx context.Context) bool {
	l.ticks.Add(1)
	if !l.busy.CompareAndSwap(false, true) {
		l.dropped.Add(1)
		l.metrics.RecordFrame(ctx, observe.FrameDropped, 0)
		return false
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.busy.Store(false)
		l.process(ctx)
	}()
	return true
}

// Wait blocks until the in-flight frame, if any, is done.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) process(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			l.metrics.RecordFrame(ctx, observe.FrameFailed, time.Since(start))
			l.logger.Error("perception frame panicked", "panic", r)
		}
	}()

	if l.cfg.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.FrameTimeout)
		defer cancel()
	}

	frame, err := l.source.LatestFrame(ctx)
	if err != nil || frame.Empty() {
		l.noFrame.Add(1)
		l.metrics.RecordFrame(ctx, observe.FrameEmpty, time.Since(start))
		if err != nil {
			l.logger.Debug("no frame", "error", err)
		}
		return
	}

	faces, err := l.tracker.Track(ctx, frame)
	if err != nil {
		l.failed.Add(1)
		l.metrics.RecordFrame(ctx, observe.FrameFailed, time.Since(start))
		l.logger.Debug("face tracking failed", "error", err)
		return
	}

	l.ids.Update(faces)
	if l.focus != nil {
		l.focus.SetFocalPoint(l.ids.FocalPoint())
	}
	ids := l.ids.Identities()
	if l.viz != nil {
		l.viz.Visualize(frame, ids)
	}
	l.metrics.RecordTracked(ctx, len(ids))

	l.processed.Add(1)
	l.metrics.RecordFrame(ctx, observe.FrameProcessed, time.Since(start))
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:     l.ticks.Load(),
		Processed: l.processed.Load(),
		Dropped:   l.dropped.Load(),
		NoFrame:   l.noFrame.Load(),
		Failed:    l.failed.Load(),
	}
}
