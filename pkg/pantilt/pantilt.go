package pantilt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/observe"
)

// Config holds the pan/tilt loop parameters.
type Config struct {
	// Interval between control ticks.
	Interval time.Duration

	// Tolerance is the half-width of the dead band around the frame center,
	// in frame pixels.
	Tolerance int

	Horizontal AxisConfig
	Vertical   AxisConfig
}

// DefaultConfig returns a 40 Hz loop with the stock servo limits.
func DefaultConfig() Config {
	return Config{
		Interval:  25 * time.Millisecond,
		Tolerance: 20,
		Horizontal: AxisConfig{
			Name: "horizontal", Channel: 0,
			Min: 246, Center: 368, Max: 490, Step: 1,
		},
		Vertical: AxisConfig{
			Name: "vertical", Channel: 1,
			Min: 287, Center: 353, Max: 400, Step: 1,
		},
	}
}

// ViewportFunc reports the camera frame size. Zero values mean unknown.
type ViewportFunc func() (width, height int)

// Stats are cumulative loop counters.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Steps        uint64 `json:"steps"`
	Uncalibrated uint64 `json:"uncalibrated"`
	Errors       uint64 `json:"errors"`
}

// PanTilt moves the head toward the focal point at a fixed rate.
// The focal point is written by perception and read by the control tick.
type PanTilt struct {
	cfg        Config
	horizontal *Axis
	vertical   *Axis
	viewport   ViewportFunc
	metrics    *observe.Metrics
	logger     *slog.Logger

	focal  atomic.Pointer[identity.Point]
	paused atomic.Bool

	mu            sync.Mutex
	center        identity.Point
	calibrated    bool
	stats         Stats
	lastErrorTime time.Time
}

// Option configures a PanTilt.
type Option func(*PanTilt)

// WithMetrics records servo steps.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *PanTilt) { p.metrics = m }
}

// New creates the pan/tilt controller and centers both axes.
func New(cfg Config, driver ServoDriver, viewport ViewportFunc, opts ...Option) (*PanTilt, error) {
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("pantilt: tolerance must be >= 0")
	}
	h, err := NewAxis(cfg.Horizontal, driver)
	if err != nil {
		return nil, err
	}
	v, err := NewAxis(cfg.Vertical, driver)
	if err != nil {
		return nil, err
	}

	p := &PanTilt{
		cfg:        cfg,
		horizontal: h,
		vertical:   v,
		viewport:   viewport,
		logger:     log.Component("pantilt"),
	}
	for _, opt := range opts {
		opt(p)
	}
	noTarget := identity.NoTarget
	p.focal.Store(&noTarget)
	return p, nil
}

// SetFocalPoint sets the point to steer toward. identity.NoTarget holds
// the current position.
func (p *PanTilt) SetFocalPoint(pt identity.Point) {
	p.focal.Store(&pt)
}

// FocalPoint returns the current target.
func (p *PanTilt) FocalPoint() identity.Point {
	return *p.focal.Load()
}

// SetPaused suspends or resumes movement. Robbie holds still while asleep.
func (p *PanTilt) SetPaused(paused bool) {
	p.paused.Store(paused)
}

// Paused reports whether movement is suspended.
func (p *PanTilt) Paused() bool {
	return p.paused.Load()
}

// Calibrate derives the frame center from the viewport size.
// It returns false when the viewport size is not known yet.
func (p *PanTilt) Calibrate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibrateLocked()
}

func (p *PanTilt) calibrateLocked() bool {
	if p.viewport == nil {
		return false
	}
	w, h := p.viewport()
	cx, cy := w/2, h/2
	if cx < 1 || cy < 1 {
		return false
	}
	p.center = identity.Point{X: cx, Y: cy}
	p.calibrated = true
	p.logger.Info("pan/tilt calibrated", "center_x", cx, "center_y", cy)
	return true
}

// Center returns the calibrated frame center.
func (p *PanTilt) Center() (identity.Point, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.center, p.calibrated
}

// Run ticks until ctx is cancelled.
func (p *PanTilt) Run(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("pantilt: invalid interval %v", p.cfg.Interval)
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("pan/tilt loop started", "interval", p.cfg.Interval, "tolerance", p.cfg.Tolerance)

	for {
		select {
		case <-ctx.Done():
			s := p.Stats()
			p.logger.Info("pan/tilt loop stopped", "steps", s.Steps, "errors", s.Errors)
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick executes one control cycle: at most one step per axis.
func (p *PanTilt) Tick(ctx context.Context) {
	if p.paused.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Ticks++
	if !p.calibrated && !p.calibrateLocked() {
		p.stats.Uncalibrated++
		return
	}

	target := *p.focal.Load()
	if !target.IsTarget() {
		return
	}

	tol := p.cfg.Tolerance
	switch {
	case target.X < p.center.X-tol:
		p.stepLocked(ctx, p.horizontal, +1)
	case target.X > p.center.X+tol:
		p.stepLocked(ctx, p.horizontal, -1)
	}
	switch {
	case target.Y < p.center.Y-tol:
		p.stepLocked(ctx, p.vertical, -1)
	case target.Y > p.center.Y+tol:
		p.stepLocked(ctx, p.vertical, +1)
	}
}

func (p *PanTilt) stepLocked(ctx context.Context, axis *Axis, dir int) {
	moved, err := axis.Step(dir)
	if err != nil {
		p.stats.Errors++
		// Log errors at most once per 5 seconds.
		if p.lastErrorTime.IsZero() || time.Since(p.lastErrorTime) > 5*time.Second {
			p.logger.Warn("servo step failed", "axis", axis.Name(), "error", err, "total_errors", p.stats.Errors)
			p.lastErrorTime = time.Now()
		}
		return
	}
	if moved {
		p.stats.Steps++
		p.metrics.RecordServoStep(ctx, axis.Name())
	}
}

// Position returns the commanded horizontal and vertical pulses.
func (p *PanTilt) Position() (horizontal, vertical int) {
	return p.horizontal.Value(), p.vertical.Value()
}

// Stats returns a snapshot of the loop counters.
func (p *PanTilt) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
