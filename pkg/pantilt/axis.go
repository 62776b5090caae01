// Package pantilt steers the two-axis head toward the focal point one servo
// step per tick.
package pantilt

import (
	"fmt"
	"sync"
)

// ServoDriver commands a servo channel to a pulse value.
// Implemented by *device.Client.
type ServoDriver interface {
	SetServoPulse(channel, pulse int) error
}

// AxisConfig describes one servo axis in driver pulse units.
type AxisConfig struct {
	Name    string
	Channel int
	Min     int
	Center  int
	Max     int
	Step    int
}

// Validate checks the axis limits.
func (c AxisConfig) Validate() error {
	if c.Min > c.Max {
		return fmt.Errorf("pantilt: axis %s: min %d > max %d", c.Name, c.Min, c.Max)
	}
	if c.Center < c.Min || c.Center > c.Max {
		return fmt.Errorf("pantilt: axis %s: center %d outside [%d,%d]", c.Name, c.Center, c.Min, c.Max)
	}
	if c.Step <= 0 {
		return fmt.Errorf("pantilt: axis %s: step must be positive", c.Name)
	}
	return nil
}

// Axis is a single clamped servo axis.
type Axis struct {
	cfg    AxisConfig
	driver ServoDriver

	mu    sync.Mutex
	value int
	sent  bool
}

// NewAxis creates an axis and moves it to its center position.
func NewAxis(cfg AxisConfig, driver ServoDriver) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Axis{cfg: cfg, driver: driver}
	if err := a.Set(cfg.Center); err != nil {
		return a, fmt.Errorf("pantilt: center axis %s: %w", cfg.Name, err)
	}
	return a, nil
}

// Set clamps pulse to the axis range and sends it to the driver.
// Setting the current value again is a no-op.
func (a *Axis) Set(pulse int) error {
	pulse = min(max(pulse, a.cfg.Min), a.cfg.Max)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sent && pulse == a.value {
		return nil
	}
	if err := a.driver.SetServoPulse(a.cfg.Channel, pulse); err != nil {
		return err
	}
	a.value = pulse
	a.sent = true
	return nil
}

// Step moves the axis by dir steps (negative moves toward Min).
// It reports whether the position changed.
func (a *Axis) Step(dir int) (bool, error) {
	before := a.Value()
	if err := a.Set(before + dir*a.cfg.Step); err != nil {
		return false, err
	}
	return a.Value() != before, nil
}

// Value returns the last commanded pulse.
func (a *Axis) Value() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Name returns the axis name.
func (a *Axis) Name() string {
	return a.cfg.Name
}
