// Package camera provides Robbie's frame sources: a local capture device read
// through OpenCV and a remote WebRTC stream.
package camera

import "time"

// Config holds the capture settings. They can be changed at runtime through
// the Manager.
type Config struct {
	// Device is the local capture device index.
	Device int `json:"device" yaml:"device"`

	Width     int `json:"width" yaml:"width"`
	Height    int `json:"height" yaml:"height"`
	Framerate int `json:"framerate" yaml:"framerate"`

	// Quality is the JPEG quality, 1-100.
	Quality int `json:"quality" yaml:"quality"`

	// Mirror flips frames horizontally.
	Mirror bool `json:"mirror" yaml:"mirror"`
}

// Capture limits.
const (
	MaxWidth     = 1920
	MaxHeight    = 1080
	MaxFramerate = 60
)

// DefaultConfig returns 640x480 at 15 fps, enough for face tracking at the
// perception rate.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     640,
		Height:    480,
		Framerate: 15,
		Quality:   80,
	}
}

// FrameInterval returns the time between captures.
func (c Config) FrameInterval() time.Duration {
	if c.Framerate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.Framerate)
}

// Validate checks that the values are within range.
// Returns a list of problems, or nil if valid.
func (c *Config) Validate() []string {
	var problems []string

	if c.Device < 0 {
		problems = append(problems, "device must not be negative")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		problems = append(problems, "width must be between 160 and 1920")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		problems = append(problems, "height must be between 120 and 1080")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		problems = append(problems, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		problems = append(problems, "quality must be between 1 and 100")
	}

	return problems
}
