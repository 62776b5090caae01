package identity

import (
	"fmt"
	"time"
)

// Config holds the matching and retention parameters for the Interpolator.
type Config struct {
	// MinOverlap is the IoU at or above which a detection matches an identity.
	MinOverlap float64

	// MaxCenterShift is the fallback for fast motion: a detection whose center
	// is within this fraction of the identity's box diagonal still matches,
	// ranked below every overlap match.
	MaxCenterShift float64

	// RetentionWindow keeps unmatched identities alive to ride out brief
	// occlusions. Zero drops them on the first missed frame.
	RetentionWindow time.Duration
}

// DefaultConfig returns the production matching parameters.
func DefaultConfig() Config {
	return Config{
		MinOverlap:      0.3,
		MaxCenterShift:  0.5,
		RetentionWindow: 500 * time.Millisecond,
	}
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	if c.MinOverlap <= 0 || c.MinOverlap > 1 {
		return fmt.Errorf("identity: MinOverlap must be in (0,1], got %v", c.MinOverlap)
	}
	if c.MaxCenterShift < 0 {
		return fmt.Errorf("identity: MaxCenterShift must be >= 0, got %v", c.MaxCenterShift)
	}
	if c.RetentionWindow < 0 {
		return fmt.Errorf("identity: RetentionWindow must be >= 0, got %v", c.RetentionWindow)
	}
	return nil
}
