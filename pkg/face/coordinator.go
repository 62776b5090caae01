package face

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/observe"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

// Recognizer detects and identifies faces in the cloud.
// Implemented by *Client.
type Recognizer interface {
	DetectFaces(ctx context.Context, jpeg []byte) ([]DetectedFace, error)
	IdentifyFaces(ctx context.Context, faceIDs []string) (map[string]identity.Person, error)
}

// EmotionDetector estimates the emotions of the faces in an image.
type EmotionDetector interface {
	DetectEmotions(ctx context.Context, jpeg []byte) ([]identity.EmotionResult, error)
}

// Tracker receives recognition results.
// Implemented by *identity.Interpolator.
type Tracker interface {
	IdentifiedFace(box identity.Box, person identity.Person) bool
	DetectedAttributes(box identity.Box, attrs identity.Attributes) bool
	DetectedEmotion(result identity.EmotionResult) bool
	LargestFace() (identity.TrackedIdentity, bool)
}

// DominantFunc is told about a new person to interact with.
type DominantFunc func(ctx context.Context, id identity.TrackedIdentity) error

// CoordinatorConfig holds the coordinator settings.
type CoordinatorConfig struct {
	// Timeout bounds one recognition pass.
	Timeout time.Duration
}

// DefaultCoordinatorConfig returns the default coordinator settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{Timeout: 20 * time.Second}
}

// Coordinator runs cloud recognition whenever the dominant face changes and
// tells the brain when the person to interact with changes.
type Coordinator struct {
	cfg      CoordinatorConfig
	frames   perception.FrameSource
	faces    Recognizer
	emotions EmotionDetector
	ids      Tracker
	metrics  *observe.Metrics
	logger   *slog.Logger

	wg sync.WaitGroup

	mu         sync.Mutex
	busy       bool
	dirty      bool // a change arrived during the running pass
	ctx        context.Context
	sleeping   func() bool
	onDominant DominantFunc
	reported   string // person id last reported, "" when none
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithEmotions adds an emotion pass after identification.
func WithEmotions(e EmotionDetector) CoordinatorOption {
	return func(c *Coordinator) { c.emotions = e }
}

// WithSleepCheck suppresses recognition while fn returns true.
func WithSleepCheck(fn func() bool) CoordinatorOption {
	return func(c *Coordinator) { c.sleeping = fn }
}

// WithMetrics records collaborator failures.
func WithMetrics(m *observe.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig, frames perception.FrameSource, faces Recognizer, ids Tracker, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		frames:  frames,
		faces:   faces,
		ids:     ids,
		metrics: observe.NewNoop(),
		logger:  log.Component("recognition"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDominantChanged registers the new-person callback.
func (c *Coordinator) OnDominantChanged(fn DominantFunc) {
	c.mu.Lock()
	c.onDominant = fn
	c.mu.Unlock()
}

// Run enables recognition until ctx is cancelled, then waits for the pass
// in flight.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	<-ctx.Done()
	c.wg.Wait()
	return ctx.Err()
}

// LargestFaceChanged starts a recognition pass. It is meant to be registered
// with identity.Interpolator.OnLargestFaceChanged. Calls while asleep or
// before Run are ignored. Changes during a running pass are coalesced into
// one more pass after it.
func (c *Coordinator) LargestFaceChanged(_ identity.TrackedIdentity, ok bool) {
	if !ok {
		return
	}
	c.mu.Lock()
	ctx := c.ctx
	sleeping := c.sleeping
	c.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	if sleeping != nil && sleeping() {
		return
	}

	c.mu.Lock()
	if c.busy {
		c.dirty = true
		c.mu.Unlock()
		return
	}
	c.busy = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			c.Recognize(ctx)
			if !c.again(ctx) {
				return
			}
		}
	}()
}

// again reports whether a change arrived during the last pass and claims
// it. It releases the single flight when there is nothing left to do.
func (c *Coordinator) again(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || ctx.Err() != nil || (c.sleeping != nil && c.sleeping()) {
		c.busy = false
		c.dirty = false
		return false
	}
	c.dirty = false
	return true
}

// Recognize runs one recognition pass on the latest frame.
func (c *Coordinator) Recognize(ctx context.Context) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	frame, err := c.frames.LatestFrame(ctx)
	if err != nil || frame.Empty() {
		return
	}

	detected, err := c.faces.DetectFaces(ctx, frame.JPEG)
	if err != nil {
		c.failed(ctx, "face", "detect", err)
		return
	}
	if len(detected) == 0 {
		return
	}

	ids := make([]string, 0, len(detected))
	for _, f := range detected {
		c.ids.DetectedAttributes(f.Box, f.Attributes)
		if f.Emotion != nil {
			c.ids.DetectedEmotion(identity.EmotionResult{Box: f.Box, Scores: *f.Emotion})
		}
		ids = append(ids, f.FaceID)
	}

	persons, err := c.faces.IdentifyFaces(ctx, ids)
	switch {
	case errors.Is(err, ErrNotTrained):
		c.logger.Debug("person group not trained yet")
		persons = nil
	case err != nil:
		c.failed(ctx, "face", "identify", err)
		persons = nil
	}

	unidentified := false
	for _, f := range detected {
		p, ok := persons[f.FaceID]
		if !ok {
			unidentified = true
			continue
		}
		c.ids.IdentifiedFace(f.Box, p)
	}

	if c.emotions != nil {
		results, err := c.emotions.DetectEmotions(ctx, frame.JPEG)
		if err != nil {
			c.failed(ctx, "emotion", "detect", err)
		}
		for _, r := range results {
			c.ids.DetectedEmotion(r)
		}
	}

	c.reportDominant(ctx, unidentified)
}

// reportDominant tells the brain about the dominant identity when its
// person differs from the last one reported. Unidentified faces clear the
// last report so a stranger is always announced.
func (c *Coordinator) reportDominant(ctx context.Context, unidentified bool) {
	largest, ok := c.ids.LargestFace()

	c.mu.Lock()
	if unidentified {
		c.reported = ""
	}
	if !ok || c.reported == largest.PersonID {
		c.mu.Unlock()
		return
	}
	c.reported = largest.PersonID
	fn := c.onDominant
	c.mu.Unlock()

	c.logger.Info("dominant person changed", "person", largest.PersonID, "name", largest.Name)
	if fn == nil {
		return
	}
	if err := fn(ctx, largest); err != nil {
		c.logger.Warn("dominant person handler failed", "error", err)
	}
}

func (c *Coordinator) failed(ctx context.Context, collaborator, op string, err error) {
	c.metrics.RecordCollaboratorError(ctx, collaborator)
	c.logger.Warn("recognition step failed", "collaborator", collaborator, "op", op, "error", err)
}
