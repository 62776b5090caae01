package ears

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/observe"
)

// Result is one completed recognition.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer performs speech recognition.
// Recognize blocks until one utterance is recognized or ctx is cancelled,
// in which case it returns an error wrapping ctx.Err().
type Recognizer interface {
	Init(ctx context.Context) error
	Recognize(ctx context.Context) (Result, error)
}

// Config holds the listening parameters.
type Config struct {
	// MinConfidence is the acceptance threshold. Lower results are rejected
	// and listening restarts.
	MinConfidence float64

	// RetryDelay is the pause before listening again after a recognizer error.
	RetryDelay time.Duration
}

// DefaultConfig returns the production listening parameters.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		RetryDelay:    time.Second,
	}
}

// Ears is the listening state machine.
type Ears struct {
	cfg     Config
	rec     Recognizer
	metrics *observe.Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	ctx          context.Context
	state        State
	cancel       context.CancelFunc // set while a recognition is outstanding
	gen          uint64
	restartAfter bool // StartListening arrived while a stop was in flight
	retry        *time.Timer

	onState     func(State)
	onUtterance func(text string)
}

// Option configures Ears.
type Option func(*Ears)

// WithMetrics records state transitions.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Ears) { e.metrics = m }
}

// New creates Ears around a recognizer.
func New(cfg Config, rec Recognizer, opts ...Option) *Ears {
	e := &Ears{
		cfg:    cfg,
		rec:    rec,
		ctx:    context.Background(),
		logger: log.Component("ears"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnStateChanged registers the state change callback.
func (e *Ears) OnStateChanged(fn func(State)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// OnUtterance registers the accepted utterance callback. It runs on the
// recognition goroutine after the state has returned to Idle.
func (e *Ears) OnUtterance(fn func(text string)) {
	e.mu.Lock()
	e.onUtterance = fn
	e.mu.Unlock()
}

// State returns the current listening state.
func (e *Ears) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init sets up the recognizer. Recognitions started later are cancelled
// when ctx is done.
func (e *Ears) Init(ctx context.Context) error {
	if e.rec == nil {
		return ErrNoRecognizer
	}
	e.mu.Lock()
	if e.state != NotInitialized {
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	e.mu.Unlock()

	if err := e.rec.Init(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.ctx = ctx
	pending := e.setLocked(Initialized, nil)
	e.mu.Unlock()
	e.emit(pending)
	return nil
}

// StartListening begins a recognition. It is effective only from
// Initialized, Idle or StoppedListening and returns false otherwise.
func (e *Ears) StartListening() bool {
	e.mu.Lock()

	if e.state == StopListening {
		// The outstanding recognition is being cancelled; resume once it ends.
		e.restartAfter = true
		e.mu.Unlock()
		return false
	}
	if !e.state.canStart() || e.cancel != nil || e.ctx.Err() != nil {
		e.mu.Unlock()
		return false
	}
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}

	pending := e.setLocked(StartListening, nil)
	ctx, cancel := context.WithCancel(e.ctx)
	e.cancel = cancel
	e.gen++
	gen := e.gen
	pending = e.setLocked(Listening, pending)
	e.mu.Unlock()

	e.emit(pending)
	go e.recognize(ctx, gen)
	return true
}

// StopListening cancels the outstanding recognition, if any.
// It is safe to call in any state.
func (e *Ears) StopListening() {
	e.mu.Lock()
	e.restartAfter = false
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	if e.cancel == nil || e.state == StopListening {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	pending := e.setLocked(StopListening, nil)
	e.mu.Unlock()

	e.emit(pending)
	cancel()
}

func (e *Ears) recognize(ctx context.Context, gen uint64) {
	res, err := e.rec.Recognize(ctx)
	e.complete(ctx, gen, res, err)
}

func (e *Ears) complete(ctx context.Context, gen uint64, res Result, err error) {
	e.mu.Lock()
	if gen != e.gen || e.cancel == nil {
		e.mu.Unlock()
		return
	}
	canceled := ctx.Err() != nil || errors.Is(err, context.Canceled)
	e.cancel()
	e.cancel = nil

	var (
		pending []State
		deliver bool
		restart bool
	)
	switch {
	case canceled:
		pending = e.setLocked(StoppedListening, pending)
		restart = e.restartAfter
	case err != nil:
		e.logger.Warn("recognition failed", "error", err)
		pending = e.setLocked(StoppedListening, pending)
		e.scheduleRetryLocked()
	case res.Confidence < e.cfg.MinConfidence:
		e.logger.Debug("utterance rejected", "text", res.Text, "confidence", res.Confidence)
		pending = e.setLocked(Processing, pending)
		pending = e.setLocked(StoppedListening, pending)
		restart = true
	default:
		pending = e.setLocked(Processing, pending)
		pending = e.setLocked(Idle, pending)
		deliver = true
	}
	e.restartAfter = false
	fn := e.onUtterance
	e.mu.Unlock()

	e.emit(pending)

	switch {
	case restart:
		e.StartListening()
	case deliver:
		e.logger.Info("utterance recognized", "text", res.Text, "confidence", res.Confidence)
		if fn != nil {
			fn(res.Text)
		}
	}
}

func (e *Ears) scheduleRetryLocked() {
	if e.retry != nil {
		e.retry.Stop()
	}
	e.retry = time.AfterFunc(e.cfg.RetryDelay, func() { e.StartListening() })
}

func (e *Ears) setLocked(s State, pending []State) []State {
	if e.state == s {
		return pending
	}
	e.state = s
	return append(pending, s)
}

func (e *Ears) emit(states []State) {
	if len(states) == 0 {
		return
	}
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()

	for _, s := range states {
		e.logger.Debug("listening state", "state", s)
		e.metrics.RecordTransition(context.Background(), s.String())
		if fn != nil {
			fn(s)
		}
	}
}
