package display

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
)

// Matrix I2C addresses of the eyes.
const (
	LeftAddress  byte = 0x71
	RightAddress byte = 0x72
)

// MatrixWriter writes a whole 8x8 LED matrix frame.
type MatrixWriter interface {
	WriteMatrix(address byte, rows [8]byte) error
}

// Config holds eye timing.
type Config struct {
	// RevertAfter is how long an emotion shows before falling back to Neutral.
	RevertAfter time.Duration

	// BlinkDuration is how long the eyes stay closed.
	BlinkDuration time.Duration

	// BlinkInterval is the period of the blink timer.
	BlinkInterval time.Duration
}

// DefaultConfig returns the default eye timing.
func DefaultConfig() Config {
	return Config{
		RevertAfter:   3 * time.Second,
		BlinkDuration: 100 * time.Millisecond,
		BlinkInterval: 5 * time.Second,
	}
}

// Eyes shows expressions on the two LED matrices.
type Eyes struct {
	cfg    Config
	matrix MatrixWriter
	logger *slog.Logger

	mu       sync.Mutex
	current  Expression
	gen      uint64
	revert   *time.Timer
	onChange func(Expression)

	// writeMu is held across a whole frame. A frame whose generation was
	// superseded before it got the lock is skipped.
	writeMu   sync.Mutex
	writeErrs int
	lastErrAt time.Time
}

// New creates Eyes. Nothing is written until the first Show.
func New(cfg Config, matrix MatrixWriter) *Eyes {
	return &Eyes{
		cfg:     cfg,
		matrix:  matrix,
		current: Neutral,
		logger:  log.Component("eyes"),
	}
}

// OnChange registers a callback fired after each displayed expression.
func (e *Eyes) OnChange(fn func(Expression)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Current returns the expression being shown.
func (e *Eyes) Current() Expression {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Show displays the named expression. Unknown names show Neutral.
func (e *Eyes) Show(name string) {
	expr, ok := Parse(name)
	if !ok {
		e.logger.Debug("unknown expression, showing neutral", "name", name)
	}
	e.ShowExpression(expr)
}

// ShowExpression displays expr. Emotions other than Neutral and Sleep fall
// back to Neutral after RevertAfter.
func (e *Eyes) ShowExpression(expr Expression) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.current = expr
	if e.revert != nil {
		e.revert.Stop()
		e.revert = nil
	}
	if expr.reverts() && e.cfg.RevertAfter > 0 {
		e.revert = time.AfterFunc(e.cfg.RevertAfter, func() { e.revertTo(gen) })
	}
	e.mu.Unlock()

	e.write(gen, expr)
}

func (e *Eyes) revertTo(gen uint64) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.current = Neutral
	e.revert = nil
	gen = e.gen
	e.mu.Unlock()

	e.write(gen, Neutral)
}

// Blink closes the eyes for BlinkDuration and then restores the previous
// expression, unless another expression was shown meanwhile. Sleeping eyes
// do not blink.
func (e *Eyes) Blink(ctx context.Context) {
	e.mu.Lock()
	if e.current == Sleep {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	prev := e.current
	e.mu.Unlock()

	e.write(gen, Blink)

	t := time.NewTimer(e.cfg.BlinkDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}

	e.write(gen, prev)
}

// Run blinks every BlinkInterval until ctx is cancelled.
func (e *Eyes) Run(ctx context.Context) error {
	if e.cfg.BlinkInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(e.cfg.BlinkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			if e.revert != nil {
				e.revert.Stop()
			}
			e.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			e.Blink(ctx)
		}
	}
}

// write puts expr on both matrices unless an expression newer than gen was
// decided meanwhile.
func (e *Eyes) write(gen uint64, expr Expression) {
	bm, ok := BitmapFor(expr)
	if !ok {
		bm = bitmaps[Neutral]
	}

	e.writeMu.Lock()
	e.mu.Lock()
	stale := e.gen != gen
	fn := e.onChange
	e.mu.Unlock()
	if stale {
		e.writeMu.Unlock()
		return
	}

	err := e.matrix.WriteMatrix(LeftAddress, bm.Left())
	if err == nil {
		err = e.matrix.WriteMatrix(RightAddress, bm.Right())
	}
	if err != nil {
		e.writeErrs++
		if time.Since(e.lastErrAt) > 5*time.Second {
			e.logger.Warn("matrix write failed", "expression", expr, "error", err, "failures", e.writeErrs)
			e.lastErrAt = time.Now()
		}
	}
	e.writeMu.Unlock()

	if fn != nil && expr != Blink {
		fn(expr)
	}
}
