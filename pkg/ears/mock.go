package ears

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockRecognizer implements Recognizer for testing.
// By default Recognize blocks until a result is delivered with Deliver or
// the context is cancelled.
type MockRecognizer struct {
	// InitFunc overrides Init when set.
	InitFunc func(ctx context.Context) error

	// RecognizeFunc overrides Recognize when set.
	RecognizeFunc func(ctx context.Context) (Result, error)

	results chan mockOutcome
	once    sync.Once

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

type mockOutcome struct {
	res Result
	err error
}

// NewMockRecognizer creates a mock recognizer.
func NewMockRecognizer() *MockRecognizer {
	m := &MockRecognizer{}
	m.init()
	return m
}

func (m *MockRecognizer) init() {
	m.once.Do(func() { m.results = make(chan mockOutcome, 16) })
}

// Init implements Recognizer.
func (m *MockRecognizer) Init(ctx context.Context) error {
	m.init()
	if m.InitFunc != nil {
		return m.InitFunc(ctx)
	}
	return nil
}

// Recognize implements Recognizer.
func (m *MockRecognizer) Recognize(ctx context.Context) (Result, error) {
	m.init()
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case o := <-m.results:
		return o.res, o.err
	}
}

// Deliver completes the next (or current) recognition with res.
func (m *MockRecognizer) Deliver(res Result) {
	m.init()
	m.results <- mockOutcome{res: res}
}

// Fail completes the next recognition with err.
func (m *MockRecognizer) Fail(err error) {
	m.init()
	m.results <- mockOutcome{err: err}
}

// Calls returns how many recognitions were started.
func (m *MockRecognizer) Calls() int {
	return int(m.calls.Load())
}

// Active returns how many recognitions are in progress.
func (m *MockRecognizer) Active() int {
	return int(m.active.Load())
}

// PeakConcurrent returns the highest number of simultaneous recognitions.
func (m *MockRecognizer) PeakConcurrent() int {
	return int(m.peak.Load())
}
