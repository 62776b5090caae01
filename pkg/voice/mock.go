package voice

import (
	"context"
	"sync"
)

// MockSynthesizer returns silence of a fixed length for every text.
type MockSynthesizer struct {
	// SynthesizeFunc overrides the default behavior.
	SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

	// PCM is returned when SynthesizeFunc is nil.
	PCM []byte

	mu    sync.Mutex
	calls []string
}

// Synthesize implements Synthesizer.
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return m.PCM, nil
}

// Calls returns the synthesized texts.
func (m *MockSynthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockSink records playbacks. Play blocks until Release is called or ctx is
// cancelled when Block is set.
type MockSink struct {
	// PlayFunc overrides the default behavior.
	PlayFunc func(ctx context.Context, pcm []byte, sampleRate int) error

	Block bool

	mu      sync.Mutex
	plays   int
	release chan struct{}
}

// Play implements Sink.
func (m *MockSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	m.mu.Lock()
	m.plays++
	if m.release == nil {
		m.release = make(chan struct{})
	}
	release := m.release
	m.mu.Unlock()

	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, pcm, sampleRate)
	}
	if !m.Block {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-release:
		return nil
	}
}

// Release unblocks all pending playbacks.
func (m *MockSink) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.release == nil {
		m.release = make(chan struct{})
	}
	close(m.release)
	m.release = make(chan struct{})
}

// Plays returns the number of playbacks started.
func (m *MockSink) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

var (
	_ Synthesizer = (*MockSynthesizer)(nil)
	_ Sink        = (*MockSink)(nil)
)
