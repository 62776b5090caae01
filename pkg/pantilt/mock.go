package pantilt

import "sync"

// MockDriver implements ServoDriver for testing.
type MockDriver struct {
	// SetServoPulseFunc overrides the default behavior when set.
	SetServoPulseFunc func(channel, pulse int) error

	mu    sync.Mutex
	calls []PulseCall
}

// PulseCall records one SetServoPulse invocation.
type PulseCall struct {
	Channel int
	Pulse   int
}

// SetServoPulse records the call.
func (m *MockDriver) SetServoPulse(channel, pulse int) error {
	m.mu.Lock()
	m.calls = append(m.calls, PulseCall{Channel: channel, Pulse: pulse})
	m.mu.Unlock()
	if m.SetServoPulseFunc != nil {
		return m.SetServoPulseFunc(channel, pulse)
	}
	return nil
}

// Calls returns a copy of all recorded calls.
func (m *MockDriver) Calls() []PulseCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PulseCall(nil), m.calls...)
}

// CallCount returns the number of calls for channel.
func (m *MockDriver) CallCount(channel int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Channel == channel {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}
