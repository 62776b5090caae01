package device

import "sync"

// MockController implements Controller for testing.
type MockController struct {
	mu sync.Mutex

	// SetServoPulseFunc overrides SetServoPulse when set.
	SetServoPulseFunc func(channel, pulse int) error

	// WriteMatrixFunc overrides WriteMatrix when set.
	WriteMatrixFunc func(address byte, rows [MatrixSize]byte) error

	pulses map[int]int
	frames map[byte][MatrixSize]byte
	writes int
}

// SetServoPulse implements ServoController.
func (m *MockController) SetServoPulse(channel, pulse int) error {
	if m.SetServoPulseFunc != nil {
		return m.SetServoPulseFunc(channel, pulse)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pulses == nil {
		m.pulses = make(map[int]int)
	}
	m.pulses[channel] = pulse
	return nil
}

// WriteMatrix implements MatrixController.
func (m *MockController) WriteMatrix(address byte, rows [MatrixSize]byte) error {
	if m.WriteMatrixFunc != nil {
		return m.WriteMatrixFunc(address, rows)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		m.frames = make(map[byte][MatrixSize]byte)
	}
	m.frames[address] = rows
	m.writes++
	return nil
}

// GetDaemonStatus implements StatusController.
func (m *MockController) GetDaemonStatus() (string, error) {
	return "running", nil
}

// Pulse returns the last pulse sent to channel.
func (m *MockController) Pulse(channel int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pulses[channel]
	return p, ok
}

// Frame returns the last frame written to address.
func (m *MockController) Frame(address byte) [MatrixSize]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[address]
}

// Writes returns the number of matrix writes.
func (m *MockController) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
