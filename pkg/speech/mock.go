package speech

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MockMicrophone serves Data on every Open, then blocks until the stream is
// closed.
type MockMicrophone struct {
	Data []byte

	// OpenFunc overrides the default behavior.
	OpenFunc func(ctx context.Context) (io.ReadCloser, error)

	mu    sync.Mutex
	opens int
}

// Open implements Microphone.
func (m *MockMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return &blockingStream{data: bytes.NewReader(m.Data), closed: make(chan struct{})}, nil
}

// Opens returns the number of Open calls.
func (m *MockMicrophone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type blockingStream struct {
	data   *bytes.Reader
	once   sync.Once
	closed chan struct{}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	if s.data.Len() > 0 {
		return s.data.Read(p)
	}
	<-s.closed
	return 0, io.EOF
}

func (s *blockingStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var _ Microphone = (*MockMicrophone)(nil)
