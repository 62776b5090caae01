package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu      sync.Mutex
	writes  []Message
	closed  chan struct{}
	closeMu sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(t int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch t {
	case websocket.TextMessage:
		f.writes = append(f.writes, NewJSONMessage(data))
	case websocket.BinaryMessage:
		f.writes = append(f.writes, NewBinaryMessage(data))
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeMu.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.writes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func connect(ctx context.Context, t *testing.T, h *Hub) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	c, ok := NewClient(ctx, h, conn)
	if !ok {
		t.Fatal("client not registered")
	}
	go c.Serve(ctx)
	return conn
}

func TestBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("events")
	go h.Run(ctx)

	a := connect(ctx, t, h)
	b := connect(ctx, t, h)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]string{"sense": "vision"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	h.BroadcastBinary([]byte{0xFF, 0xD8})

	for _, conn := range []*fakeConn{a, b} {
		waitFor(t, func() bool { return len(conn.messages()) == 2 })
		msgs := conn.messages()
		if msgs[0].Type != JSONMessage || string(msgs[0].Data) != `{"sense":"vision"}` {
			t.Errorf("first message: got %+v", msgs[0])
		}
		if msgs[1].Type != BinaryMessage {
			t.Errorf("second message type: got %v", msgs[1].Type)
		}
	}
}

func TestDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("status")
	go h.Run(ctx)

	conn := connect(ctx, t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("status", WithReplay())
	go h.Run(ctx)

	h.BroadcastJSON(map[string]bool{"sleeping": true})

	conn := connect(ctx, t, h)
	waitFor(t, func() bool { return len(conn.messages()) == 1 })
	if got := string(conn.messages()[0].Data); got != `{"sleeping":true}` {
		t.Errorf("replayed: got %s", got)
	}
}

func TestRun_StopsAndClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("vision")
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	conn := connect(ctx, t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v", err)
	}
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Error("client connection not closed")
	}
}
