package camera

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"gocv.io/x/gocv"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if problems := cfg.Validate(); len(problems) != 0 {
		t.Errorf("default config: %v", problems)
	}

	cfg.Width = 10
	cfg.Quality = 0
	if problems := cfg.Validate(); len(problems) != 2 {
		t.Errorf("problems: got %v, want 2", problems)
	}
}

func TestFrameInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framerate = 20
	if got := cfg.FrameInterval(); got != 50*time.Millisecond {
		t.Errorf("FrameInterval: got %v, want 50ms", got)
	}
}

func TestManager_UpdateConfig(t *testing.T) {
	m := NewManager(DefaultConfig())
	var applied []Config
	m.OnConfigChange = func(cfg Config) error {
		applied = append(applied, cfg)
		return nil
	}

	if err := m.UpdateConfig(map[string]any{"preset": PresetLow, "quality": 55.0, "mirror": true}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	got := m.GetConfig()
	if got.Width != 320 || got.Quality != 55 || !got.Mirror {
		t.Errorf("config: got %+v", got)
	}
	if len(applied) != 1 {
		t.Errorf("applied: got %d, want 1", len(applied))
	}

	if err := m.UpdateConfig(map[string]any{"preset": "cinema"}); err == nil {
		t.Error("unknown preset should fail")
	}
	if err := m.UpdateConfig(map[string]any{"framerate": 500}); err == nil {
		t.Error("invalid framerate should fail")
	}
	if m.GetConfig().Framerate != DefaultConfig().Framerate {
		t.Error("invalid update must not be stored")
	}
}

func TestManager_ApplyError(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.OnConfigChange = func(Config) error { return errors.New("busy") }
	if err := m.SetConfig(DefaultConfig()); err == nil {
		t.Error("expected apply error")
	}
}

// fakeCapture yields a fixed number of frames.
type fakeCapture struct {
	mu     sync.Mutex
	frames int
	reads  int
	closed bool
}

func (f *fakeCapture) Read(m *gocv.Mat) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.reads > f.frames {
		return false
	}
	img := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.CopyTo(m)
	return true
}

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestLocalSource_CapturesJPEG(t *testing.T) {
	dev := &fakeCapture{frames: 1000}
	cfg := DefaultConfig()
	cfg.Framerate = 60
	s := newLocalSource(cfg, func(Config) (capture, error) { return dev, nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, _ := s.LatestFrame(ctx); !f.Empty() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f, _ := s.LatestFrame(ctx)
	if f.Empty() {
		t.Fatal("no frame captured")
	}
	if f.Width != 64 || f.Height != 48 {
		t.Errorf("size: got %dx%d, want 64x48", f.Width, f.Height)
	}
	if len(f.JPEG) < 2 || f.JPEG[0] != 0xFF || f.JPEG[1] != 0xD8 {
		t.Error("frame is not a JPEG")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v", err)
	}
	if !dev.closed {
		t.Error("device not closed")
	}
}

func TestLocalSource_ReopensOnReconfigure(t *testing.T) {
	var mu sync.Mutex
	var opened []Config
	s := newLocalSource(DefaultConfig(), func(cfg Config) (capture, error) {
		mu.Lock()
		opened = append(opened, cfg)
		mu.Unlock()
		return &fakeCapture{frames: 1000}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cfg := LowConfig()
	s.Reconfigure(cfg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(opened)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(opened) < 2 || opened[1].Width != 320 {
		t.Errorf("opened: got %+v", opened)
	}
}

func TestLocalSource_OpenError(t *testing.T) {
	s := newLocalSource(DefaultConfig(), func(Config) (capture, error) {
		return nil, errors.New("no device")
	})
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected open error")
	}
}

// scriptedPackets replays RTP payloads then fails.
type scriptedPackets struct {
	payloads [][]byte
}

func (s *scriptedPackets) ReadRTP() (*rtp.Packet, error) {
	if len(s.payloads) == 0 {
		return nil, errors.New("eof")
	}
	p := s.payloads[0]
	s.payloads = s.payloads[1:]
	return &rtp.Packet{Payload: p}, nil
}

type recordingDecoder struct {
	chunks [][]byte
}

func (d *recordingDecoder) Decode(_ context.Context, h264 []byte) ([]byte, error) {
	d.chunks = append(d.chunks, append([]byte(nil), h264...))
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func TestDepacketize(t *testing.T) {
	dec := &recordingDecoder{}
	cfg := DefaultWebRTCConfig("robot")
	cfg.DecodeInterval = 0
	s := NewWebRTCSource(cfg, dec)

	// Single NAL unit packets (type 5, IDR slice).
	s.depacketize(context.Background(), &scriptedPackets{payloads: [][]byte{
		{0x65, 0x01, 0x02},
		{0x65, 0x03},
	}})

	if len(dec.chunks) != 2 {
		t.Fatalf("decodes: got %d, want 2", len(dec.chunks))
	}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x01, 0x02}
	if string(dec.chunks[0]) != string(want) {
		t.Errorf("chunk: got %x, want %x", dec.chunks[0], want)
	}
	if f, _ := s.LatestFrame(context.Background()); f.Empty() {
		t.Error("decoded frame not stored")
	}
}

// fakeSignalling answers welcome and list.
func fakeSignalling(t *testing.T, producers string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteJSON(map[string]string{"type": "welcome", "peerId": "me"})
		var req map[string]string
		if err := ws.ReadJSON(&req); err != nil || req["type"] != "list" {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"list","producers":`+producers+`}`))
		ws.ReadJSON(&req)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFindProducer(t *testing.T) {
	url := fakeSignalling(t, `[{"id":"other","meta":{"name":"doorbell"}},{"id":"cam-1","meta":{"name":"robbie"}}]`)
	cfg := DefaultWebRTCConfig("")
	cfg.SignallingURL = url
	s := NewWebRTCSource(cfg, &recordingDecoder{})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	s.ws = ws

	if msg, err := s.read(time.Second); err != nil || msg.Type != "welcome" {
		t.Fatalf("welcome: got %+v, %v", msg, err)
	}
	id, err := s.findProducer()
	if err != nil {
		t.Fatalf("findProducer: %v", err)
	}
	if id != "cam-1" {
		t.Errorf("producer: got %q, want cam-1", id)
	}
}

func TestConnect_ProducerMissing(t *testing.T) {
	url := fakeSignalling(t, `[]`)
	cfg := DefaultWebRTCConfig("")
	cfg.SignallingURL = url
	s := NewWebRTCSource(cfg, &recordingDecoder{})

	if err := s.Run(context.Background()); !errors.Is(err, ErrProducerNotFound) {
		t.Errorf("Run: got %v, want ErrProducerNotFound", err)
	}
}
