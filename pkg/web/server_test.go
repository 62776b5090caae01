package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-robbie/pkg/camera"
	"github.com/teslashibe/go-robbie/pkg/display"
	"github.com/teslashibe/go-robbie/pkg/ears"
	"github.com/teslashibe/go-robbie/pkg/eventlog"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/pantilt"
	"github.com/teslashibe/go-robbie/pkg/perception"
	"github.com/teslashibe/go-robbie/pkg/upstream"
)

type stubBrain struct{}

func (stubBrain) Sleeping() bool  { return true }
func (stubBrain) Session() string { return "session-1" }

type stubEars struct{}

func (stubEars) State() ears.State { return ears.Listening }

type stubEyes struct{}

func (stubEyes) Current() display.Expression { return display.Happiness }

type stubPanTilt struct{}

func (stubPanTilt) Position() (int, int) { return 1500, 1200 }
func (stubPanTilt) Paused() bool         { return false }
func (stubPanTilt) Stats() pantilt.Stats { return pantilt.Stats{Steps: 7} }

type stubPerception struct{}

func (stubPerception) Stats() perception.Stats { return perception.Stats{Processed: 3} }

type stubIdentities []identity.TrackedIdentity

func (s stubIdentities) Identities() []identity.TrackedIdentity { return s }

func newTestServer(t *testing.T) (*Server, *eventlog.Store) {
	t.Helper()
	store, err := eventlog.Open(":memory:", eventlog.DefaultRetain)
	if err != nil {
		t.Fatalf("eventlog: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ids := stubIdentities{{
		Seq:        1,
		PersonID:   "p1",
		Name:       "Alice-p1",
		Box:        identity.Box{X: 1, Y: 2, Width: 30, Height: 40},
		Attributes: &identity.Attributes{Age: 31, Gender: "female"},
		Emotion:    &identity.EmotionScores{Surprise: 0.9},
	}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "robbie_perception_frames_total 3\n")
	})

	s := New(DefaultConfig(), Sources{
		Brain:      stubBrain{},
		Ears:       stubEars{},
		Eyes:       stubEyes{},
		PanTilt:    stubPanTilt{},
		Perception: stubPerception{},
		Identities: ids,
		Events:     store,
		Camera:     camera.NewManager(camera.DefaultConfig()),
		SessionID:  "session-1",
		Metrics:    metrics,
	})
	return s, store
}

func get(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := get(t, s, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status code: got %d", code)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Sleeping || st.Session != "session-1" || st.Listening != "Listening" || st.Eyes != "Happiness" {
		t.Errorf("status: got %+v", st)
	}
	if st.Pan != 1500 || st.Tilt != 1200 || st.Servo.Steps != 7 || st.Perception.Processed != 3 || st.Tracked != 1 {
		t.Errorf("status counters: got %+v", st)
	}
}

func TestIdentities(t *testing.T) {
	s, _ := newTestServer(t)
	_, body := get(t, s, http.MethodGet, "/api/identities", "")
	var ids []Identity
	if err := json.Unmarshal(body, &ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("identities: got %d", len(ids))
	}
	got := ids[0]
	if got.Name != "Alice" || !got.Known || got.Gender != "female" || got.Age != 31 || got.Emotion != "Surprise" {
		t.Errorf("identity: got %+v", got)
	}
}

func TestEvents(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	store.Append(ctx, upstream.SenseEvent{Sense: "vision", Message: "a", SessionID: "session-1", Timestamp: "2026-01-01 00:00:00"})
	store.Append(ctx, upstream.SenseEvent{Sense: "hearing", Message: "b", SessionID: "session-1", Timestamp: "2026-01-01 00:00:01"})
	store.Append(ctx, upstream.SenseEvent{Sense: "vision", Message: "c", SessionID: "other", Timestamp: "2026-01-01 00:00:02"})

	_, body := get(t, s, http.MethodGet, "/api/events?limit=10", "")
	var entries []eventlog.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "b" {
		t.Errorf("events: got %+v", entries)
	}

	_, body = get(t, s, http.MethodGet, "/api/events?session=other", "")
	json.Unmarshal(body, &entries)
	if len(entries) != 1 || entries[0].Message != "c" {
		t.Errorf("other session: got %+v", entries)
	}
}

func TestCameraConfig(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := get(t, s, http.MethodPut, "/api/camera", `{"preset":"low","quality":60}`)
	if code != http.StatusOK {
		t.Fatalf("PUT: got %d %s", code, body)
	}
	var cfg camera.Config
	json.Unmarshal(body, &cfg)
	if cfg.Width != 320 || cfg.Quality != 60 {
		t.Errorf("camera config: got %+v", cfg)
	}

	if code, _ := get(t, s, http.MethodPut, "/api/camera", `{"framerate":1000}`); code != http.StatusBadRequest {
		t.Errorf("invalid update: got %d, want 400", code)
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := get(t, s, http.MethodGet, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(string(body), "robbie_perception_frames_total") {
		t.Errorf("metrics: got %d %s", code, body)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t)
	if code, _ := get(t, s, http.MethodGet, "/ws/status", ""); code != http.StatusUpgradeRequired {
		t.Errorf("plain GET: got %d, want 426", code)
	}
}

func TestRender(t *testing.T) {
	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	src := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	out, err := Render(src, []identity.TrackedIdentity{{
		Seq: 2, PersonID: identity.UnknownPersonID,
		Box: identity.Box{X: 10, Y: 10, Width: 50, Height: 60},
	}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) < 2 || out[0] != 0xFF || out[1] != 0xD8 {
		t.Error("output is not a JPEG")
	}

	if _, err := Render([]byte("nope"), nil); err == nil {
		t.Error("invalid image should fail")
	}
}
