package speech

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeService is a scripted transcription endpoint.
type fakeService struct {
	// reply is sent after wantAppends audio chunks. Nil never replies.
	reply       map[string]any
	wantAppends int

	mu      sync.Mutex
	auth    string
	update  map[string]any
	appends int
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			switch msg["type"] {
			case "transcription_session.update":
				f.update = msg
			case "input_audio_buffer.append":
				f.appends++
			}
			send := f.reply != nil && f.appends == f.wantAppends && msg["type"] == "input_audio_buffer.append"
			f.mu.Unlock()

			if send {
				conn.WriteJSON(map[string]any{"type": "input_audio_buffer.speech_stopped"})
				conn.WriteJSON(f.reply)
			}
		}
	})
}

func newTestRecognizer(t *testing.T, svc *fakeService) (*Recognizer, *MockMicrophone) {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.ChunkDuration = 10 * time.Millisecond

	// Two 10 ms chunks at 24 kHz.
	mic := &MockMicrophone{Data: make([]byte, 960)}
	return New(cfg, mic), mic
}

func TestRecognize_Transcript(t *testing.T) {
	svc := &fakeService{
		wantAppends: 2,
		reply: map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "  wake up ",
			"logprobs":   []map[string]any{{"logprob": -0.1}, {"logprob": -0.3}},
		},
	}
	r, _ := newTestRecognizer(t, svc)

	res, err := r.Recognize(context.Background())
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "wake up" {
		t.Errorf("Text: got %q, want %q", res.Text, "wake up")
	}
	if want := math.Exp(-0.2); math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("Confidence: got %v, want %v", res.Confidence, want)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.auth != "Bearer sk-test" {
		t.Errorf("Authorization: got %q", svc.auth)
	}
	session, _ := svc.update["session"].(map[string]any)
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("session update: got %v", svc.update)
	}
}

func TestRecognize_NoLogprobsIsCertain(t *testing.T) {
	svc := &fakeService{
		wantAppends: 1,
		reply: map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "hello",
		},
	}
	r, _ := newTestRecognizer(t, svc)

	res, err := r.Recognize(context.Background())
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Confidence != 1 {
		t.Errorf("Confidence: got %v, want 1", res.Confidence)
	}
}

func TestRecognize_EmptyTranscriptHasNoConfidence(t *testing.T) {
	svc := &fakeService{
		wantAppends: 1,
		reply: map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": " ",
		},
	}
	r, _ := newTestRecognizer(t, svc)

	res, err := r.Recognize(context.Background())
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence: got %v, want 0", res.Confidence)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	svc := &fakeService{
		wantAppends: 1,
		reply: map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "code": "bad_audio", "message": "nope"},
		},
	}
	r, _ := newTestRecognizer(t, svc)

	_, err := r.Recognize(context.Background())
	if !IsServerError(err) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad_audio") {
		t.Errorf("error: got %q", err)
	}
}

func TestRecognize_CancelWrapsContextError(t *testing.T) {
	svc := &fakeService{}
	r, mic := newTestRecognizer(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Recognize(ctx)
		errc <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mic.Opens() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Recognize: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recognize did not return after cancel")
	}
}

func TestRecognize_MicrophoneFailure(t *testing.T) {
	svc := &fakeService{}
	r, mic := newTestRecognizer(t, svc)
	boom := errors.New("device busy")
	mic.OpenFunc = func(context.Context) (io.ReadCloser, error) { return nil, boom }

	if _, err := r.Recognize(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Recognize: got %v, want %v", err, boom)
	}
}

func TestInit(t *testing.T) {
	if err := New(DefaultConfig(), &MockMicrophone{}).Init(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("no key: got %v", err)
	}

	cfg := DefaultConfig()
	cfg.APIKey = "k"
	if err := New(cfg, nil).Init(context.Background()); !errors.Is(err, ErrNoMicrophone) {
		t.Errorf("no mic: got %v", err)
	}

	mic := &MockMicrophone{}
	if err := New(cfg, mic).Init(context.Background()); err != nil {
		t.Errorf("Init: %v", err)
	}
	if mic.Opens() != 1 {
		t.Errorf("Opens: got %d, want 1", mic.Opens())
	}
}
