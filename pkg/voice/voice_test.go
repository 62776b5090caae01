package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenAI_Synthesize(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte{1, 0, 2, 0})
	}))
	defer srv.Close()

	o, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer o.Close()

	pcm, err := o.Synthesize(context.Background(), "What's your name?")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 4 {
		t.Errorf("pcm: got %d bytes, want 4", len(pcm))
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization: got %q", auth)
	}
	if got["input"] != "What's your name?" || got["response_format"] != "pcm" || got["voice"] != VoiceShimmer {
		t.Errorf("payload: got %v", got)
	}
}

func TestOpenAI_ErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL), WithRetry(3, time.Millisecond))
	_, err := o.Synthesize(context.Background(), "hi")

	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" || apiErr.Message != "bad key" {
		t.Errorf("APIError: got %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte{0, 0})
	}))
	defer srv.Close()

	o, _ := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL), WithRetry(1, time.Millisecond))
	if _, err := o.Synthesize(context.Background(), "hi"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewOpenAI(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("no key: got %v", err)
	}
	if _, err := NewOpenAI(WithAPIKey("k"), WithSpeed(9)); !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("speed: got %v", err)
	}
}

func TestResample(t *testing.T) {
	in := make([]int16, 240)
	for i := range in {
		in[i] = int16(i)
	}
	out := Resample(in, 24000, 48000)
	if len(out) != 480 {
		t.Fatalf("len: got %d, want 480", len(out))
	}
	if out[2] != 1 || out[3] != 1 {
		t.Errorf("interpolation: got %v", out[:4])
	}
	if got := Resample(in, 24000, 24000); len(got) != len(in) {
		t.Errorf("same rate: got %d", len(got))
	}
}

func TestFramesPadsLast(t *testing.T) {
	f := frames(make([]int16, 25), 10)
	if len(f) != 3 || len(f[2]) != 10 {
		t.Fatalf("frames: got %d", len(f))
	}
	if frames(nil, 10) != nil {
		t.Error("empty input produced frames")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(make([]byte, 48000), 24000); d != time.Second {
		t.Errorf("Duration: got %v, want 1s", d)
	}
}

type countingEncoder struct{ calls int }

func (e *countingEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.calls++
	data[0] = byte(len(pcm) >> 8)
	data[1] = byte(len(pcm))
	return 2, nil
}

func TestRTPSink_Packets(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	conn, err := net.Dial("udp", ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	cfg := DefaultRTPConfig()
	cfg.FrameDuration = time.Millisecond
	enc := &countingEncoder{}
	sink := newRTPSink(cfg, conn, enc)
	defer sink.Close()

	// 5 ms at 24 kHz becomes five 1 ms frames of 48 samples at 48 kHz.
	pcm := make([]byte, 120*2)
	if err := sink.Play(context.Background(), pcm, 24000); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if enc.calls != 5 {
		t.Fatalf("encoded frames: got %d, want 5", enc.calls)
	}

	buf := make([]byte, 1500)
	var pkts []rtp.Packet
	ln.SetReadDeadline(time.Now().Add(time.Second))
	for len(pkts) < 5 {
		n, _, err := ln.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var p rtp.Packet
		if err := p.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		pkts = append(pkts, p)
	}

	if !pkts[0].Marker || pkts[1].Marker {
		t.Error("marker should be set on the first packet only")
	}
	for i, p := range pkts {
		if p.PayloadType != 96 {
			t.Errorf("packet %d: payload type %d", i, p.PayloadType)
		}
		if i > 0 {
			if p.SequenceNumber != pkts[i-1].SequenceNumber+1 {
				t.Errorf("packet %d: sequence %d after %d", i, p.SequenceNumber, pkts[i-1].SequenceNumber)
			}
			if p.Timestamp-pkts[i-1].Timestamp != 48 {
				t.Errorf("packet %d: timestamp step %d, want 48", i, p.Timestamp-pkts[i-1].Timestamp)
			}
		}
	}
}

func TestVoice_FinishedAfterPlayback(t *testing.T) {
	sink := &MockSink{Block: true}
	v := New(&MockSynthesizer{PCM: []byte{0, 0}}, sink)
	var finished atomic.Int32
	v.OnFinishedPlayback(func() { finished.Add(1) })

	if err := v.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	waitFor(t, "playback", func() bool { return sink.Plays() == 1 })
	if !v.Speaking() {
		t.Error("Speaking: got false during playback")
	}
	if finished.Load() != 0 {
		t.Fatal("finished fired before playback ended")
	}

	sink.Release()
	waitFor(t, "finished", func() bool { return finished.Load() == 1 })
	if v.Speaking() {
		t.Error("Speaking: got true after playback")
	}
}

func TestVoice_SynthesisError(t *testing.T) {
	boom := errors.New("quota")
	sink := &MockSink{}
	v := New(&MockSynthesizer{SynthesizeFunc: func(context.Context, string) ([]byte, error) {
		return nil, boom
	}}, sink)

	if err := v.Speak(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Errorf("Speak: got %v, want %v", err, boom)
	}
	if sink.Plays() != 0 {
		t.Error("nothing should play")
	}
}

func TestVoice_PlaybackErrorStillFinishes(t *testing.T) {
	sink := &MockSink{PlayFunc: func(context.Context, []byte, int) error {
		return errors.New("socket closed")
	}}
	v := New(&MockSynthesizer{}, sink)
	done := make(chan struct{})
	v.OnFinishedPlayback(func() { close(done) })

	v.Speak(context.Background(), "hello")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finished did not fire")
	}
}

func TestVoice_NewSpeechInterrupts(t *testing.T) {
	sink := &MockSink{Block: true}
	v := New(&MockSynthesizer{}, sink)
	var finished atomic.Int32
	v.OnFinishedPlayback(func() { finished.Add(1) })

	v.Speak(context.Background(), "first")
	waitFor(t, "first playback", func() bool { return sink.Plays() == 1 })
	v.Speak(context.Background(), "second")
	waitFor(t, "second playback", func() bool { return sink.Plays() == 2 })

	sink.Release()
	waitFor(t, "finished", func() bool { return finished.Load() >= 1 })
	time.Sleep(10 * time.Millisecond)
	if finished.Load() != 1 {
		t.Errorf("finished: got %d, want 1", finished.Load())
	}
}

func TestVoice_PlaybackEndingDuringNextSynthesisDoesNotFinish(t *testing.T) {
	synthStarted := make(chan struct{})
	releaseSynth := make(chan struct{})
	synth := &MockSynthesizer{SynthesizeFunc: func(ctx context.Context, text string) ([]byte, error) {
		if text == "second" {
			close(synthStarted)
			<-releaseSynth
		}
		return []byte{0, 0}, nil
	}}
	sink := &MockSink{Block: true}
	v := New(synth, sink)
	var finished atomic.Int32
	v.OnFinishedPlayback(func() { finished.Add(1) })

	if err := v.Speak(context.Background(), "first"); err != nil {
		t.Fatalf("Speak first: %v", err)
	}
	waitFor(t, "first playback", func() bool { return sink.Plays() == 1 })

	spoke := make(chan error, 1)
	go func() { spoke <- v.Speak(context.Background(), "second") }()
	<-synthStarted

	// The first playback ends while the second text is still synthesizing.
	sink.Release()
	time.Sleep(20 * time.Millisecond)
	if n := finished.Load(); n != 0 {
		t.Fatalf("finished fired %d time(s) before the second playback", n)
	}

	close(releaseSynth)
	if err := <-spoke; err != nil {
		t.Fatalf("Speak second: %v", err)
	}
	waitFor(t, "second playback", func() bool { return sink.Plays() == 2 })
	if !v.Speaking() {
		t.Error("Speaking: got false during the second playback")
	}
	sink.Release()
	waitFor(t, "finished", func() bool { return finished.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if n := finished.Load(); n != 1 {
		t.Errorf("finished: got %d, want 1", n)
	}
}

func TestVoice_SupersededDuringSynthesisPlaysNothing(t *testing.T) {
	synthStarted := make(chan struct{})
	releaseSynth := make(chan struct{})
	synth := &MockSynthesizer{SynthesizeFunc: func(ctx context.Context, text string) ([]byte, error) {
		if text == "slow" {
			close(synthStarted)
			<-releaseSynth
		}
		return []byte{0, 0}, nil
	}}
	sink := &MockSink{Block: true}
	v := New(synth, sink)

	spoke := make(chan error, 1)
	go func() { spoke <- v.Speak(context.Background(), "slow") }()
	<-synthStarted

	if err := v.Speak(context.Background(), "fast"); err != nil {
		t.Fatalf("Speak fast: %v", err)
	}
	waitFor(t, "fast playback", func() bool { return sink.Plays() == 1 })

	close(releaseSynth)
	if err := <-spoke; err != nil {
		t.Fatalf("Speak slow: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if n := sink.Plays(); n != 1 {
		t.Errorf("plays: got %d, want 1", n)
	}
	sink.Release()
}

func TestVoice_Close(t *testing.T) {
	sink := &MockSink{Block: true}
	v := New(&MockSynthesizer{}, sink)
	var finished atomic.Int32
	v.OnFinishedPlayback(func() { finished.Add(1) })

	v.Speak(context.Background(), "bye")
	waitFor(t, "playback", func() bool { return sink.Plays() == 1 })
	v.Close()

	if err := v.Speak(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("Speak after Close: got %v", err)
	}
	if finished.Load() != 0 {
		t.Error("finished fired after Close")
	}
}

func TestDiscardSink(t *testing.T) {
	start := time.Now()
	if err := (DiscardSink{}).Play(context.Background(), make([]byte, 480), 24000); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("DiscardSink returned before the audio duration")
	}
}
