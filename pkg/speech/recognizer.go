// Package speech recognizes utterances by streaming microphone audio to the
// OpenAI realtime transcription service over a websocket.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/ears"
)

// DefaultURL is the realtime transcription endpoint.
const DefaultURL = "wss://api.openai.com/v1/realtime?intent=transcription"

// Config holds recognizer configuration.
type Config struct {
	APIKey string
	URL    string

	Model    string
	Language string

	// SampleRate of the microphone stream. The service expects 24 kHz.
	SampleRate int

	// ChunkDuration is the audio sent per append message.
	ChunkDuration time.Duration

	// Server-side voice activity detection.
	VADThreshold    float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration

	HandshakeTimeout time.Duration
}

// DefaultConfig returns the default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		Model:            "gpt-4o-transcribe",
		Language:         "en",
		SampleRate:       24000,
		ChunkDuration:    100 * time.Millisecond,
		VADThreshold:     0.5,
		PrefixPadding:    300 * time.Millisecond,
		SilenceDuration:  500 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.SampleRate <= 0 || c.ChunkDuration <= 0 {
		return fmt.Errorf("speech: invalid audio format %d Hz / %v", c.SampleRate, c.ChunkDuration)
	}
	return nil
}

// Recognizer implements ears.Recognizer. Every Recognize call opens its own
// transcription session and microphone stream.
type Recognizer struct {
	cfg    Config
	mic    Microphone
	dialer *websocket.Dialer
	logger *slog.Logger
}

// New creates a Recognizer.
func New(cfg Config, mic Microphone) *Recognizer {
	return &Recognizer{
		cfg: cfg,
		mic: mic,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: log.Component("speech"),
	}
}

// Init checks the configuration and that the microphone can be opened.
func (r *Recognizer) Init(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if r.mic == nil {
		return ErrNoMicrophone
	}
	stream, err := r.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("speech: open microphone: %w", err)
	}
	stream.Close()
	r.logger.Info("recognizer ready", "model", r.cfg.Model, "language", r.cfg.Language)
	return nil
}

// Recognize streams audio until the service reports one completed
// transcription. Cancelling ctx aborts with an error wrapping ctx.Err().
func (r *Recognizer) Recognize(ctx context.Context) (ears.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		if ctx.Err() != nil {
			return ears.Result{}, fmt.Errorf("speech: %w", ctx.Err())
		}
		return ears.Result{}, fmt.Errorf("speech: connect: %w", err)
	}
	sess := &session{conn: conn}
	defer conn.Close()

	if err := sess.send(r.sessionUpdate()); err != nil {
		return ears.Result{}, fmt.Errorf("speech: configure session: %w", err)
	}

	audio, err := r.mic.Open(ctx)
	if err != nil {
		return ears.Result{}, fmt.Errorf("speech: open microphone: %w", err)
	}

	done := make(chan outcome, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		done <- sess.stream(audio, r.chunkBytes())
	}()
	go func() {
		defer wg.Done()
		done <- sess.receive()
	}()

	var out outcome
	select {
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("speech: %w", ctx.Err())}
	case out = <-done:
	}

	audio.Close()
	conn.Close()
	wg.Wait()

	if out.err != nil {
		return ears.Result{}, out.err
	}
	r.logger.Debug("transcribed", "text", out.result.Text, "confidence", out.result.Confidence)
	return out.result, nil
}

func (r *Recognizer) chunkBytes() int {
	return int(int64(r.cfg.SampleRate)*int64(r.cfg.ChunkDuration)/int64(time.Second)) * 2
}

func (r *Recognizer) sessionUpdate() map[string]interface{} {
	transcription := map[string]interface{}{
		"model": r.cfg.Model,
	}
	if r.cfg.Language != "" {
		transcription["language"] = r.cfg.Language
	}
	return map[string]interface{}{
		"type": "transcription_session.update",
		"session": map[string]interface{}{
			"input_audio_format":        "pcm16",
			"input_audio_transcription": transcription,
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           r.cfg.VADThreshold,
				"prefix_padding_ms":   r.cfg.PrefixPadding.Milliseconds(),
				"silence_duration_ms": r.cfg.SilenceDuration.Milliseconds(),
			},
			"include": []string{"item.input_audio_transcription.logprobs"},
		},
	}
}

type outcome struct {
	result ears.Result
	err    error
}

// session is one transcription websocket.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

// stream appends microphone audio until the stream ends.
func (s *session) stream(audio io.Reader, chunk int) outcome {
	buf := make([]byte, chunk)
	for {
		n, err := io.ReadFull(audio, buf)
		if n > 0 {
			msg := map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if werr := s.send(msg); werr != nil {
				return outcome{err: fmt.Errorf("speech: send audio: %w", werr)}
			}
		}
		if err != nil {
			return outcome{err: ErrMicrophoneClosed}
		}
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Logprobs   []struct {
		Logprob float64 `json:"logprob"`
	} `json:"logprobs"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// receive reads server events until a transcription completes or fails.
func (s *session) receive() outcome {
	for {
		s.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return outcome{err: fmt.Errorf("speech: read: %w", err)}
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "conversation.item.input_audio_transcription.completed":
			text := strings.TrimSpace(ev.Transcript)
			return outcome{result: ears.Result{Text: text, Confidence: confidence(text, ev)}}

		case "conversation.item.input_audio_transcription.failed":
			msg := "transcription failed"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return outcome{err: &ServerError{Type: ev.Type, Message: msg}}

		case "error":
			if ev.Error == nil {
				return outcome{err: &ServerError{Type: "error", Message: "unknown error"}}
			}
			return outcome{err: &ServerError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}}
		}
	}
}

// confidence is the geometric mean token probability. Transcripts without
// log probabilities count as certain; empty transcripts as worthless.
func confidence(text string, ev serverEvent) float64 {
	if text == "" {
		return 0
	}
	if len(ev.Logprobs) == 0 {
		return 1
	}
	var sum float64
	for _, lp := range ev.Logprobs {
		sum += lp.Logprob
	}
	return math.Exp(sum / float64(len(ev.Logprobs)))
}

var _ ears.Recognizer = (*Recognizer)(nil)
