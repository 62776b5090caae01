// Package upstream reports Robbie's sense events to the analytics backend.
package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-robbie/internal/httpc"
	"github.com/teslashibe/go-robbie/internal/log"
)

// TimeFormat is the timestamp layout the backend expects.
const TimeFormat = "2006-01-02 15:04:05"

// SenseEvent is one thing Robbie sensed or did.
type SenseEvent struct {
	Sense     string `json:"sense"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId"`
}

// Time parses the event timestamp. It returns the zero time when malformed.
func (e SenseEvent) Time() time.Time {
	t, _ := time.ParseInLocation(TimeFormat, e.Timestamp, time.Local)
	return t
}

// Config configures the reporter.
type Config struct {
	// BaseURL of the backend. Events are only kept locally when empty.
	BaseURL string

	// QueueSize bounds the events waiting to be sent. When full, the oldest
	// event is dropped.
	QueueSize int

	Timeout time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{QueueSize: 64, Timeout: 10 * time.Second}
}

// Listener receives every event after it leaves the queue.
type Listener func(ctx context.Context, ev SenseEvent)

// Reporter queues events and posts them to {BaseURL}/api/event.
// It implements brain.EventReporter.
type Reporter struct {
	cfg       Config
	client    *http.Client
	sessionID string
	queue     chan SenseEvent
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.RWMutex
	listeners []Listener

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a reporter with a fresh session id.
func New(cfg Config) *Reporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Reporter{
		cfg:       cfg,
		client:    httpc.NewClient(cfg.Timeout),
		sessionID: uuid.NewString(),
		queue:     make(chan SenseEvent, cfg.QueueSize),
		now:       time.Now,
		logger:    log.Component("upstream"),
	}
}

// SessionID identifies this process run in every event.
func (r *Reporter) SessionID() string {
	return r.sessionID
}

// Subscribe adds a listener. Listeners run on the Run goroutine.
func (r *Reporter) Subscribe(fn Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Report queues an event without blocking.
func (r *Reporter) Report(sense, message string) {
	ev := SenseEvent{
		Sense:     sense,
		Message:   message,
		Timestamp: r.now().Format(TimeFormat),
		SessionID: r.sessionID,
	}
	for {
		select {
		case r.queue <- ev:
			return
		default:
		}
		select {
		case old := <-r.queue:
			r.dropped.Add(1)
			r.logger.Debug("event queue full, dropping oldest", "sense", old.Sense)
		default:
		}
	}
}

// Run delivers queued events until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		}
	}
}

func (r *Reporter) deliver(ctx context.Context, ev SenseEvent) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}

	if r.cfg.BaseURL == "" {
		return
	}
	err := httpc.DoJSON(ctx, r.client, httpc.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(r.cfg.BaseURL, "/") + "/api/event",
		Body:   ev,
	}, nil)
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("event upload failed", "sense", ev.Sense, "error", err)
		return
	}
	r.sent.Add(1)
}

// Stats are cumulative delivery counters.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// Stats returns the delivery counters.
func (r *Reporter) Stats() Stats {
	return Stats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Queued:  len(r.queue),
	}
}
