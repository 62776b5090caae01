// Package profile talks to the profile and personalization backend.
//
// Every conversation session has its own Client so the backend can keep a
// separate analytics session per person. Pool owns the clients.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-robbie/internal/httpc"
	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
)

// DefaultUserAgent identifies Robbie to the backend.
const DefaultUserAgent = "Robbie/1.0 (go-robbie; Raspberry Pi)"

// Config configures backend clients.
type Config struct {
	// BaseURL is the backend root, e.g. "http://www.robbie.net/".
	BaseURL string

	// IntentBase is where intent replies live. Defaults to BaseURL.
	IntentBase string

	UserAgent string
	Timeout   time.Duration
}

// DefaultConfig returns the default backend settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://www.robbie.net/",
		UserAgent: DefaultUserAgent,
		Timeout:   10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("profile: invalid base URL: %w", err)
	}
	return nil
}

// Client is one person's session with the backend.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu       sync.RWMutex
	personID string
	rekeyed  bool
}

// NewClient creates a client for personID with its own cookie jar.
func NewClient(cfg Config, personID string) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := httpc.NewClient(cfg.Timeout)
	// cookiejar.New only fails on a bad PublicSuffixList option.
	jar, _ := cookiejar.New(nil)
	hc.Jar = jar

	return &Client{
		cfg:      cfg,
		http:     hc,
		personID: personID,
		logger:   log.Component("profile"),
	}
}

// PersonID returns the id this session is keyed by.
func (c *Client) PersonID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.personID
}

// Rekeyed reports whether the session has been moved to a new id.
func (c *Client) Rekeyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rekeyed
}

func (c *Client) rekey(id string) {
	c.mu.Lock()
	c.personID = id
	c.rekeyed = true
	c.mu.Unlock()
}

// Identify registers the session's person with the backend and returns the
// stored profile.
func (c *Client) Identify(ctx context.Context) (IdentifyResponse, error) {
	var resp IdentifyResponse
	if err := c.do(ctx, http.MethodPost, c.url(c.cfg.BaseURL, "api/Identify"), identifyRequest{PersonID: c.PersonID()}, &resp); err != nil {
		return IdentifyResponse{}, fmt.Errorf("profile: identify: %w", err)
	}
	return resp, nil
}

// UpdateProfile pushes profile fields. The name always goes to FirstName.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) error {
	req := updateProfileRequest{
		FirstName: p.Name,
		Age:       p.Age,
		Emotion:   p.Emotion,
		Gender:    p.Gender,
	}
	if err := c.do(ctx, http.MethodPost, c.url(c.cfg.BaseURL, "api/Profile/UpdateProfile"), req, nil); err != nil {
		return fmt.Errorf("profile: update profile: %w", err)
	}
	return nil
}

// UpdateEmotionProfile pushes emotion scores and returns the updated
// experience profile.
func (c *Client) UpdateEmotionProfile(ctx context.Context, scores identity.EmotionScores) (Experience, error) {
	var exp Experience
	if err := c.do(ctx, http.MethodPost, c.url(c.cfg.BaseURL, "api/Profile/UpdateEmotion"), NewEmotionCard(scores), &exp); err != nil {
		return Experience{}, fmt.Errorf("profile: update emotion: %w", err)
	}
	return exp, nil
}

// Experience returns the experience profile of the session's person.
func (c *Client) Experience(ctx context.Context) (Experience, error) {
	var exp Experience
	if err := c.do(ctx, http.MethodGet, c.url(c.cfg.BaseURL, "api/Profile/Experience"), nil, &exp); err != nil {
		return Experience{}, fmt.Errorf("profile: experience: %w", err)
	}
	return exp, nil
}

type intentReplyEnvelope struct {
	Response intent.Reply `json:"response"`
}

// IntentReply fetches the personalized reply for a named intent.
func (c *Client) IntentReply(ctx context.Context, name string) (intent.Reply, error) {
	base := c.cfg.IntentBase
	if base == "" {
		base = c.cfg.BaseURL
	}
	var env intentReplyEnvelope
	if err := c.do(ctx, http.MethodGet, c.url(base, url.PathEscape(name)), nil, &env); err != nil {
		return intent.Reply{}, fmt.Errorf("profile: intent reply %q: %w", name, err)
	}
	return env.Response, nil
}

func (c *Client) url(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	c.logger.Debug("backend request", "method", method, "url", u, "person_id", c.PersonID())
	return httpc.DoJSON(ctx, c.http, httpc.Request{
		Method: method,
		URL:    u,
		Body:   body,
		Header: http.Header{
			"User-Agent":    {c.cfg.UserAgent},
			"Cache-Control": {"no-cache"},
		},
	}, out)
}
