package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/go-robbie/internal/httpc"
	"github.com/teslashibe/go-robbie/pkg/identity"
)

type backend struct {
	mu       sync.Mutex
	requests []*recorded
	srv      *httptest.Server
}

type recorded struct {
	method string
	path   string
	body   map[string]any
	cookie string
	agent  string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	rec := &recorded{method: r.Method, path: r.URL.Path, agent: r.UserAgent()}
	if ck, err := r.Cookie("SC_ANALYTICS_GLOBAL_COOKIE"); err == nil {
		rec.cookie = ck.Value
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&rec.body)
	}
	b.mu.Lock()
	b.requests = append(b.requests, rec)
	b.mu.Unlock()

	switch r.URL.Path {
	case "/api/Identify":
		id, _ := rec.body["PersonId"].(string)
		http.SetCookie(w, &http.Cookie{Name: "SC_ANALYTICS_GLOBAL_COOKIE", Value: "contact-" + id, Path: "/"})
		if id == "p-1" {
			json.NewEncoder(w).Encode(map[string]any{"Name": "bob-p-1", "Gender": "male"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"Name": "", "Gender": ""})
	case "/api/Profile/UpdateProfile":
		w.WriteHeader(http.StatusOK)
	case "/api/Profile/UpdateEmotion", "/api/Profile/Experience":
		json.NewEncoder(w).Encode(map[string]any{
			"OnsiteBehavior": map[string]any{
				"ActiveProfiles": []map[string]any{{
					"Name": "Persona",
					"PatternMatches": []map[string]any{
						{"PatternName": "Cheerful", "MatchPercentage": 87.5},
					},
				}},
			},
		})
	case "/identify":
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"reply": "Welcome back {name}!", "emotion": "Happiness", "action": ""},
		})
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) last() *recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func (b *backend) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = b.srv.URL + "/"
	return cfg
}

func TestClient_Identify(t *testing.T) {
	b := newBackend(t)
	c := NewClient(b.config(), "p-1")

	resp, err := c.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if resp.Name != "bob-p-1" || resp.Gender != "male" {
		t.Errorf("Identify: got %+v", resp)
	}
	req := b.last()
	if req.method != http.MethodPost || req.body["PersonId"] != "p-1" {
		t.Errorf("request: got %s %v", req.method, req.body)
	}
	if req.agent != DefaultUserAgent {
		t.Errorf("User-Agent: got %q", req.agent)
	}
}

func TestClient_CookiesArePerSession(t *testing.T) {
	b := newBackend(t)
	pool := NewPool(b.config())
	ctx := context.Background()

	bob := pool.GetClient("p-1")
	anon := pool.GetClient("Anonymous")

	bob.Identify(ctx)
	anon.Identify(ctx)

	bob.Experience(ctx)
	if got := b.last().cookie; got != "contact-p-1" {
		t.Errorf("bob cookie: got %q, want contact-p-1", got)
	}
	anon.Experience(ctx)
	if got := b.last().cookie; got != "contact-Anonymous" {
		t.Errorf("anonymous cookie: got %q, want contact-Anonymous", got)
	}
}

func TestClient_UpdateProfile(t *testing.T) {
	b := newBackend(t)
	c := NewClient(b.config(), "p-1")

	if err := c.UpdateProfile(context.Background(), Profile{Name: "alice", Gender: "female"}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	req := b.last()
	if req.path != "/api/Profile/UpdateProfile" {
		t.Errorf("path: got %q", req.path)
	}
	if req.body["FirstName"] != "alice" || req.body["Gender"] != "female" {
		t.Errorf("body: got %v", req.body)
	}
}

func TestClient_UpdateEmotionProfileScalesScores(t *testing.T) {
	b := newBackend(t)
	c := NewClient(b.config(), "p-1")

	exp, err := c.UpdateEmotionProfile(context.Background(), identity.EmotionScores{Happiness: 0.75, Neutral: 0.25})
	if err != nil {
		t.Fatalf("UpdateEmotionProfile: %v", err)
	}
	req := b.last()
	if req.body["Happiness"] != 75.0 || req.body["Neutral"] != 25.0 {
		t.Errorf("scores: got %v", req.body)
	}
	pm, ok := exp.TopPattern()
	if !ok || pm.PatternName != "Cheerful" || pm.MatchPercentage != 87.5 {
		t.Errorf("TopPattern: got %+v ok=%v", pm, ok)
	}
}

func TestClient_IntentReply(t *testing.T) {
	b := newBackend(t)
	c := NewClient(b.config(), "p-1")

	reply, err := c.IntentReply(context.Background(), "identify")
	if err != nil {
		t.Fatalf("IntentReply: %v", err)
	}
	if reply.Text != "Welcome back {name}!" || reply.Emotion != "Happiness" {
		t.Errorf("IntentReply: got %+v", reply)
	}
}

func TestClient_StatusError(t *testing.T) {
	b := newBackend(t)
	c := NewClient(b.config(), "p-1")

	_, err := c.IntentReply(context.Background(), "does-not-exist")
	var se *httpc.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("got %v, want 404 StatusError", err)
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("error should name the intent: %v", err)
	}
}

func TestPool_GetClientIsLazyAndStable(t *testing.T) {
	p := NewPool(DefaultConfig())
	if p.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", p.Len())
	}
	a := p.GetClient("Anonymous")
	if p.GetClient("Anonymous") != a {
		t.Error("GetClient returned a different client for the same id")
	}
	if p.Len() != 1 {
		t.Errorf("Len: got %d, want 1", p.Len())
	}
}

func TestPool_RekeyOnce(t *testing.T) {
	p := NewPool(DefaultConfig())
	anon := p.GetClient("Anonymous")

	moved, err := p.Rekey("Anonymous", "p-9")
	if err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if moved != anon || moved.PersonID() != "p-9" || !moved.Rekeyed() {
		t.Errorf("Rekey: got id %q rekeyed=%v", moved.PersonID(), moved.Rekeyed())
	}
	if p.GetClient("p-9") != anon {
		t.Error("client not reachable under the new id")
	}

	if _, err := p.Rekey("Anonymous", "p-10"); !errors.Is(err, ErrAlreadyRekeyed) {
		t.Errorf("second Rekey: got %v, want ErrAlreadyRekeyed", err)
	}
	if _, err := p.Rekey("p-9", "p-11"); !errors.Is(err, ErrAlreadyRekeyed) {
		t.Errorf("rekey of a rekeyed session: got %v, want ErrAlreadyRekeyed", err)
	}

	// A fresh anonymous session can be rekeyed again.
	fresh := p.GetClient("Anonymous")
	if fresh == anon {
		t.Fatal("expected a new anonymous client")
	}
	if _, err := p.Rekey("Anonymous", "p-12"); err != nil {
		t.Errorf("fresh Rekey: %v", err)
	}
}

func TestPool_RekeyErrors(t *testing.T) {
	p := NewPool(DefaultConfig())
	p.GetClient("Anonymous")
	p.GetClient("p-1")

	if _, err := p.Rekey("Anonymous", "p-1"); !errors.Is(err, ErrIDInUse) {
		t.Errorf("got %v, want ErrIDInUse", err)
	}
	if _, err := p.Rekey("nobody", "p-2"); !errors.Is(err, ErrNoSession) {
		t.Errorf("got %v, want ErrNoSession", err)
	}
	if _, err := p.Rekey("Anonymous", ""); !errors.Is(err, ErrEmptyID) {
		t.Errorf("got %v, want ErrEmptyID", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	if err := (Config{}).Validate(); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("got %v, want ErrMissingBaseURL", err)
	}
}
