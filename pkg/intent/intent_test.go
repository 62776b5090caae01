package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler_Resolve(t *testing.T) {
	replies := &MockReplySource{Replies: map[string]Reply{
		"weather": {Text: "It is sunny, {name}.", Emotion: "Happiness"},
	}}
	h := NewHandler(0)

	tests := []struct {
		name string
		pred Prediction
		want []Action
	}{
		{
			name: "command",
			pred: Prediction{Intent: "sleep", Score: 1},
			want: []Action{CommandAction(CommandSleep)},
		},
		{
			name: "command case-insensitive",
			pred: Prediction{Intent: "Wake Up", Score: 1},
			want: []Action{CommandAction(CommandWakeUp)},
		},
		{
			name: "name with entity",
			pred: Prediction{Intent: "Name", Score: 0.9, Entities: []Entity{{Type: "Name", Value: "bob"}}},
			want: []Action{NameAction("bob")},
		},
		{
			name: "name without entity",
			pred: Prediction{Intent: "name", Score: 0.9},
			want: []Action{NoOpAction()},
		},
		{
			name: "none",
			pred: Prediction{Intent: "None", Score: 0.9},
			want: []Action{NoOpAction()},
		},
		{
			name: "below threshold",
			pred: Prediction{Intent: "weather", Score: 0.4},
			want: []Action{NoOpAction()},
		},
		{
			name: "exactly threshold",
			pred: Prediction{Intent: "weather", Score: 0.5},
			want: []Action{NoOpAction()},
		},
		{
			name: "generic",
			pred: Prediction{Intent: "Weather", Score: 0.8},
			want: []Action{EmotionAction("Happiness"), SpeakAction("It is sunny, {name}.")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Resolve(context.Background(), tt.pred, replies)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Resolve: got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("action %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandler_ReplyError(t *testing.T) {
	replies := &MockReplySource{
		IntentReplyFunc: func(ctx context.Context, intent string) (Reply, error) {
			return Reply{}, errors.New("backend down")
		},
	}
	h := NewHandler(DefaultThreshold)
	if _, err := h.Resolve(context.Background(), Prediction{Intent: "joke", Score: 0.9}, replies); err == nil {
		t.Error("expected error from reply source")
	}
	if _, err := h.Resolve(context.Background(), Prediction{Intent: "joke", Score: 0.9}, nil); !errors.Is(err, ErrNoReplySource) {
		t.Errorf("nil source: got %v, want ErrNoReplySource", err)
	}
}

func TestCommandPredictor(t *testing.T) {
	fallback := NewMockPredictor()
	fallback.Predictions["what is my name"] = Prediction{Intent: "whoami", Score: 0.7}
	p := NewCommandPredictor(fallback)

	got, err := p.Predict(context.Background(), "  Shut Down ")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got.Intent != CommandShutDown || got.Score != 1 {
		t.Errorf("command: got %+v", got)
	}
	if len(fallback.Calls()) != 0 {
		t.Error("commands must not reach the fallback")
	}

	got, _ = p.Predict(context.Background(), "what is my name")
	if got.Intent != "whoami" {
		t.Errorf("fallback: got %q, want whoami", got.Intent)
	}

	got, _ = NewCommandPredictor(nil).Predict(context.Background(), "hello")
	if got.Intent != IntentNone {
		t.Errorf("nil fallback: got %q, want none", got.Intent)
	}
}

func TestHTTPPredictor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app-1" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "secret" {
			t.Errorf("key header: got %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "my name is bob" {
			t.Errorf("query: got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"query":            "my name is bob",
			"topScoringIntent": map[string]any{"intent": "Name", "score": 0.93},
			"entities": []map[string]any{
				{"entity": "bob", "type": "Name", "score": 0.88},
			},
		})
	}))
	defer srv.Close()

	cfg := DefaultLUISConfig()
	cfg.Endpoint = srv.URL
	cfg.AppID = "app-1"
	cfg.Key = "secret"
	p, err := NewHTTPPredictor(cfg)
	if err != nil {
		t.Fatalf("NewHTTPPredictor: %v", err)
	}

	got, err := p.Predict(context.Background(), "my name is bob")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got.Intent != "Name" || got.Score != 0.93 {
		t.Errorf("intent: got %q %.2f", got.Intent, got.Score)
	}
	e, ok := got.Entity("name")
	if !ok || e.Value != "bob" {
		t.Errorf("entity: got %+v ok=%v", e, ok)
	}
}

func TestHTTPPredictor_FallsBackToIntentList(t *testing.T) {
	r := luisResponse{Intents: []luisIntent{{"none", 0.1}, {"greeting", 0.6}, {"joke", 0.2}}}
	got := r.prediction("hi")
	if got.Intent != "greeting" || got.Score != 0.6 {
		t.Errorf("got %q %.2f, want greeting 0.60", got.Intent, got.Score)
	}
}

func TestLUISConfig_Validate(t *testing.T) {
	cfg := DefaultLUISConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAppID) {
		t.Errorf("got %v, want ErrMissingAppID", err)
	}
	cfg.AppID = "x"
	if err := cfg.Validate(); !errors.Is(err, ErrMissingKey) {
		t.Errorf("got %v, want ErrMissingKey", err)
	}
}

func TestAction_String(t *testing.T) {
	if got := SpeakAction("hi").String(); got != `speak("hi")` {
		t.Errorf("got %s", got)
	}
	if got := NoOpAction().String(); got != "noop" {
		t.Errorf("got %s", got)
	}
	if got := Kind(42).String(); got != "unknown" {
		t.Errorf("got %s", got)
	}
}
