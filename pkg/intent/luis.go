package intent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-robbie/internal/httpc"
)

// DefaultLUISEndpoint is the LUIS v2 prediction endpoint.
const DefaultLUISEndpoint = "https://westus.api.cognitive.microsoft.com/luis/v2.0/apps"

// LUISConfig configures HTTPPredictor.
type LUISConfig struct {
	Endpoint string
	AppID    string
	Key      string
	Timeout  time.Duration
}

// DefaultLUISConfig returns defaults without credentials.
func DefaultLUISConfig() LUISConfig {
	return LUISConfig{
		Endpoint: DefaultLUISEndpoint,
		Timeout:  10 * time.Second,
	}
}

// Validate checks the configuration.
func (c LUISConfig) Validate() error {
	if c.AppID == "" {
		return ErrMissingAppID
	}
	if c.Key == "" {
		return ErrMissingKey
	}
	return nil
}

// HTTPPredictor predicts intents with a LUIS v2 application.
type HTTPPredictor struct {
	cfg    LUISConfig
	client *http.Client
}

// NewHTTPPredictor creates a LUIS predictor.
func NewHTTPPredictor(cfg LUISConfig) (*HTTPPredictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultLUISEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPPredictor{cfg: cfg, client: httpc.NewClient(cfg.Timeout)}, nil
}

type luisIntent struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

type luisEntity struct {
	Entity string  `json:"entity"`
	Type   string  `json:"type"`
	Score  float64 `json:"score"`
}

type luisResponse struct {
	Query            string       `json:"query"`
	TopScoringIntent *luisIntent  `json:"topScoringIntent"`
	Intents          []luisIntent `json:"intents"`
	Entities         []luisEntity `json:"entities"`
}

// Predict implements Predictor.
func (p *HTTPPredictor) Predict(ctx context.Context, text string) (Prediction, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("verbose", "true")
	u := strings.TrimRight(p.cfg.Endpoint, "/") + "/" + url.PathEscape(p.cfg.AppID) + "?" + q.Encode()

	var resp luisResponse
	err := httpc.DoJSON(ctx, p.client, httpc.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{"Ocp-Apim-Subscription-Key": {p.cfg.Key}},
	}, &resp)
	if err != nil {
		return Prediction{}, fmt.Errorf("intent: predict: %w", err)
	}
	return resp.prediction(text), nil
}

func (r luisResponse) prediction(text string) Prediction {
	pred := Prediction{Query: text, Intent: IntentNone}
	top := r.TopScoringIntent
	if top == nil {
		for i := range r.Intents {
			if top == nil || r.Intents[i].Score > top.Score {
				top = &r.Intents[i]
			}
		}
	}
	if top != nil {
		pred.Intent = top.Intent
		pred.Score = top.Score
	}
	for _, e := range r.Entities {
		pred.Entities = append(pred.Entities, Entity{Type: e.Type, Value: e.Entity, Score: e.Score})
	}
	return pred
}
