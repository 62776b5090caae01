package intent

import (
	"context"
	"sync"
)

// MockPredictor implements Predictor for testing.
type MockPredictor struct {
	mu sync.Mutex

	// PredictFunc overrides Predict when set.
	PredictFunc func(ctx context.Context, text string) (Prediction, error)

	// Predictions maps lowercased text to a canned prediction.
	Predictions map[string]Prediction

	calls []string
}

// NewMockPredictor creates a mock predictor.
func NewMockPredictor() *MockPredictor {
	return &MockPredictor{Predictions: make(map[string]Prediction)}
}

// Predict implements Predictor.
func (m *MockPredictor) Predict(ctx context.Context, text string) (Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	fn := m.PredictFunc
	p, ok := m.Predictions[text]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if ok {
		return p, nil
	}
	return Prediction{Query: text, Intent: IntentNone}, nil
}

// Calls returns the texts passed to Predict.
func (m *MockPredictor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockReplySource implements ReplySource for testing.
type MockReplySource struct {
	mu sync.Mutex

	// IntentReplyFunc overrides IntentReply when set.
	IntentReplyFunc func(ctx context.Context, intent string) (Reply, error)

	// Replies maps intent names to canned replies.
	Replies map[string]Reply

	calls []string
}

// IntentReply implements ReplySource.
func (m *MockReplySource) IntentReply(ctx context.Context, intent string) (Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, intent)
	fn := m.IntentReplyFunc
	r := m.Replies[intent]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, intent)
	}
	return r, nil
}

// Calls returns the intents requested.
func (m *MockReplySource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
