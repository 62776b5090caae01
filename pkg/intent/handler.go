package intent

import (
	"context"
	"fmt"
	"strings"
)

// DefaultThreshold is the score a prediction must exceed to be acted on.
const DefaultThreshold = 0.5

// Reply is the personalized answer to a generic intent.
type Reply struct {
	Text    string `json:"reply"`
	Emotion string `json:"emotion"`
	Action  string `json:"action"`
}

// ReplySource fetches the reply for a named intent.
type ReplySource interface {
	IntentReply(ctx context.Context, intent string) (Reply, error)
}

// Handler resolves predictions into actions.
type Handler struct {
	threshold float64
}

// NewHandler creates a Handler. A threshold <= 0 uses DefaultThreshold.
func NewHandler(threshold float64) *Handler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Handler{threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (h *Handler) Threshold() float64 {
	return h.threshold
}

// TopIntent returns the lowercased intent of p, or "none" when its score
// does not exceed the threshold.
func (h *Handler) TopIntent(p Prediction) string {
	if p.Intent == "" || p.Score <= h.threshold {
		return IntentNone
	}
	return strings.ToLower(p.Intent)
}

// Resolve turns p into the actions to execute. replies is only consulted
// for generic intents.
func (h *Handler) Resolve(ctx context.Context, p Prediction, replies ReplySource) ([]Action, error) {
	top := h.TopIntent(p)
	switch {
	case IsCommand(top):
		return []Action{CommandAction(top)}, nil
	case top == IntentName:
		e, ok := p.Entity(EntityName)
		if !ok || strings.TrimSpace(e.Value) == "" {
			return []Action{NoOpAction()}, nil
		}
		return []Action{NameAction(strings.TrimSpace(e.Value))}, nil
	case top == IntentNone:
		return []Action{NoOpAction()}, nil
	}

	if replies == nil {
		return nil, ErrNoReplySource
	}
	reply, err := replies.IntentReply(ctx, top)
	if err != nil {
		return nil, fmt.Errorf("intent: reply for %q: %w", top, err)
	}
	return []Action{EmotionAction(reply.Emotion), SpeakAction(reply.Text)}, nil
}
