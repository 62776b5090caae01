package intent

import (
	"context"
	"strings"
)

// Built-in spoken commands. They bypass cloud prediction.
const (
	CommandWakeUp   = "wake up"
	CommandSleep    = "sleep"
	CommandShutDown = "shut down"
)

// Well-known intent names.
const (
	IntentName = "name"
	IntentNone = "none"
)

// EntityName is the entity type carrying a spoken name.
const EntityName = "Name"

// Entity is one extracted entity.
type Entity struct {
	Type  string
	Value string
	Score float64
}

// Prediction is the classification of one utterance.
type Prediction struct {
	Query    string
	Intent   string
	Score    float64
	Entities []Entity
}

// Entity returns the first entity of the given type.
func (p Prediction) Entity(typ string) (Entity, bool) {
	for _, e := range p.Entities {
		if strings.EqualFold(e.Type, typ) {
			return e, true
		}
	}
	return Entity{}, false
}

// Predictor classifies utterances.
type Predictor interface {
	Predict(ctx context.Context, text string) (Prediction, error)
}

// IsCommand reports whether name is a built-in command.
func IsCommand(name string) bool {
	switch strings.ToLower(name) {
	case CommandWakeUp, CommandSleep, CommandShutDown:
		return true
	}
	return false
}

// CommandPredictor matches built-in commands and defers everything else to
// a fallback predictor.
type CommandPredictor struct {
	fallback Predictor
}

// NewCommandPredictor wraps fallback. A nil fallback predicts "none" for
// anything that is not a command.
func NewCommandPredictor(fallback Predictor) *CommandPredictor {
	return &CommandPredictor{fallback: fallback}
}

// Predict implements Predictor.
func (p *CommandPredictor) Predict(ctx context.Context, text string) (Prediction, error) {
	trimmed := strings.TrimSpace(text)
	if IsCommand(trimmed) {
		return Prediction{Query: text, Intent: strings.ToLower(trimmed), Score: 1}, nil
	}
	if p.fallback == nil {
		return Prediction{Query: text, Intent: IntentNone}, nil
	}
	return p.fallback.Predict(ctx, text)
}
