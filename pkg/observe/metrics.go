// Package observe provides Robbie's OpenTelemetry metrics.
//
// All recording methods are safe on a nil *Metrics so components can be
// built without instrumentation in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/teslashibe/go-robbie"

// Frame outcomes recorded by the perception loop.
const (
	FrameProcessed = "processed"
	FrameDropped   = "dropped"
	FrameEmpty     = "empty"
	FrameFailed    = "failed"
)

// Utterance outcomes recorded by the brain.
const (
	UtteranceEmpty   = "empty"
	UtteranceHandled = "handled"
	UtteranceFailed  = "failed"
)

// latencyBuckets covers 1ms to 5s, matching frame processing with a cloud
// round trip at the tail.
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds Robbie's instruments.
type Metrics struct {
	frames        metric.Int64Counter
	frameDuration metric.Float64Histogram
	servoSteps    metric.Int64Counter
	transitions   metric.Int64Counter
	utterances    metric.Int64Counter
	actions       metric.Int64Counter
	collabErrors  metric.Int64Counter
	tracked       metric.Int64Gauge
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.frames, err = meter.Int64Counter("robbie.perception.frames",
		metric.WithDescription("Perception ticks by outcome.")); err != nil {
		return nil, err
	}
	if m.frameDuration, err = meter.Float64Histogram("robbie.perception.duration",
		metric.WithDescription("Time spent processing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if m.servoSteps, err = meter.Int64Counter("robbie.pantilt.steps",
		metric.WithDescription("Servo steps taken by axis.")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("robbie.ears.transitions",
		metric.WithDescription("Listening state transitions by target state.")); err != nil {
		return nil, err
	}
	if m.utterances, err = meter.Int64Counter("robbie.brain.utterances",
		metric.WithDescription("Recognized utterances by outcome.")); err != nil {
		return nil, err
	}
	if m.actions, err = meter.Int64Counter("robbie.brain.actions",
		metric.WithDescription("Executed actions by kind.")); err != nil {
		return nil, err
	}
	if m.collabErrors, err = meter.Int64Counter("robbie.collaborator.errors",
		metric.WithDescription("Failed calls to external collaborators.")); err != nil {
		return nil, err
	}
	if m.tracked, err = meter.Int64Gauge("robbie.identity.tracked",
		metric.WithDescription("Identities currently tracked.")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoop returns metrics backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordFrame records one perception tick.
func (m *Metrics) RecordFrame(ctx context.Context, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.frames.Add(ctx, 1, attrs)
	if d > 0 {
		m.frameDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordServoStep records one pan/tilt step.
func (m *Metrics) RecordServoStep(ctx context.Context, axis string) {
	if m == nil {
		return
	}
	m.servoSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("axis", axis)))
}

// RecordTransition records a listening state transition.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordUtterance records a recognized utterance outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordAction records an executed action.
func (m *Metrics) RecordAction(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCollaboratorError records a failed external call.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator string) {
	if m == nil {
		return
	}
	m.collabErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", collaborator)))
}

// RecordTracked records the number of tracked identities.
func (m *Metrics) RecordTracked(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.tracked.Record(ctx, int64(n))
}
