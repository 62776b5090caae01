package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordFrame(ctx, FrameProcessed, time.Millisecond)
	m.RecordServoStep(ctx, "horizontal")
	m.RecordTransition(ctx, "Listening")
	m.RecordUtterance(ctx, UtteranceHandled)
	m.RecordAction(ctx, "speak")
	m.RecordCollaboratorError(ctx, "profile")
	m.RecordTracked(ctx, 2)
}

func TestNewNoop(t *testing.T) {
	if NewNoop() == nil {
		t.Fatal("NewNoop returned nil")
	}
}

func TestProvider_ExposesMetrics(t *testing.T) {
	p, err := InitProvider("robbie-test", "0.0.0")
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	p.Metrics.RecordFrame(ctx, FrameProcessed, 20*time.Millisecond)
	p.Metrics.RecordServoStep(ctx, "vertical")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"robbie_perception_frames", "robbie_pantilt_steps"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
