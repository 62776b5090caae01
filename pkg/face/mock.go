package face

import (
	"context"
	"sync"

	"github.com/teslashibe/go-robbie/pkg/identity"
)

// MockRecognizer is a scripted Recognizer.
type MockRecognizer struct {
	DetectFunc   func(ctx context.Context, jpeg []byte) ([]DetectedFace, error)
	IdentifyFunc func(ctx context.Context, faceIDs []string) (map[string]identity.Person, error)

	// Faces and Persons are returned when the funcs are nil.
	Faces   []DetectedFace
	Persons map[string]identity.Person

	mu         sync.Mutex
	detects    int
	identifies int
}

// DetectFaces implements Recognizer.
func (m *MockRecognizer) DetectFaces(ctx context.Context, jpeg []byte) ([]DetectedFace, error) {
	m.mu.Lock()
	m.detects++
	m.mu.Unlock()
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg)
	}
	return m.Faces, nil
}

// IdentifyFaces implements Recognizer.
func (m *MockRecognizer) IdentifyFaces(ctx context.Context, faceIDs []string) (map[string]identity.Person, error) {
	m.mu.Lock()
	m.identifies++
	m.mu.Unlock()
	if m.IdentifyFunc != nil {
		return m.IdentifyFunc(ctx, faceIDs)
	}
	out := make(map[string]identity.Person)
	for _, id := range faceIDs {
		if p, ok := m.Persons[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// DetectCount returns the number of DetectFaces calls.
func (m *MockRecognizer) DetectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detects
}

// IdentifyCount returns the number of IdentifyFaces calls.
func (m *MockRecognizer) IdentifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identifies
}

// MockEmotionDetector returns fixed results.
type MockEmotionDetector struct {
	Results []identity.EmotionResult
	Err     error
}

// DetectEmotions implements EmotionDetector.
func (m *MockEmotionDetector) DetectEmotions(ctx context.Context, jpeg []byte) ([]identity.EmotionResult, error) {
	return m.Results, m.Err
}

var (
	_ Recognizer      = (*MockRecognizer)(nil)
	_ EmotionDetector = (*MockEmotionDetector)(nil)
	_ Recognizer      = (*Client)(nil)
)
