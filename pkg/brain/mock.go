package brain

import (
	"context"
	"fmt"
	"sync"

	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/profile"
)

// CallLog records calls across mocks in order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

// Calls returns the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Count returns how many recorded calls equal call.
func (l *CallLog) Count(call string) int {
	n := 0
	for _, c := range l.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Reset clears the log.
func (l *CallLog) Reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

// MockEars implements Ears.
type MockEars struct {
	Log *CallLog
}

// StartListening implements Ears.
func (m *MockEars) StartListening() bool {
	m.Log.add("ears.start")
	return true
}

// StopListening implements Ears.
func (m *MockEars) StopListening() {
	m.Log.add("ears.stop")
}

// MockEyes implements Eyes.
type MockEyes struct {
	Log *CallLog

	mu      sync.Mutex
	current string
}

// Show implements Eyes.
func (m *MockEyes) Show(name string) {
	m.Log.add("eyes.show %s", name)
	m.mu.Lock()
	m.current = name
	m.mu.Unlock()
}

// Current returns the last expression shown.
func (m *MockEyes) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// MockVoice implements Voice.
type MockVoice struct {
	Log *CallLog

	// SpeakFunc overrides Speak when set.
	SpeakFunc func(ctx context.Context, text string) error
}

// Speak implements Voice.
func (m *MockVoice) Speak(ctx context.Context, text string) error {
	m.Log.add("voice.speak %s", text)
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil
}

// MockFaceService implements FaceService.
type MockFaceService struct {
	Log *CallLog

	// CreatePersonFunc overrides CreatePerson when set.
	CreatePersonFunc func(ctx context.Context, name string) (string, error)

	// TrainFunc overrides Train when set.
	TrainFunc func(ctx context.Context) error

	mu      sync.Mutex
	next    int
	samples map[string]int
}

// CreatePerson implements FaceService. Ids are "person-1", "person-2", ...
func (m *MockFaceService) CreatePerson(ctx context.Context, name string) (string, error) {
	m.Log.add("face.create")
	if m.CreatePersonFunc != nil {
		return m.CreatePersonFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("person-%d", m.next), nil
}

// RenamePerson implements FaceService.
func (m *MockFaceService) RenamePerson(ctx context.Context, personID, name string) (string, error) {
	m.Log.add("face.rename %s %s", personID, name)
	return name + "-" + personID, nil
}

// StoreFaceSample implements FaceService.
func (m *MockFaceService) StoreFaceSample(ctx context.Context, personID string, jpeg []byte) error {
	m.Log.add("face.sample %s", personID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == nil {
		m.samples = make(map[string]int)
	}
	m.samples[personID]++
	return nil
}

// Train implements FaceService.
func (m *MockFaceService) Train(ctx context.Context) error {
	m.Log.add("face.train")
	if m.TrainFunc != nil {
		return m.TrainFunc(ctx)
	}
	return nil
}

// Samples returns how many samples were stored for personID.
func (m *MockFaceService) Samples(personID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples[personID]
}

// MockProfileClient implements ProfileClient.
type MockProfileClient struct {
	Log *CallLog
	ID  string

	// IdentifyResponse is returned by Identify.
	IdentifyResponse profile.IdentifyResponse

	// IdentifyFunc overrides Identify when set.
	IdentifyFunc func(ctx context.Context) (profile.IdentifyResponse, error)

	// Replies maps intent names to replies.
	Replies map[string]intent.Reply

	// Exp is returned by Experience and UpdateEmotionProfile.
	Exp profile.Experience

	mu       sync.Mutex
	profiles []profile.Profile
	emotions []identity.EmotionScores
}

// Identify implements ProfileClient.
func (m *MockProfileClient) Identify(ctx context.Context) (profile.IdentifyResponse, error) {
	m.Log.add("profile.identify %s", m.ID)
	if m.IdentifyFunc != nil {
		return m.IdentifyFunc(ctx)
	}
	return m.IdentifyResponse, nil
}

// UpdateProfile implements ProfileClient.
func (m *MockProfileClient) UpdateProfile(ctx context.Context, p profile.Profile) error {
	m.Log.add("profile.update %s name=%s gender=%s", m.ID, p.Name, p.Gender)
	m.mu.Lock()
	m.profiles = append(m.profiles, p)
	m.mu.Unlock()
	return nil
}

// UpdateEmotionProfile implements ProfileClient.
func (m *MockProfileClient) UpdateEmotionProfile(ctx context.Context, s identity.EmotionScores) (profile.Experience, error) {
	m.Log.add("profile.emotion %s", m.ID)
	m.mu.Lock()
	m.emotions = append(m.emotions, s)
	m.mu.Unlock()
	return m.Exp, nil
}

// Experience implements ProfileClient.
func (m *MockProfileClient) Experience(ctx context.Context) (profile.Experience, error) {
	m.Log.add("profile.experience %s", m.ID)
	return m.Exp, nil
}

// IntentReply implements ProfileClient.
func (m *MockProfileClient) IntentReply(ctx context.Context, name string) (intent.Reply, error) {
	m.Log.add("profile.reply %s %s", m.ID, name)
	r, ok := m.Replies[name]
	if !ok {
		return intent.Reply{}, fmt.Errorf("no reply for %q", name)
	}
	return r, nil
}

// Profiles returns the profiles pushed with UpdateProfile.
func (m *MockProfileClient) Profiles() []profile.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]profile.Profile(nil), m.profiles...)
}

// Emotions returns the scores pushed with UpdateEmotionProfile.
func (m *MockProfileClient) Emotions() []identity.EmotionScores {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]identity.EmotionScores(nil), m.emotions...)
}

// MockSessions implements Sessions with the pool's rekey rules.
type MockSessions struct {
	Log *CallLog

	// NewClient customizes clients as they are created.
	NewClient func(c *MockProfileClient)

	mu      sync.Mutex
	clients map[string]*MockProfileClient
	retired map[string]bool
}

// Client implements Sessions.
func (m *MockSessions) Client(personID string) ProfileClient {
	return m.Get(personID)
}

// Get returns the mock client for personID, creating it on first use.
func (m *MockSessions) Get(personID string) *MockProfileClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients == nil {
		m.clients = make(map[string]*MockProfileClient)
		m.retired = make(map[string]bool)
	}
	if c, ok := m.clients[personID]; ok {
		return c
	}
	c := &MockProfileClient{Log: m.Log, ID: personID}
	if m.NewClient != nil {
		m.NewClient(c)
	}
	m.clients[personID] = c
	delete(m.retired, personID)
	return c
}

// Rekey implements Sessions.
func (m *MockSessions) Rekey(from, to string) error {
	m.Log.add("sessions.rekey %s %s", from, to)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired[from] {
		return profile.ErrAlreadyRekeyed
	}
	c, ok := m.clients[from]
	if !ok {
		return profile.ErrNoSession
	}
	if _, taken := m.clients[to]; taken {
		return profile.ErrIDInUse
	}
	c.ID = to
	delete(m.clients, from)
	m.clients[to] = c
	m.retired[from] = true
	return nil
}

// MockIdentities implements Identities.
type MockIdentities struct {
	Log *CallLog

	mu      sync.Mutex
	largest *identity.TrackedIdentity
}

// SetLargest sets the identity returned by LargestFace.
func (m *MockIdentities) SetLargest(id *identity.TrackedIdentity) {
	m.mu.Lock()
	m.largest = id
	m.mu.Unlock()
}

// LargestFace implements Identities.
func (m *MockIdentities) LargestFace() (identity.TrackedIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.largest == nil {
		return identity.TrackedIdentity{}, false
	}
	return *m.largest, true
}

// LabelLargest implements Identities.
func (m *MockIdentities) LabelLargest(p identity.Person) bool {
	m.Log.add("identities.label %s %s", p.ID, p.Name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.largest == nil {
		return false
	}
	m.largest.PersonID = p.ID
	m.largest.Name = p.Name
	return true
}

// MockEvents implements EventReporter.
type MockEvents struct {
	mu     sync.Mutex
	events []string
}

// Report implements EventReporter.
func (m *MockEvents) Report(sense, message string) {
	m.mu.Lock()
	m.events = append(m.events, sense+": "+message)
	m.mu.Unlock()
}

// Events returns the reported events as "sense: message".
func (m *MockEvents) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}
