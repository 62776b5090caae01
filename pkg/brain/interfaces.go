package brain

import (
	"context"

	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/profile"
)

// FaceService manages the recognized-person registry.
type FaceService interface {
	// CreatePerson returns the id of the person named name, creating it
	// when missing.
	CreatePerson(ctx context.Context, name string) (string, error)

	// RenamePerson names the person and returns the canonical "name-id".
	RenamePerson(ctx context.Context, personID, name string) (string, error)

	// StoreFaceSample adds a training image for the person.
	StoreFaceSample(ctx context.Context, personID string, jpeg []byte) error

	// Train retrains the recognizer and waits for it to finish.
	Train(ctx context.Context) error
}

// Voice speaks text. Speak returns once playback has started; the
// finished-playback signal arrives later through Brain.OnFinishedSpeaking.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// ProfileClient is one person's session with the profile backend.
type ProfileClient interface {
	Identify(ctx context.Context) (profile.IdentifyResponse, error)
	UpdateProfile(ctx context.Context, p profile.Profile) error
	UpdateEmotionProfile(ctx context.Context, scores identity.EmotionScores) (profile.Experience, error)
	Experience(ctx context.Context) (profile.Experience, error)
	intent.ReplySource
}

// Sessions hands out profile clients by person id.
type Sessions interface {
	Client(personID string) ProfileClient
	Rekey(from, to string) error
}

// Eyes shows named expressions.
type Eyes interface {
	Show(name string)
}

// Ears controls listening.
type Ears interface {
	StartListening() bool
	StopListening()
}

// Identities gives the brain access to the tracked identities.
type Identities interface {
	LargestFace() (identity.TrackedIdentity, bool)
	LabelLargest(person identity.Person) bool
}

// EventReporter receives sense events.
type EventReporter interface {
	Report(sense, message string)
}

// PoolSessions adapts a profile.Pool to Sessions.
func PoolSessions(p *profile.Pool) Sessions {
	return poolSessions{p}
}

type poolSessions struct {
	pool *profile.Pool
}

func (s poolSessions) Client(personID string) ProfileClient {
	return s.pool.GetClient(personID)
}

func (s poolSessions) Rekey(from, to string) error {
	_, err := s.pool.Rekey(from, to)
	return err
}
