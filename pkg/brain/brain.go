// Package brain orchestrates Robbie's interactions.
//
// The Brain tracks who Robbie is talking to, turns recognized utterances
// into actions and executes them. Events are serialized: one utterance or
// identity change runs its whole action list before the next starts.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/observe"
	"github.com/teslashibe/go-robbie/pkg/perception"
	"github.com/teslashibe/go-robbie/pkg/profile"
)

// AnonymousPersonID keys the session of a person that has not been named.
const AnonymousPersonID = "Anonymous"

// Fixed phrases and expressions.
const (
	AskNamePrompt   = "What's your name?"
	AskNameEmotion  = "Disgust"
	GreetingFormat  = "Hi %s, nice to meet you!"
	IdentifyIntent  = "identify"
	NamePlaceholder = "{name}"
)

// Expression names shown on wake and sleep.
const (
	ExpressionNeutral = "Neutral"
	ExpressionSleep   = "Sleep"
)

// Deps are the Brain's collaborators. Sessions, Predictor, Ears, Voice and
// Eyes are required.
type Deps struct {
	Sessions   Sessions
	Predictor  intent.Predictor
	Handler    *intent.Handler
	Ears       Ears
	Voice      Voice
	Eyes       Eyes
	Faces      FaceService
	Frames     perception.FrameSource
	Identities Identities
	Events     EventReporter
}

// Brain is the interaction state machine.
type Brain struct {
	deps    Deps
	metrics *observe.Metrics
	logger  *slog.Logger

	// mu serializes events.
	mu sync.Mutex

	// Set while handling an utterance: whether playback started and
	// whether listening was already resumed. Guarded by mu.
	spoke     bool
	listening bool

	sleeping atomic.Bool
	session  atomic.Pointer[string]

	cbMu       sync.Mutex
	onShutdown func()
	onSleep    func(sleeping bool)
}

// Option configures a Brain.
type Option func(*Brain)

// WithMetrics records utterances, actions and collaborator failures.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Brain) { b.metrics = m }
}

// New creates a sleeping Brain with an anonymous session.
func New(deps Deps, opts ...Option) (*Brain, error) {
	switch {
	case deps.Sessions == nil:
		return nil, missing("sessions")
	case deps.Predictor == nil:
		return nil, missing("predictor")
	case deps.Ears == nil:
		return nil, missing("ears")
	case deps.Voice == nil:
		return nil, missing("voice")
	case deps.Eyes == nil:
		return nil, missing("eyes")
	}
	if deps.Handler == nil {
		deps.Handler = intent.NewHandler(intent.DefaultThreshold)
	}

	b := &Brain{
		deps:   deps,
		logger: log.Component("brain"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sleeping.Store(true)
	b.setSession(AnonymousPersonID)
	return b, nil
}

// OnShutdown registers the callback for the "shut down" command.
func (b *Brain) OnShutdown(fn func()) {
	b.cbMu.Lock()
	b.onShutdown = fn
	b.cbMu.Unlock()
}

// OnSleepChanged registers a callback fired on every wake up and
// hibernation with the new sleeping state.
func (b *Brain) OnSleepChanged(fn func(sleeping bool)) {
	b.cbMu.Lock()
	b.onSleep = fn
	b.cbMu.Unlock()
}

// Sleeping reports whether Robbie is hibernating.
func (b *Brain) Sleeping() bool {
	return b.sleeping.Load()
}

// Session returns the active person id. It is never empty.
func (b *Brain) Session() string {
	return *b.session.Load()
}

func (b *Brain) setSession(id string) {
	b.session.Store(&id)
}

func (b *Brain) client() ProfileClient {
	return b.deps.Sessions.Client(b.Session())
}

// WakeUp leaves hibernation and starts listening.
func (b *Brain) WakeUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wakeUp()
}

func (b *Brain) wakeUp() {
	b.sleeping.Store(false)
	b.sleepChanged(false)
	b.deps.Eyes.Show(ExpressionNeutral)
	b.listen()
	b.report("brain", "waking up!")
}

// Hibernate goes to sleep but keeps listening for "wake up".
func (b *Brain) Hibernate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hibernate()
}

func (b *Brain) hibernate() {
	b.sleeping.Store(true)
	b.sleepChanged(true)
	b.deps.Eyes.Show(ExpressionSleep)
	b.listen()
	b.report("brain", "hibernating...")
}

func (b *Brain) sleepChanged(sleeping bool) {
	b.cbMu.Lock()
	fn := b.onSleep
	b.cbMu.Unlock()
	if fn != nil {
		fn(sleeping)
	}
}

// listen resumes listening for the current event.
func (b *Brain) listen() {
	b.listening = true
	b.deps.Ears.StartListening()
}

func (b *Brain) stopListening() {
	b.listening = false
	b.deps.Ears.StopListening()
}

// OnFinishedSpeaking resumes listening after playback.
func (b *Brain) OnFinishedSpeaking() {
	b.deps.Ears.StartListening()
}

// OnUtteranceRecognized handles one accepted utterance. Listening resumes
// once the actions are done unless playback started, in which case the
// finished-playback signal resumes it. A failed cloud call also resumes
// listening.
func (b *Brain) OnUtteranceRecognized(ctx context.Context, text string) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spoke = false
	b.stopListening()
	b.report("ears", fmt.Sprintf("heard '%s'", text))

	if strings.TrimSpace(text) == "" {
		b.listen()
		b.metrics.RecordUtterance(ctx, observe.UtteranceEmpty)
		return nil
	}

	defer func() {
		if err != nil {
			b.metrics.RecordUtterance(ctx, observe.UtteranceFailed)
			b.listen()
			return
		}
		b.metrics.RecordUtterance(ctx, observe.UtteranceHandled)
	}()

	if b.Session() != AnonymousPersonID {
		if err := b.updateEmotion(ctx); err != nil {
			return err
		}
	}

	pred, err := b.deps.Predictor.Predict(ctx, text)
	if err != nil {
		return b.collabErr(ctx, "predictor", "predict", err)
	}
	b.logger.Info("intent predicted", "text", text, "intent", pred.Intent, "score", pred.Score)

	actions, err := b.deps.Handler.Resolve(ctx, pred, b.client())
	if err != nil {
		return b.collabErr(ctx, "profile", "intent reply", err)
	}
	if err := b.execute(ctx, actions); err != nil {
		return err
	}

	if !b.spoke && !b.listening {
		b.listen()
	}
	return nil
}

// updateEmotion pushes the dominant identity's emotion scores and reports
// the resulting behavior profile.
func (b *Brain) updateEmotion(ctx context.Context) error {
	client := b.client()
	if b.deps.Identities != nil {
		if id, ok := b.deps.Identities.LargestFace(); ok && id.Emotion != nil {
			if _, err := client.UpdateEmotionProfile(ctx, *id.Emotion); err != nil {
				return b.collabErr(ctx, "profile", "update emotion", err)
			}
		}
	}
	exp, err := client.Experience(ctx)
	if err != nil {
		return b.collabErr(ctx, "profile", "experience", err)
	}
	if pm, ok := exp.TopPattern(); ok {
		b.report("behaviour", fmt.Sprintf("%s %g", pm.PatternName, pm.MatchPercentage))
	}
	return nil
}

// OnDominantIdentityChanged switches the conversation to the person now
// closest to Robbie.
func (b *Brain) OnDominantIdentityChanged(ctx context.Context, id identity.TrackedIdentity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id.Known() {
		b.report("brain", fmt.Sprintf("sensed a new person with ID %s", id.PersonID))
		return b.identify(ctx, id.PersonID, id.Gender())
	}

	b.setSession(AnonymousPersonID)
	client := b.client()
	if _, err := client.Identify(ctx); err != nil {
		return b.collabErr(ctx, "profile", "identify", err)
	}
	if g := id.Gender(); g != "" {
		if err := client.UpdateProfile(ctx, profile.Profile{Gender: g}); err != nil {
			return b.collabErr(ctx, "profile", "update profile", err)
		}
	}
	return b.askForName(ctx)
}

// SetIdentity switches the conversation to personID. It is a no-op when
// personID is a known id that is already active.
func (b *Brain) SetIdentity(ctx context.Context, personID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setIdentity(ctx, personID)
}

func (b *Brain) setIdentity(ctx context.Context, personID string) error {
	if identity.IsKnownPerson(personID) && b.Session() == personID {
		return nil
	}
	return b.identify(ctx, personID, "")
}

// identify makes personID the active session, fills in a missing gender
// and either greets the person or asks for a name.
func (b *Brain) identify(ctx context.Context, personID, gender string) error {
	if !identity.IsKnownPerson(personID) {
		personID = AnonymousPersonID
	}
	b.setSession(personID)
	client := b.client()

	resp, err := client.Identify(ctx)
	if err != nil {
		return b.collabErr(ctx, "profile", "identify", err)
	}
	if resp.Gender == "" && gender != "" {
		if err := client.UpdateProfile(ctx, profile.Profile{Gender: gender}); err != nil {
			return b.collabErr(ctx, "profile", "update profile", err)
		}
	}
	if resp.Name == "" {
		return b.askForName(ctx)
	}

	reply, err := client.IntentReply(ctx, IdentifyIntent)
	if err != nil {
		return b.collabErr(ctx, "profile", "intent reply", err)
	}
	text := strings.ReplaceAll(reply.Text, NamePlaceholder, identity.DisplayName(resp.Name))
	return b.execute(ctx, []intent.Action{intent.EmotionAction(reply.Emotion), intent.SpeakAction(text)})
}

func (b *Brain) askForName(ctx context.Context) error {
	return b.execute(ctx, []intent.Action{
		intent.EmotionAction(AskNameEmotion),
		intent.SpeakAction(AskNamePrompt),
	})
}

// Say speaks text. Listening stays off until playback finishes. Blank text
// is ignored.
func (b *Brain) Say(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.say(ctx, text)
}

func (b *Brain) say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	b.stopListening()
	if err := b.deps.Voice.Speak(ctx, text); err != nil {
		// No playback means no finished signal.
		b.listen()
		return b.collabErr(ctx, "voice", "speak", err)
	}
	b.spoke = true
	b.report("voice", fmt.Sprintf("say '%s'", text))
	return nil
}

// mintPersonName is the placeholder name a new person is created under
// before the real name is attached.
func mintPersonName() string {
	return uuid.NewString()
}

func (b *Brain) shutdown() {
	b.report("brain", intent.CommandShutDown)
	b.cbMu.Lock()
	fn := b.onShutdown
	b.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *Brain) report(sense, message string) {
	b.logger.Info("sense event", "sense", sense, "message", message)
	if b.deps.Events != nil {
		b.deps.Events.Report(sense, message)
	}
}

func (b *Brain) collabErr(ctx context.Context, collaborator, op string, err error) error {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	b.metrics.RecordCollaboratorError(ctx, collaborator)
	return &CollaboratorError{Collaborator: collaborator, Op: op, Cause: err}
}
