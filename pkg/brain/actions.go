package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/profile"
)

// Execute runs actions in order as one event.
func (b *Brain) Execute(ctx context.Context, actions []intent.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execute(ctx, actions)
}

// execute stops at the first failing action.
func (b *Brain) execute(ctx context.Context, actions []intent.Action) error {
	for _, a := range actions {
		b.logger.Debug("executing action", "action", a.String())
		b.metrics.RecordAction(ctx, a.Kind.String())
		if err := b.executeOne(ctx, a); err != nil {
			return fmt.Errorf("%s: %w", a.Kind, err)
		}
	}
	return nil
}

func (b *Brain) executeOne(ctx context.Context, a intent.Action) error {
	switch a.Kind {
	case intent.Speak:
		if b.Sleeping() {
			return nil
		}
		return b.say(ctx, b.substituteName(a.Text))

	case intent.ShowEmotion:
		if b.Sleeping() {
			return nil
		}
		b.deps.Eyes.Show(a.Emotion)
		b.report("eyes", fmt.Sprintf("show emotion '%s'", a.Emotion))
		return nil

	case intent.Identify:
		if b.Sleeping() {
			return nil
		}
		return b.setIdentity(ctx, a.PersonID)

	case intent.RecordName:
		if b.Sleeping() {
			return nil
		}
		return b.recordName(ctx, a.Name)

	case intent.RunCommand:
		switch strings.ToLower(a.Command) {
		case intent.CommandWakeUp:
			b.wakeUp()
		case intent.CommandSleep:
			b.hibernate()
		case intent.CommandShutDown:
			b.shutdown()
		default:
			b.logger.Warn("unknown command", "command", a.Command)
		}
		return nil

	case intent.NoOp:
		b.listen()
		return nil

	default:
		return fmt.Errorf("brain: unhandled action kind %d", a.Kind)
	}
}

// substituteName fills {name} with the dominant identity's display name.
func (b *Brain) substituteName(text string) string {
	if !strings.Contains(text, NamePlaceholder) {
		return text
	}
	name := ""
	if b.deps.Identities != nil {
		if id, ok := b.deps.Identities.LargestFace(); ok {
			name = identity.DisplayName(id.Name)
		}
	}
	return strings.ReplaceAll(text, NamePlaceholder, name)
}

// recordName stores the current person's name. An anonymous session is
// first registered with the face service and moved to the new person id.
func (b *Brain) recordName(ctx context.Context, name string) error {
	if b.Session() == AnonymousPersonID {
		if err := b.registerPerson(ctx, name); err != nil {
			return err
		}
	}

	if err := b.client().UpdateProfile(ctx, profile.Profile{Name: name}); err != nil {
		return b.collabErr(ctx, "profile", "update profile", err)
	}
	return b.say(ctx, fmt.Sprintf(GreetingFormat, name))
}

func (b *Brain) registerPerson(ctx context.Context, name string) error {
	faces := b.deps.Faces
	if faces == nil {
		return ErrNoFaceService
	}
	// The anonymous session must exist before it can be rekeyed.
	b.client()

	personID, err := faces.CreatePerson(ctx, mintPersonName())
	if err != nil {
		return b.collabErr(ctx, "face", "create person", err)
	}
	if err := b.deps.Sessions.Rekey(AnonymousPersonID, personID); err != nil {
		return fmt.Errorf("brain: rekey session: %w", err)
	}
	b.setSession(personID)
	b.report("brain", fmt.Sprintf("registered %s as %s", name, personID))

	canonical, err := faces.RenamePerson(ctx, personID, name)
	if err != nil {
		return b.collabErr(ctx, "face", "rename person", err)
	}

	if b.deps.Frames != nil {
		frame, err := b.deps.Frames.LatestFrame(ctx)
		switch {
		case err != nil:
			b.logger.Warn("no frame for face sample", "person_id", personID, "error", err)
		case frame != nil && !frame.Empty():
			if err := faces.StoreFaceSample(ctx, personID, frame.JPEG); err != nil {
				return b.collabErr(ctx, "face", "store face sample", err)
			}
			if err := faces.Train(ctx); err != nil {
				return b.collabErr(ctx, "face", "train", err)
			}
		}
	}

	if b.deps.Identities != nil {
		b.deps.Identities.LabelLargest(identity.Person{ID: personID, Name: canonical})
	}
	return nil
}
