// Package intent turns recognized utterances into actions.
//
// A Predictor classifies an utterance into a Prediction, and a Handler
// resolves the prediction into an ordered list of Actions for the brain to
// execute.
package intent

import "fmt"

// Kind identifies an Action variant.
type Kind int

const (
	// NoOp does nothing beyond resuming listening.
	NoOp Kind = iota
	// Speak says Text.
	Speak
	// ShowEmotion shows the Emotion expression on the eyes.
	ShowEmotion
	// Identify switches the conversation to PersonID.
	Identify
	// RecordName stores Name for the current person.
	RecordName
	// RunCommand runs one of the built-in Commands.
	RunCommand
)

var kindNames = [...]string{
	NoOp:        "noop",
	Speak:       "speak",
	ShowEmotion: "show_emotion",
	Identify:    "identify",
	RecordName:  "record_name",
	RunCommand:  "run_command",
}

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Action is one step the brain executes. Only the field matching Kind is set.
type Action struct {
	Kind     Kind
	Text     string
	Emotion  string
	PersonID string
	Name     string
	Command  string
}

// SpeakAction says text.
func SpeakAction(text string) Action { return Action{Kind: Speak, Text: text} }

// EmotionAction shows an eye expression.
func EmotionAction(emotion string) Action { return Action{Kind: ShowEmotion, Emotion: emotion} }

// IdentifyAction switches the conversation to personID.
func IdentifyAction(personID string) Action { return Action{Kind: Identify, PersonID: personID} }

// NameAction records the current person's name.
func NameAction(name string) Action { return Action{Kind: RecordName, Name: name} }

// CommandAction runs a built-in command.
func CommandAction(command string) Action { return Action{Kind: RunCommand, Command: command} }

// NoOpAction resumes listening.
func NoOpAction() Action { return Action{Kind: NoOp} }

// String formats the action for logs.
func (a Action) String() string {
	switch a.Kind {
	case Speak:
		return fmt.Sprintf("speak(%q)", a.Text)
	case ShowEmotion:
		return fmt.Sprintf("show_emotion(%s)", a.Emotion)
	case Identify:
		return fmt.Sprintf("identify(%s)", a.PersonID)
	case RecordName:
		return fmt.Sprintf("record_name(%q)", a.Name)
	case RunCommand:
		return fmt.Sprintf("run_command(%s)", a.Command)
	default:
		return a.Kind.String()
	}
}
