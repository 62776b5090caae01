// Package ears governs when speech recognition is active.
//
// Ears owns a single recognizer and runs at most one recognition at a time.
// Accepted utterances are surfaced to the caller, which decides when to
// listen again; rejected results restart listening automatically.
package ears

// State is the listening state.
type State int

const (
	NotInitialized State = iota
	Initialized
	Idle
	StartListening
	Listening
	StopListening
	StoppedListening
	Processing
)

var stateNames = [...]string{
	NotInitialized:   "NotInitialized",
	Initialized:      "Initialized",
	Idle:             "Idle",
	StartListening:   "StartListening",
	Listening:        "Listening",
	StopListening:    "StopListening",
	StoppedListening: "StoppedListening",
	Processing:       "Processing",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// canStart reports whether StartListening is effective from s.
func (s State) canStart() bool {
	switch s {
	case Initialized, Idle, StoppedListening:
		return true
	default:
		return false
	}
}
