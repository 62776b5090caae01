// Package identity fuses per-frame face tracks with asynchronous recognition
// and emotion results into a set of tracked identities, and decides which one
// Robbie is currently interacting with.
package identity

import (
	"strings"
	"time"
)

// UnknownPersonID marks an identity that has not been recognized.
const UnknownPersonID = "00000000-0000-0000-0000-000000000000"

// IsKnownPerson reports whether id is a real person identifier.
func IsKnownPerson(id string) bool {
	return id != "" && id != UnknownPersonID
}

// NameSeparator separates a person's name from the temporary suffix
// appended when a person is registered.
const NameSeparator = "-"

// DisplayName strips the temporary suffix from a registered name.
// "Alice-3f2a..." becomes "Alice". Names that legitimately contain the
// separator are truncated as well.
func DisplayName(name string) string {
	if i := strings.Index(name, NameSeparator); i >= 0 {
		return name[:i]
	}
	return name
}

// Attributes are appearance attributes estimated by a face service.
type Attributes struct {
	Age    float64
	Gender string
}

// EmotionScores holds per-emotion confidence scores in the range 0-1.
type EmotionScores struct {
	Anger     float64 `json:"anger"`
	Contempt  float64 `json:"contempt"`
	Disgust   float64 `json:"disgust"`
	Fear      float64 `json:"fear"`
	Happiness float64 `json:"happiness"`
	Neutral   float64 `json:"neutral"`
	Sadness   float64 `json:"sadness"`
	Surprise  float64 `json:"surprise"`
}

// Dominant returns the name and score of the highest scoring emotion.
// Ties resolve in declaration order.
func (e EmotionScores) Dominant() (string, float64) {
	pairs := []struct {
		name  string
		score float64
	}{
		{"Anger", e.Anger},
		{"Contempt", e.Contempt},
		{"Disgust", e.Disgust},
		{"Fear", e.Fear},
		{"Happiness", e.Happiness},
		{"Neutral", e.Neutral},
		{"Sadness", e.Sadness},
		{"Surprise", e.Surprise},
	}
	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.score > best.score {
			best = p
		}
	}
	return best.name, best.score
}

// TrackedFace is a single detection in one frame.
type TrackedFace struct {
	Box Box

	// Handle is the tracker's opaque per-frame handle.
	Handle int

	Attributes *Attributes
	Emotion    *EmotionScores
}

// Person is the result of identifying a face.
type Person struct {
	ID   string
	Name string
}

// EmotionResult is an emotion estimate for the face at Box.
type EmotionResult struct {
	Box    Box
	Scores EmotionScores
}

// TrackedIdentity is the fused cross-frame view of one visible person.
// Values returned by the Interpolator are snapshots and safe to keep.
type TrackedIdentity struct {
	// Seq is the creation order; lower values were seen first.
	Seq uint64

	Box      Box
	Handle   int
	Name     string
	PersonID string

	Attributes *Attributes
	Emotion    *EmotionScores

	FirstSeen time.Time
	LastSeen  time.Time

	// Missed counts consecutive updates without a matching detection.
	Missed int
}

// Known reports whether the identity has been recognized.
func (t TrackedIdentity) Known() bool {
	return IsKnownPerson(t.PersonID)
}

// Gender returns the observed gender, or "" when unknown.
func (t TrackedIdentity) Gender() string {
	if t.Attributes == nil {
		return ""
	}
	return t.Attributes.Gender
}

func (t TrackedIdentity) clone() TrackedIdentity {
	c := t
	if t.Attributes != nil {
		a := *t.Attributes
		c.Attributes = &a
	}
	if t.Emotion != nil {
		e := *t.Emotion
		c.Emotion = &e
	}
	return c
}
