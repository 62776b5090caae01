package profile

import "github.com/teslashibe/go-robbie/pkg/identity"

// IdentifyResponse is the profile returned after identification.
type IdentifyResponse struct {
	Name      string `json:"Name"`
	Gender    string `json:"Gender"`
	BirthDate string `json:"BirthDate,omitempty"`
}

// Profile holds the fields Robbie can update on the backend.
type Profile struct {
	Name    string
	Gender  string
	Age     float64
	Emotion string
}

type identifyRequest struct {
	PersonID string `json:"PersonId"`
}

type updateProfileRequest struct {
	FirstName string  `json:"FirstName"`
	LastName  string  `json:"LastName"`
	Age       float64 `json:"Age"`
	Emotion   string  `json:"Emotion"`
	Gender    string  `json:"Gender"`
}

// EmotionCard is the emotion profile payload, scores in percent.
type EmotionCard struct {
	Anger     float64 `json:"Anger"`
	Contempt  float64 `json:"Contempt"`
	Disgust   float64 `json:"Disgust"`
	Fear      float64 `json:"Fear"`
	Happiness float64 `json:"Happiness"`
	Neutral   float64 `json:"Neutral"`
	Sadness   float64 `json:"Sadness"`
	Surprise  float64 `json:"Surprise"`
}

// NewEmotionCard scales scores in [0,1] to percent.
func NewEmotionCard(s identity.EmotionScores) EmotionCard {
	return EmotionCard{
		Anger:     s.Anger * 100,
		Contempt:  s.Contempt * 100,
		Disgust:   s.Disgust * 100,
		Fear:      s.Fear * 100,
		Happiness: s.Happiness * 100,
		Neutral:   s.Neutral * 100,
		Sadness:   s.Sadness * 100,
		Surprise:  s.Surprise * 100,
	}
}

// Experience is the analytics view of the current contact.
type Experience struct {
	Visits struct {
		EngagementValue int `json:"EngagementValue"`
		TotalPageViews  int `json:"TotalPageViews"`
		TotalVisits     int `json:"TotalVisits"`
	} `json:"Visits"`
	PersonalInfo struct {
		FullName     string `json:"FullName"`
		IsIdentified bool   `json:"IsIdentified"`
	} `json:"PersonalInfo"`
	OnsiteBehavior struct {
		ActiveProfiles []BehaviorProfile `json:"ActiveProfiles"`
		Goals          []Goal            `json:"Goals"`
	} `json:"OnsiteBehavior"`
	Referral struct {
		ReferringSite      string `json:"ReferringSite"`
		TotalNoOfCampaigns int    `json:"TotalNoOfCampaigns"`
	} `json:"Referral"`
}

// BehaviorProfile is one active behavior profile.
type BehaviorProfile struct {
	Name           string         `json:"Name"`
	PatternMatches []PatternMatch `json:"PatternMatches"`
}

// PatternMatch is one pattern card match.
type PatternMatch struct {
	Profile         string  `json:"Profile"`
	PatternName     string  `json:"PatternName"`
	MatchPercentage float64 `json:"MatchPercentage"`
}

// Goal is one triggered goal.
type Goal struct {
	Title           string `json:"Title"`
	EngagementValue int    `json:"EngagementValue"`
	Date            string `json:"Date"`
	IsCurrentVisit  bool   `json:"IsCurrentVisit"`
}

// TopPattern returns the first pattern match of the first active profile.
func (e Experience) TopPattern() (PatternMatch, bool) {
	if len(e.OnsiteBehavior.ActiveProfiles) == 0 {
		return PatternMatch{}, false
	}
	matches := e.OnsiteBehavior.ActiveProfiles[0].PatternMatches
	if len(matches) == 0 {
		return PatternMatch{}, false
	}
	return matches[0], true
}
