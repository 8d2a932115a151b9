package models

import (
	"math"
	"strings"

	"Companion/pkg/apperr"
)

// Mood is the vocabulary used both for session tags and message assessments.
type Mood string

const (
	MoodHappy    Mood = "happy"
	MoodSad      Mood = "sad"
	MoodAnxious  Mood = "anxious"
	MoodAngry    Mood = "angry"
	MoodStressed Mood = "stressed"
	MoodNeutral  Mood = "neutral"
)

// Moods lists every supported mood in display order.
var Moods = []Mood{MoodHappy, MoodSad, MoodAnxious, MoodAngry, MoodStressed, MoodNeutral}

func (m Mood) Valid() bool {
	switch m {
	case MoodHappy, MoodSad, MoodAnxious, MoodAngry, MoodStressed, MoodNeutral:
		return true
	}
	return false
}

// ParseMood normalizes s and rejects anything outside the vocabulary.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", apperr.Validation("mood %q is not one of happy, sad, anxious, angry, stressed, neutral", s)
	}
	return m, nil
}

// Assessment is the detected mood of a single user message.
type Assessment struct {
	Label Mood    `json:"label"`
	Score float64 `json:"score"`
}

// NeutralAssessment is substituted whenever scoring is unavailable.
func NeutralAssessment() Assessment {
	return Assessment{Label: MoodNeutral, Score: 0}
}

// Normalize clamps the score to [0,1]. ok is false when the label is not in
// the vocabulary.
func (a Assessment) Normalize() (Assessment, bool) {
	if !a.Label.Valid() {
		return NeutralAssessment(), false
	}
	switch {
	case a.Score < 0 || math.IsNaN(a.Score):
		a.Score = 0
	case a.Score > 1:
		a.Score = 1
	}
	return a, true
}
