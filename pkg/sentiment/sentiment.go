// Package sentiment scores the mood of a single user message.
package sentiment

import (
	"context"
	"strings"

	"Companion/models"
)

// Tagger assesses the mood expressed by text. Implementations may be remote
// and fail; callers decide what to substitute.
type Tagger interface {
	Assess(ctx context.Context, text string) (models.Assessment, error)
}

type bucket struct {
	mood     models.Mood
	keywords []string
}

// buckets are checked in this order; on equal hits the earlier one wins.
var buckets = []bucket{
	{models.MoodHappy, []string{"happy", "joy", "excited", "great", "wonderful", "amazing", "good", "cheerful"}},
	{models.MoodSad, []string{"sad", "depressed", "down", "unhappy", "miserable", "crying", "tears"}},
	{models.MoodAnxious, []string{"anxious", "worried", "nervous", "panic", "fear", "scared", "stress"}},
	{models.MoodAngry, []string{"angry", "mad", "furious", "irritated", "frustrated", "annoyed"}},
	{models.MoodStressed, []string{"stressed", "overwhelmed", "pressure", "tired", "exhausted", "busy"}},
}

// KeywordTagger counts keyword substrings per mood. The label is the mood
// with the most hits and the score its share of all hits. It never fails.
type KeywordTagger struct{}

func NewKeywordTagger() KeywordTagger { return KeywordTagger{} }

func (KeywordTagger) Assess(_ context.Context, text string) (models.Assessment, error) {
	return Classify(text), nil
}

// Classify is the synchronous form of KeywordTagger.Assess.
func Classify(text string) models.Assessment {
	lower := strings.ToLower(text)
	best, bestHits, total := models.MoodNeutral, 0, 0
	for _, b := range buckets {
		hits := 0
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		total += hits
		if hits > bestHits {
			best, bestHits = b.mood, hits
		}
	}
	if total == 0 {
		return models.NeutralAssessment()
	}
	return models.Assessment{Label: best, Score: float64(bestHits) / float64(total)}
}
