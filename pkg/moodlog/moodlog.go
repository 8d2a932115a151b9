// Package moodlog is the user's mood timeline: explicit check-ins, the mood
// picked when a chat session starts, and their distribution over time.
package moodlog

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"Companion/models"
	"Companion/pkg/apperr"
	"Companion/pkg/sentiment"
)

const DefaultPeriodDays = 30

type Journal struct {
	db     *gorm.DB
	tagger sentiment.Tagger
	log    *zap.Logger
	now    func() time.Time
}

func New(db *gorm.DB, tagger sentiment.Tagger, log *zap.Logger) *Journal {
	if tagger == nil {
		tagger = sentiment.NewKeywordTagger()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, tagger: tagger, log: log.Named("moodlog"), now: time.Now}
}

// Record stores an entry with a known mood.
func (j *Journal) Record(ctx context.Context, owner string, mood models.Mood, notes string) (models.MoodEntry, error) {
	if strings.TrimSpace(owner) == "" {
		return models.MoodEntry{}, apperr.Validation("owner is required")
	}
	if !mood.Valid() {
		return models.MoodEntry{}, apperr.Validation("mood %q is not supported", mood)
	}
	entry := models.MoodEntry{
		UserID:    owner,
		Mood:      mood,
		Notes:     notes,
		CreatedAt: j.now().UTC().Truncate(time.Millisecond),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return models.MoodEntry{}, apperr.Storage("record mood", err)
	}
	return entry, nil
}

// Track is a user check-in. Without an explicit mood the notes are run
// through the tagger.
func (j *Journal) Track(ctx context.Context, owner, mood, notes string) (models.MoodEntry, error) {
	if strings.TrimSpace(mood) != "" {
		m, err := models.ParseMood(mood)
		if err != nil {
			return models.MoodEntry{}, err
		}
		return j.Record(ctx, owner, m, notes)
	}
	if strings.TrimSpace(notes) == "" {
		return models.MoodEntry{}, apperr.Validation("mood or notes is required")
	}

	a, err := j.tagger.Assess(ctx, notes)
	if err != nil {
		j.log.Warn("mood inference failed, using keywords", zap.Error(err))
		a = sentiment.Classify(notes)
	}
	a, _ = a.Normalize()
	return j.Record(ctx, owner, a.Label, notes)
}

// History returns entries of the last days, newest first.
func (j *Journal) History(ctx context.Context, owner string, days int) ([]models.MoodEntry, error) {
	since, err := j.since(days)
	if err != nil {
		return nil, err
	}
	entries := make([]models.MoodEntry, 0)
	err = j.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", owner, since).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, apperr.Storage("mood history", err)
	}
	return entries, nil
}

type MoodCount struct {
	Mood       models.Mood `json:"mood"`
	Count      int         `json:"count"`
	Percentage float64     `json:"percentage"`
}

type Analytics struct {
	Distribution []MoodCount `json:"mood_distribution"`
	Total        int         `json:"total_entries"`
	PeriodDays   int         `json:"period_days"`
}

// Analytics counts entries per mood over the last days. Moods never logged
// in the period are left out.
func (j *Journal) Analytics(ctx context.Context, owner string, days int) (Analytics, error) {
	since, err := j.since(days)
	if err != nil {
		return Analytics{}, err
	}
	var rows []struct {
		Mood  models.Mood
		Count int
	}
	err = j.db.WithContext(ctx).
		Model(&models.MoodEntry{}).
		Select("mood, COUNT(*) AS count").
		Where("user_id = ? AND created_at >= ?", owner, since).
		Group("mood").
		Scan(&rows).Error
	if err != nil {
		return Analytics{}, apperr.Storage("mood analytics", err)
	}

	out := Analytics{Distribution: make([]MoodCount, 0, len(rows)), PeriodDays: days}
	for _, r := range rows {
		out.Total += r.Count
	}
	for _, r := range rows {
		pct := math.Round(float64(r.Count)/float64(out.Total)*10000) / 100
		out.Distribution = append(out.Distribution, MoodCount{Mood: r.Mood, Count: r.Count, Percentage: pct})
	}
	sort.SliceStable(out.Distribution, func(a, b int) bool {
		if out.Distribution[a].Count != out.Distribution[b].Count {
			return out.Distribution[a].Count > out.Distribution[b].Count
		}
		return rank(out.Distribution[a].Mood) < rank(out.Distribution[b].Mood)
	})
	return out, nil
}

func (j *Journal) since(days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, apperr.Validation("days must be positive")
	}
	return j.now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
}

func rank(m models.Mood) int {
	for i, v := range models.Moods {
		if v == m {
			return i
		}
	}
	return len(models.Moods)
}
