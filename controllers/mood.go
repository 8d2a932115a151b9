package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"Companion/middleware"
	"Companion/models"
	"Companion/pkg/moodlog"
)

type MoodTracker interface {
	Track(ctx context.Context, owner, mood, notes string) (models.MoodEntry, error)
	History(ctx context.Context, owner string, days int) ([]models.MoodEntry, error)
	Analytics(ctx context.Context, owner string, days int) (moodlog.Analytics, error)
}

type moodEntryJSON struct {
	ID        uint        `json:"id"`
	Mood      models.Mood `json:"mood"`
	Notes     string      `json:"notes"`
	CreatedAt time.Time   `json:"created_at"`
}

func toMoodEntryJSON(e models.MoodEntry) moodEntryJSON {
	return moodEntryJSON{ID: e.ID, Mood: e.Mood, Notes: e.Notes, CreatedAt: e.CreatedAt.UTC()}
}

func periodDays(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("days", strconv.Itoa(moodlog.DefaultPeriodDays))
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "days must be a positive integer"})
		return 0, false
	}
	return days, true
}

func TrackMood(j MoodTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Mood  string `json:"mood"`
			Notes string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request body"})
			return
		}
		entry, err := j.Track(c.Request.Context(), middleware.CurrentUser(c), body.Mood, body.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toMoodEntryJSON(entry))
	}
}

func MoodHistory(j MoodTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, ok := periodDays(c)
		if !ok {
			return
		}
		entries, err := j.History(c.Request.Context(), middleware.CurrentUser(c), days)
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]moodEntryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, toMoodEntryJSON(e))
		}
		c.JSON(http.StatusOK, out)
	}
}

func MoodAnalytics(j MoodTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, ok := periodDays(c)
		if !ok {
			return
		}
		stats, err := j.Analytics(c.Request.Context(), middleware.CurrentUser(c), days)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
