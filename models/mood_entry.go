package models

import "time"

// MoodEntry is a point on the user's mood timeline.
type MoodEntry struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;index:idx_mood_user_created,priority:1"`
	Mood      Mood      `gorm:"size:20;not null"`
	Notes     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index:idx_mood_user_created,priority:2"`
}
