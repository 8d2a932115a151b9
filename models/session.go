package models

import "time"

type ChatSession struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:64;not null;index:idx_sessions_user_updated,priority:1"`
	Mood      Mood      `gorm:"size:20;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_sessions_user_updated,priority:2"`
	Messages  []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// Summary drops the transcript.
func (s ChatSession) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Mood:         s.Mood,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

type SessionSummary struct {
	ID           string
	Mood         Mood
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}
