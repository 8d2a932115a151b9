package models

import (
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one entry of a session transcript. Seq is its 1-based position
// and never changes once stored.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_messages_session_seq,priority:1"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_messages_session_seq,priority:2"`
	Sender    Sender    `gorm:"size:10;not null"` // "user" or "bot"
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
	MoodLabel Mood      `gorm:"size:20"`
	MoodScore *float64
}

// Mood returns the assessment attached to a user message, or nil.
func (m Message) Mood() *Assessment {
	if m.Sender != SenderUser || m.MoodLabel == "" {
		return nil
	}
	a := Assessment{Label: m.MoodLabel}
	if m.MoodScore != nil {
		a.Score = *m.MoodScore
	}
	return &a
}

// SetMood annotates the message with a.
func (m *Message) SetMood(a Assessment) {
	score := a.Score
	m.MoodLabel = a.Label
	m.MoodScore = &score
}
