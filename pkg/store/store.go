// Package store persists chat sessions and their ordered transcripts.
//
// Every backend serializes AppendMessages and DeleteSession per session id,
// so the messages of one append become visible together and a deleted
// session never leaves messages behind.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"Companion/models"
	"Companion/pkg/apperr"
)

type SessionStore interface {
	CreateSession(ctx context.Context, owner string, mood models.Mood) (models.ChatSession, error)
	GetSession(ctx context.Context, owner, id string) (models.ChatSession, error)
	// AppendMessages stores msgs atomically at the end of the transcript. It
	// fills ID, SessionID, Seq and normalizes Timestamp on each message.
	AppendMessages(ctx context.Context, sessionID string, msgs []*models.Message) error
	DeleteSession(ctx context.Context, owner, id string) error
	// ListSessions returns the owner's sessions, most recently active first.
	ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error)
	Ping(ctx context.Context) error
}

func newSession(owner string, mood models.Mood, now time.Time) (models.ChatSession, error) {
	if strings.TrimSpace(owner) == "" {
		return models.ChatSession{}, apperr.Validation("owner is required")
	}
	if !mood.Valid() {
		return models.ChatSession{}, apperr.Validation("mood %q is not supported", mood)
	}
	ts := now.UTC().Truncate(time.Millisecond)
	return models.ChatSession{
		ID:        uuid.NewString(),
		UserID:    owner,
		Mood:      mood,
		CreatedAt: ts,
		UpdatedAt: ts,
		Messages:  []models.Message{},
	}, nil
}

func validateBatch(msgs []*models.Message) error {
	if len(msgs) == 0 {
		return apperr.Validation("no messages to append")
	}
	for _, m := range msgs {
		if m == nil {
			return apperr.Validation("nil message")
		}
		switch m.Sender {
		case models.SenderUser:
			if m.MoodLabel != "" && !m.MoodLabel.Valid() {
				return apperr.Validation("message mood %q is not supported", m.MoodLabel)
			}
		case models.SenderBot:
			if m.MoodLabel != "" || m.MoodScore != nil {
				return apperr.Validation("bot messages carry no mood")
			}
		default:
			return apperr.Validation("sender %q is not supported", m.Sender)
		}
	}
	return nil
}

// stamp assigns identity and position to msgs following a transcript whose
// last entry has lastSeq. Timestamps are kept at millisecond precision and
// forced strictly after floor and after each other. The new updated-at is
// returned.
func stamp(sessionID string, lastSeq int, floor time.Time, msgs []*models.Message) time.Time {
	prev := floor.UTC().Truncate(time.Millisecond)
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.SessionID = sessionID
		m.Seq = lastSeq + i + 1

		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		ts = ts.UTC().Truncate(time.Millisecond)
		if !ts.After(prev) {
			ts = prev.Add(time.Millisecond)
		}
		m.Timestamp = ts
		prev = ts
	}
	return prev
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
