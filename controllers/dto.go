package controllers

import (
	"time"

	"Companion/models"
	"Companion/pkg/chat"
)

type messageJSON struct {
	ID        string             `json:"id"`
	Sender    models.Sender      `json:"sender"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
	Mood      *models.Assessment `json:"mood,omitempty"`
}

type sessionJSON struct {
	ID        string        `json:"id"`
	Mood      models.Mood   `json:"mood"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []messageJSON `json:"messages"`
}

type summaryJSON struct {
	ID           string      `json:"id"`
	Mood         models.Mood `json:"mood"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	MessageCount int         `json:"message_count"`
}

type turnJSON struct {
	UserMessage messageJSON `json:"user_message"`
	BotMessage  messageJSON `json:"bot_message"`
}

func toMessageJSON(m models.Message) messageJSON {
	return messageJSON{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC(),
		Mood:      m.Mood(),
	}
}

func toSessionJSON(s models.ChatSession) sessionJSON {
	msgs := make([]messageJSON, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, toMessageJSON(m))
	}
	return sessionJSON{
		ID:        s.ID,
		Mood:      s.Mood,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
		Messages:  msgs,
	}
}

func toSummaryJSON(s models.SessionSummary) summaryJSON {
	return summaryJSON{
		ID:           s.ID,
		Mood:         s.Mood,
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
		MessageCount: s.MessageCount,
	}
}

func toTurnJSON(t chat.Turn) turnJSON {
	return turnJSON{UserMessage: toMessageJSON(t.UserMessage), BotMessage: toMessageJSON(t.BotMessage)}
}
