// Package services produces companion replies, locally or through an LLM.
package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"Companion/models"
	"Companion/pkg/apperr"
)

// ReplyRequest is everything a generator may use to answer one user message.
// History holds the prior messages of the session, oldest first, and does
// not include UserText.
type ReplyRequest struct {
	SessionMood models.Mood
	History     []models.Message
	UserText    string
	Assessment  models.Assessment
}

// MoodKey picks the tone of the reply: the detected mood when it says
// something, otherwise the mood the session was opened with.
func (r ReplyRequest) MoodKey() models.Mood {
	if r.Assessment.Label.Valid() && r.Assessment.Label != models.MoodNeutral {
		return r.Assessment.Label
	}
	if r.SessionMood.Valid() {
		return r.SessionMood
	}
	return models.MoodNeutral
}

type ReplyGenerator interface {
	Generate(ctx context.Context, req ReplyRequest) (string, error)
}

var ErrEmptyReply = errors.New("generator returned an empty reply")

type fallbackGenerator struct {
	primary   ReplyGenerator
	secondary ReplyGenerator
	log       *zap.Logger
}

// WithFallback answers with secondary whenever primary fails or returns a
// blank reply.
func WithFallback(primary, secondary ReplyGenerator, log *zap.Logger) ReplyGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &fallbackGenerator{primary: primary, secondary: secondary, log: log}
}

func (g *fallbackGenerator) Generate(ctx context.Context, req ReplyRequest) (string, error) {
	text, err := g.primary.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err == nil {
		err = ErrEmptyReply
	}
	g.log.Warn("primary reply generator failed, using fallback", zap.Error(err))

	text, err2 := g.secondary.Generate(ctx, req)
	if err2 != nil {
		return "", apperr.Service("generate reply", errors.Join(err, err2))
	}
	return text, nil
}
