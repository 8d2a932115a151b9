// Package chat turns a submitted user message into a stored pair of user
// and bot messages.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"Companion/models"
	"Companion/pkg/apperr"
	"Companion/pkg/cache"
	"Companion/pkg/sentiment"
	"Companion/pkg/services"
	"Companion/pkg/store"
)

// FallbackReply is stored as the bot message whenever no generator reply is
// available.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. I'm still here with you, could you tell me a little more?"

const appendBudget = 10 * time.Second

// MoodJournal receives a mood entry for every new session.
type MoodJournal interface {
	Record(ctx context.Context, owner string, mood models.Mood, notes string) (models.MoodEntry, error)
}

type Options struct {
	Logger           *zap.Logger
	TaggerTimeout    time.Duration
	GeneratorTimeout time.Duration
	// HistoryLimit is how many prior messages the generator sees.
	HistoryLimit int
	Now          func() time.Time
	// Cache keeps completed turns for idempotent resubmission. Nil disables
	// replay but concurrent duplicates still collapse.
	Cache    *cache.Cache
	CacheTTL time.Duration
	Journal  MoodJournal
}

// Turn is the result of one submission.
type Turn struct {
	UserMessage models.Message
	BotMessage  models.Message
}

type Service struct {
	store     store.SessionStore
	tagger    sentiment.Tagger
	generator services.ReplyGenerator
	opts      Options
	log       *zap.Logger
	inflight  singleflight.Group
}

func NewService(st store.SessionStore, tagger sentiment.Tagger, generator services.ReplyGenerator, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TaggerTimeout <= 0 {
		opts.TaggerTimeout = 5 * time.Second
	}
	if opts.GeneratorTimeout <= 0 {
		opts.GeneratorTimeout = 20 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 6
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Service{
		store:     st,
		tagger:    tagger,
		generator: generator,
		opts:      opts,
		log:       opts.Logger.Named("chat"),
	}
}

func (s *Service) CreateSession(ctx context.Context, owner string, mood models.Mood) (models.ChatSession, error) {
	session, err := s.store.CreateSession(ctx, owner, mood)
	if err != nil {
		return models.ChatSession{}, err
	}
	if s.opts.Journal != nil {
		notes := "Started chat session with " + string(mood) + " mood"
		if _, err := s.opts.Journal.Record(ctx, owner, mood, notes); err != nil {
			s.log.Warn("failed to record session mood", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	s.log.Info("session created", zap.String("session_id", session.ID), zap.String("mood", string(mood)))
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, owner, id string) (models.ChatSession, error) {
	return s.store.GetSession(ctx, owner, id)
}

func (s *Service) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	return s.store.ListSessions(ctx, owner)
}

func (s *Service) DeleteSession(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteSession(ctx, owner, id); err != nil {
		return err
	}
	s.log.Info("session deleted", zap.String("session_id", id))
	return nil
}

// SubmitTurn stores the user's message together with a reply. Either both
// messages are persisted or neither is.
func (s *Service) SubmitTurn(ctx context.Context, owner, sessionID, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, apperr.Validation("message must not be empty")
	}

	session, err := s.store.GetSession(ctx, owner, sessionID)
	if err != nil {
		return Turn{}, err
	}

	assessment, taggerOK := s.assess(ctx, text)
	// a canceled caller is not a tagger failure; store nothing
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	user := &models.Message{
		Sender:    models.SenderUser,
		Content:   text,
		Timestamp: s.opts.Now(),
	}
	user.SetMood(assessment)

	history := session.Messages
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}
	reply, generatorOK := s.reply(ctx, services.ReplyRequest{
		SessionMood: session.Mood,
		History:     history,
		UserText:    text,
		Assessment:  assessment,
	})
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	bot := &models.Message{
		Sender:    models.SenderBot,
		Content:   reply,
		Timestamp: s.opts.Now(),
	}

	if err := s.store.AppendMessages(ctx, session.ID, []*models.Message{user, bot}); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrStorage) {
			return Turn{}, err
		}
		return Turn{}, apperr.Storage("append turn", err)
	}

	s.log.Info("turn stored",
		zap.String("session_id", session.ID),
		zap.String("mood", string(assessment.Label)),
		zap.Float64("score", assessment.Score),
		zap.Bool("tagger_fallback", !taggerOK),
		zap.Bool("reply_fallback", !generatorOK),
	)
	return Turn{UserMessage: *user, BotMessage: *bot}, nil
}

// SubmitTurnOnce is SubmitTurn keyed by a client supplied idempotency key.
// Repeating a key with the same text returns the stored turn instead of
// appending a new one; concurrent repeats join the first. The shared turn
// keeps running when the caller that started it goes away, so a retry picks
// up its result.
func (s *Service) SubmitTurnOnce(ctx context.Context, owner, sessionID, key, text string) (Turn, error) {
	if key == "" {
		return s.SubmitTurn(ctx, owner, sessionID, text)
	}
	if strings.TrimSpace(text) == "" {
		return Turn{}, apperr.Validation("message must not be empty")
	}
	// replays are only valid while the session exists
	if _, err := s.store.GetSession(ctx, owner, sessionID); err != nil {
		return Turn{}, err
	}

	ck := cache.KeyFromStrings(owner, sessionID, key, text)
	if v, ok := s.opts.Cache.Get(ck); ok {
		s.log.Debug("replaying turn", zap.String("session_id", sessionID))
		return v.(Turn), nil
	}

	ch := s.inflight.DoChan(ck, func() (any, error) {
		if v, ok := s.opts.Cache.Get(ck); ok {
			return v, nil
		}
		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.turnBudget())
		defer cancel()
		turn, err := s.SubmitTurn(turnCtx, owner, sessionID, text)
		if err != nil {
			return Turn{}, err
		}
		s.opts.Cache.Set(ck, turn, s.opts.CacheTTL)
		return turn, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Turn{}, r.Err
		}
		return r.Val.(Turn), nil
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

// turnBudget bounds one detached turn: both collaborator timeouts plus the
// append.
func (s *Service) turnBudget() time.Duration {
	return s.opts.TaggerTimeout + s.opts.GeneratorTimeout + appendBudget
}

// assess never fails: any problem with the tagger yields the neutral
// assessment and ok=false.
func (s *Service) assess(ctx context.Context, text string) (models.Assessment, bool) {
	type result struct {
		a   models.Assessment
		err error
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.TaggerTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		var r result
		var pc panics.Catcher
		pc.Try(func() { r.a, r.err = s.tagger.Assess(ctx, text) })
		if rec := pc.Recovered(); rec != nil {
			r.err = apperr.Service("sentiment tagger panicked", rec.AsError())
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.log.Warn("sentiment tagger failed", zap.Error(r.err))
			return models.NeutralAssessment(), false
		}
		a, ok := r.a.Normalize()
		if !ok {
			s.log.Warn("sentiment tagger returned unknown label", zap.String("label", string(r.a.Label)))
		}
		return a, ok
	case <-ctx.Done():
		s.log.Warn("sentiment tagger timed out", zap.Duration("timeout", s.opts.TaggerTimeout))
		return models.NeutralAssessment(), false
	}
}

// reply never fails: FallbackReply stands in for any generator problem.
func (s *Service) reply(ctx context.Context, req services.ReplyRequest) (string, bool) {
	type result struct {
		text string
		err  error
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.GeneratorTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		var r result
		var pc panics.Catcher
		pc.Try(func() { r.text, r.err = s.generator.Generate(ctx, req) })
		if rec := pc.Recovered(); rec != nil {
			r.err = apperr.Service("reply generator panicked", rec.AsError())
		}
		done <- r
	}()

	select {
	case r := <-done:
		text := strings.TrimSpace(r.text)
		if r.err != nil || text == "" {
			s.log.Warn("reply generator failed", zap.Error(r.err), zap.Bool("blank", text == ""))
			return FallbackReply, false
		}
		return text, true
	case <-ctx.Done():
		s.log.Warn("reply generator timed out", zap.Duration("timeout", s.opts.GeneratorTimeout))
		return FallbackReply, false
	}
}
