package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"Companion/models"
	"Companion/pkg/apperr"
)

// MemoryStore keeps sessions in process memory. Suitable for development
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

type memorySession struct {
	mu      sync.Mutex
	session models.ChatSession
	deleted bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, owner string, mood models.Mood) (models.ChatSession, error) {
	session, err := newSession(owner, mood, s.now())
	if err != nil {
		return models.ChatSession{}, err
	}

	s.mu.Lock()
	s.sessions[session.ID] = &memorySession{session: session}
	s.mu.Unlock()

	return copySession(session), nil
}

func (s *MemoryStore) lookup(id string) (*memorySession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *MemoryStore) GetSession(_ context.Context, owner, id string) (models.ChatSession, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return models.ChatSession{}, apperr.NotFound("session")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || rec.session.UserID != owner {
		return models.ChatSession{}, apperr.NotFound("session")
	}
	return copySession(rec.session), nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, sessionID string, msgs []*models.Message) error {
	if err := validateBatch(msgs); err != nil {
		return err
	}
	rec, ok := s.lookup(sessionID)
	if !ok {
		return apperr.NotFound("session")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return apperr.NotFound("session")
	}

	transcript := rec.session.Messages
	floor := rec.session.UpdatedAt
	if n := len(transcript); n > 0 {
		floor = latest(floor, transcript[n-1].Timestamp)
	}
	updated := stamp(sessionID, len(transcript), floor, msgs)

	for _, m := range msgs {
		transcript = append(transcript, copyMessage(*m))
	}
	rec.session.Messages = transcript
	rec.session.UpdatedAt = updated
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, owner, id string) error {
	rec, ok := s.lookup(id)
	if !ok {
		return apperr.NotFound("session")
	}

	rec.mu.Lock()
	if rec.deleted || rec.session.UserID != owner {
		rec.mu.Unlock()
		return apperr.NotFound("session")
	}
	rec.deleted = true
	rec.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context, owner string) ([]models.SessionSummary, error) {
	s.mu.RLock()
	recs := make([]*memorySession, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]models.SessionSummary, 0)
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.deleted && rec.session.UserID == owner {
			out = append(out, rec.session.Summary())
		}
		rec.mu.Unlock()
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func sortSummaries(out []models.SessionSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
}

func copySession(s models.ChatSession) models.ChatSession {
	msgs := make([]models.Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = copyMessage(m)
	}
	s.Messages = msgs
	return s
}

func copyMessage(m models.Message) models.Message {
	if m.MoodScore != nil {
		score := *m.MoodScore
		m.MoodScore = &score
	}
	return m
}
