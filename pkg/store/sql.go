package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"Companion/models"
	"Companion/pkg/apperr"
)

// SQLStore keeps sessions in a relational database through gorm. Each
// append and each delete is a single transaction.
type SQLStore struct {
	db    *gorm.DB
	locks *keyLock
	now   func() time.Time
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, locks: newKeyLock(), now: time.Now}
}

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func (s *SQLStore) CreateSession(ctx context.Context, owner string, mood models.Mood) (models.ChatSession, error) {
	session, err := newSession(owner, mood, s.now())
	if err != nil {
		return models.ChatSession{}, err
	}
	if err := s.db.WithContext(ctx).Omit("Messages").Create(&session).Error; err != nil {
		return models.ChatSession{}, apperr.Storage("create session", err)
	}
	return session, nil
}

func (s *SQLStore) GetSession(ctx context.Context, owner, id string) (models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		Where("id = ? AND user_id = ?", id, owner).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatSession{}, apperr.NotFound("session")
	}
	if err != nil {
		return models.ChatSession{}, apperr.Storage("load session", err)
	}
	if session.Messages == nil {
		session.Messages = []models.Message{}
	}
	return session, nil
}

func (s *SQLStore) AppendMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	if err := validateBatch(msgs); err != nil {
		return err
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		if err := tx.Select("id", "updated_at").Where("id = ?", sessionID).Take(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("session")
			}
			return err
		}

		var last models.Message
		res := tx.Where("session_id = ?", sessionID).Order("seq DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}
		floor, lastSeq := session.UpdatedAt, 0
		if res.RowsAffected > 0 {
			floor, lastSeq = latest(floor, last.Timestamp), last.Seq
		}

		updated := stamp(sessionID, lastSeq, floor, msgs)
		if err := tx.Create(msgs).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatSession{}).
			Where("id = ?", sessionID).
			Update("updated_at", updated).Error
	})
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Storage("append messages", err)
}

func (s *SQLStore) DeleteSession(ctx context.Context, owner, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		if err := tx.Select("id").Where("id = ? AND user_id = ?", id, owner).Take(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("session")
			}
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Storage("delete session", err)
}

func (s *SQLStore) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	out := make([]models.SessionSummary, 0)
	err := s.db.WithContext(ctx).
		Model(&models.ChatSession{}).
		Select("chat_sessions.id, chat_sessions.mood, chat_sessions.created_at, chat_sessions.updated_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN messages ON messages.session_id = chat_sessions.id").
		Where("chat_sessions.user_id = ?", owner).
		Group("chat_sessions.id, chat_sessions.mood, chat_sessions.created_at, chat_sessions.updated_at").
		Order("chat_sessions.updated_at DESC, chat_sessions.created_at DESC, chat_sessions.id DESC").
		Scan(&out).Error
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	sortSummaries(out)
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Storage("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Storage("ping", err)
	}
	return nil
}
