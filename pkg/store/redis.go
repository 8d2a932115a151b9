package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"Companion/models"
	"Companion/pkg/apperr"
)

const redisPrefix = "companion:"

type redisMessage struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Sender    models.Sender `json:"sender"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	MoodLabel models.Mood   `json:"mood_label,omitempty"`
	MoodScore *float64      `json:"mood_score,omitempty"`
}

// RedisStore keeps every session as a hash, its transcript as a list of
// JSON messages and a per-owner sorted set scored by updated-at. Appends and
// deletes run under WATCH so a concurrent writer aborts the transaction
// instead of interleaving with it.
type RedisStore struct {
	rdb   *redis.Client
	locks *keyLock
	now   func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, locks: newKeyLock(), now: time.Now}
}

func sessionKey(id string) string  { return fmt.Sprintf("%ssession:%s", redisPrefix, id) }
func messagesKey(id string) string { return fmt.Sprintf("%ssession:%s:messages", redisPrefix, id) }
func ownerKey(owner string) string { return fmt.Sprintf("%suser:%s:sessions", redisPrefix, owner) }

func (s *RedisStore) CreateSession(ctx context.Context, owner string, mood models.Mood) (models.ChatSession, error) {
	session, err := newSession(owner, mood, s.now())
	if err != nil {
		return models.ChatSession{}, err
	}
	ms := session.UpdatedAt.UnixMilli()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, sessionKey(session.ID),
			"id", session.ID,
			"user_id", owner,
			"mood", string(mood),
			"created_at", ms,
			"updated_at", ms,
		)
		p.ZAdd(ctx, ownerKey(owner), redis.Z{Score: float64(ms), Member: session.ID})
		return nil
	})
	if err != nil {
		return models.ChatSession{}, apperr.Storage("create session", err)
	}
	return session, nil
}

func (s *RedisStore) GetSession(ctx context.Context, owner, id string) (models.ChatSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return models.ChatSession{}, apperr.Storage("load session", err)
	}
	session, ok := sessionFromHash(fields)
	if !ok || session.UserID != owner {
		return models.ChatSession{}, apperr.NotFound("session")
	}

	raw, err := s.rdb.LRange(ctx, messagesKey(id), 0, -1).Result()
	if err != nil {
		return models.ChatSession{}, apperr.Storage("load messages", err)
	}
	session.Messages = make([]models.Message, 0, len(raw))
	for _, r := range raw {
		m, err := decodeMessage(r)
		if err != nil {
			return models.ChatSession{}, apperr.Storage("decode message", err)
		}
		session.Messages = append(session.Messages, m)
	}
	return session, nil
}

func (s *RedisStore) AppendMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	if err := validateBatch(msgs); err != nil {
		return err
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sKey, mKey := sessionKey(sessionID), messagesKey(sessionID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, sKey, "user_id", "updated_at").Result()
		if err != nil {
			return err
		}
		owner, _ := vals[0].(string)
		if owner == "" {
			return apperr.NotFound("session")
		}
		floor := parseMillis(vals[1])

		lastSeq := 0
		lastRaw, err := tx.LIndex(ctx, mKey, -1).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			last, err := decodeMessage(lastRaw)
			if err != nil {
				return err
			}
			floor, lastSeq = latest(floor, last.Timestamp), last.Seq
		}

		updated := stamp(sessionID, lastSeq, floor, msgs)
		payloads := make([]any, 0, len(msgs))
		for _, m := range msgs {
			b, err := json.Marshal(toRedisMessage(*m))
			if err != nil {
				return err
			}
			payloads = append(payloads, string(b))
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, mKey, payloads...)
			p.HSet(ctx, sKey, "updated_at", updated.UnixMilli())
			p.ZAdd(ctx, ownerKey(owner), redis.Z{Score: float64(updated.UnixMilli()), Member: sessionID})
			return nil
		})
		return err
	}, sKey, mKey)
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Storage("append messages", err)
}

func (s *RedisStore) DeleteSession(ctx context.Context, owner, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	sKey := sessionKey(id)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		got, err := tx.HGet(ctx, sKey, "user_id").Result()
		if errors.Is(err, redis.Nil) || (err == nil && got != owner) {
			return apperr.NotFound("session")
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, sKey, messagesKey(id))
			p.ZRem(ctx, ownerKey(owner), id)
			return nil
		})
		return err
	}, sKey)
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Storage("delete session", err)
}

func (s *RedisStore) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	ids, err := s.rdb.ZRevRange(ctx, ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	out := make([]models.SessionSummary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	hashes := make([]*redis.MapStringStringCmd, len(ids))
	counts := make([]*redis.IntCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = p.HGetAll(ctx, sessionKey(id))
			counts[i] = p.LLen(ctx, messagesKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}

	for i := range ids {
		session, ok := sessionFromHash(hashes[i].Val())
		if !ok || session.UserID != owner {
			continue
		}
		summary := session.Summary()
		summary.MessageCount = int(counts[i].Val())
		out = append(out, summary)
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return apperr.Storage("ping", err)
	}
	return nil
}

func sessionFromHash(fields map[string]string) (models.ChatSession, bool) {
	if len(fields) == 0 || fields["id"] == "" {
		return models.ChatSession{}, false
	}
	return models.ChatSession{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Mood:      models.Mood(fields["mood"]),
		CreatedAt: parseMillis(fields["created_at"]),
		UpdatedAt: parseMillis(fields["updated_at"]),
		Messages:  []models.Message{},
	}, true
}

func parseMillis(v any) time.Time {
	s, _ := v.(string)
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toRedisMessage(m models.Message) redisMessage {
	return redisMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		Seq:       m.Seq,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		MoodLabel: m.MoodLabel,
		MoodScore: m.MoodScore,
	}
}

func decodeMessage(raw string) (models.Message, error) {
	var rm redisMessage
	if err := json.Unmarshal([]byte(raw), &rm); err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:        rm.ID,
		SessionID: rm.SessionID,
		Seq:       rm.Seq,
		Sender:    rm.Sender,
		Content:   rm.Content,
		Timestamp: rm.Timestamp.UTC(),
		MoodLabel: rm.MoodLabel,
		MoodScore: rm.MoodScore,
	}, nil
}
