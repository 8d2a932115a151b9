package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Companion/models"
	"Companion/pkg/apperr"
	"Companion/pkg/config"
	"Companion/pkg/database"
)

func newSQLiteStore(t *testing.T) SessionStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := database.Open(config.Database{Driver: "sqlite", DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewSQLStore(db)
}

func newRedisStore(t *testing.T) SessionStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewRedisStore(rdb)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) SessionStore { return NewMemoryStore() })
}

func TestSQLStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, newRedisStore)
}

// ownerID returns a user id unique to the running test so redis runs do not
// see each other's sessions.
func ownerID(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%s-%d", name, t.Name(), time.Now().UnixNano())
}

func userMsg(text string, a models.Assessment) *models.Message {
	m := &models.Message{Sender: models.SenderUser, Content: text, Timestamp: time.Now()}
	m.SetMood(a)
	return m
}

func botMsg(text string) *models.Message {
	return &models.Message{Sender: models.SenderBot, Content: text, Timestamp: time.Now()}
}

func runStoreSuite(t *testing.T, newStore func(*testing.T) SessionStore) {
	ctx := context.Background()

	t.Run("create validates input", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateSession(ctx, ownerID(t, "alice"), "bored")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = s.CreateSession(ctx, " ", models.MoodHappy)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("create then get returns an empty transcript", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		created, err := s.CreateSession(ctx, alice, models.MoodAnxious)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, created.CreatedAt, created.UpdatedAt)

		got, err := s.GetSession(ctx, alice, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MoodAnxious, got.Mood)
		assert.Empty(t, got.Messages)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("append keeps order and monotonic timestamps", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodAnxious)
		require.NoError(t, err)

		// timestamps in the past must still land after updated_at
		past := time.Now().Add(-time.Hour)
		u := userMsg("I feel overwhelmed today", models.Assessment{Label: models.MoodStressed, Score: 1})
		u.Timestamp = past
		b := botMsg("That sounds like a lot.")
		b.Timestamp = past
		require.NoError(t, s.AppendMessages(ctx, session.ID, []*models.Message{u, b}))
		assert.Equal(t, 1, u.Seq)
		assert.Equal(t, 2, b.Seq)
		assert.NotEmpty(t, u.ID)

		require.NoError(t, s.AppendMessages(ctx, session.ID, []*models.Message{
			userMsg("thanks", models.NeutralAssessment()), botMsg("Any time."),
		}))

		got, err := s.GetSession(ctx, alice, session.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 4)
		wantSenders := []models.Sender{models.SenderUser, models.SenderBot, models.SenderUser, models.SenderBot}
		for i, m := range got.Messages {
			assert.Equal(t, i+1, m.Seq)
			assert.Equal(t, wantSenders[i], m.Sender)
			if i > 0 {
				assert.True(t, m.Timestamp.After(got.Messages[i-1].Timestamp), "message %d not after %d", i, i-1)
			}
		}
		assert.True(t, got.Messages[0].Timestamp.After(session.UpdatedAt))
		assert.True(t, got.UpdatedAt.After(session.UpdatedAt))
		assert.True(t, !got.UpdatedAt.Before(got.Messages[3].Timestamp))

		first := got.Messages[0].Mood()
		require.NotNil(t, first)
		assert.Equal(t, models.MoodStressed, first.Label)
		assert.Nil(t, got.Messages[1].Mood())
	})

	t.Run("earlier messages are never rewritten", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodSad)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessages(ctx, session.ID, []*models.Message{
			userMsg("hello", models.NeutralAssessment()), botMsg("hi"),
		}))
		before, err := s.GetSession(ctx, alice, session.ID)
		require.NoError(t, err)

		require.NoError(t, s.AppendMessages(ctx, session.ID, []*models.Message{
			userMsg("still here", models.NeutralAssessment()), botMsg("me too"),
		}))
		after, err := s.GetSession(ctx, alice, session.ID)
		require.NoError(t, err)

		if diff := cmp.Diff(before.Messages, after.Messages[:2], cmpopts.EquateApproxTime(0)); diff != "" {
			t.Fatalf("prior transcript changed (-before +after):\n%s", diff)
		}
	})

	t.Run("bad batches are rejected without mutation", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodSad)
		require.NoError(t, err)

		bad := botMsg("hi")
		bad.SetMood(models.Assessment{Label: models.MoodHappy, Score: 1})
		assert.ErrorIs(t, s.AppendMessages(ctx, session.ID, []*models.Message{userMsg("x", models.NeutralAssessment()), bad}), apperr.ErrValidation)
		assert.ErrorIs(t, s.AppendMessages(ctx, session.ID, nil), apperr.ErrValidation)

		got, err := s.GetSession(ctx, alice, session.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Messages)
	})

	t.Run("other owners see not found", func(t *testing.T) {
		s := newStore(t)
		alice, bob := ownerID(t, "alice"), ownerID(t, "bob")
		session, err := s.CreateSession(ctx, alice, models.MoodHappy)
		require.NoError(t, err)

		_, err = s.GetSession(ctx, bob, session.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.ErrorIs(t, s.DeleteSession(ctx, bob, session.ID), apperr.ErrNotFound)

		list, err := s.ListSessions(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = s.GetSession(ctx, alice, session.ID)
		assert.NoError(t, err)
	})

	t.Run("append to missing session", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendMessages(ctx, "does-not-exist", []*models.Message{botMsg("hi")})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete removes the transcript", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodHappy)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessages(ctx, session.ID, []*models.Message{
			userMsg("hello", models.NeutralAssessment()), botMsg("hi"),
		}))

		require.NoError(t, s.DeleteSession(ctx, alice, session.ID))
		_, err = s.GetSession(ctx, alice, session.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.ErrorIs(t, s.DeleteSession(ctx, alice, session.ID), apperr.ErrNotFound)
		assert.ErrorIs(t, s.AppendMessages(ctx, session.ID, []*models.Message{botMsg("late")}), apperr.ErrNotFound)
	})

	t.Run("list orders by recent activity", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		first, err := s.CreateSession(ctx, alice, models.MoodHappy)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, err := s.CreateSession(ctx, alice, models.MoodSad)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)

		require.NoError(t, s.AppendMessages(ctx, first.ID, []*models.Message{
			userMsg("back again", models.NeutralAssessment()), botMsg("welcome back"),
		}))

		list, err := s.ListSessions(ctx, alice)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, 2, list[0].MessageCount)
		assert.Equal(t, second.ID, list[1].ID)
		assert.Equal(t, 0, list[1].MessageCount)
	})

	t.Run("concurrent appends stay adjacent", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodHappy)
		require.NoError(t, err)

		const turns = 8
		var wg sync.WaitGroup
		errs := make(chan error, turns)
		for i := 0; i < turns; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.AppendMessages(ctx, session.ID, []*models.Message{
					userMsg(fmt.Sprintf("u%d", i), models.NeutralAssessment()),
					botMsg(fmt.Sprintf("b%d", i)),
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			// redis may abort a contended WATCH; that surfaces as a storage error
			if err != nil {
				require.ErrorIs(t, err, apperr.ErrStorage)
			}
		}

		got, err := s.GetSession(ctx, alice, session.ID)
		require.NoError(t, err)
		require.Equal(t, 0, len(got.Messages)%2)
		for i := 0; i < len(got.Messages); i += 2 {
			u, b := got.Messages[i], got.Messages[i+1]
			assert.Equal(t, models.SenderUser, u.Sender)
			assert.Equal(t, models.SenderBot, b.Sender)
			assert.Equal(t, "b"+u.Content[1:], b.Content)
			assert.True(t, b.Timestamp.After(u.Timestamp))
		}
	})

	t.Run("delete racing append leaves no orphans", func(t *testing.T) {
		s := newStore(t)
		alice := ownerID(t, "alice")
		session, err := s.CreateSession(ctx, alice, models.MoodHappy)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		var appendErr error
		go func() {
			defer wg.Done()
			appendErr = s.AppendMessages(ctx, session.ID, []*models.Message{
				userMsg("hi", models.NeutralAssessment()), botMsg("hello"),
			})
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.DeleteSession(ctx, alice, session.ID))
		}()
		wg.Wait()

		if appendErr != nil {
			assert.True(t, errors.Is(appendErr, apperr.ErrNotFound) || errors.Is(appendErr, apperr.ErrStorage), appendErr)
		}
		_, err = s.GetSession(ctx, alice, session.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		list, err := s.ListSessions(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}

func TestKeyLockReleasesEntries(t *testing.T) {
	k := newKeyLock()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("s1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())

	a := k.Lock("a")
	b := k.Lock("b")
	assert.Equal(t, 2, k.size())
	a()
	b()
	assert.Equal(t, 0, k.size())
}

func TestStampBumpsCollidingTimestamps(t *testing.T) {
	floor := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	same := floor.Add(500 * time.Microsecond)
	msgs := []*models.Message{
		{Sender: models.SenderUser, Timestamp: same},
		{Sender: models.SenderBot, Timestamp: same},
	}
	updated := stamp("s1", 4, floor, msgs)

	assert.Equal(t, 5, msgs[0].Seq)
	assert.Equal(t, 6, msgs[1].Seq)
	assert.Equal(t, floor.Add(time.Millisecond), msgs[0].Timestamp)
	assert.Equal(t, floor.Add(2*time.Millisecond), msgs[1].Timestamp)
	assert.Equal(t, msgs[1].Timestamp, updated)
	assert.Equal(t, "s1", msgs[0].SessionID)
}
