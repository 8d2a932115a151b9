package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Companion/middleware"
	"Companion/models"
	"Companion/pkg/apperr"
	"Companion/pkg/cache"
	"Companion/pkg/chat"
	"Companion/pkg/config"
	"Companion/pkg/database"
	"Companion/pkg/moodlog"
	"Companion/pkg/sentiment"
	"Companion/pkg/services"
	"Companion/pkg/store"
)

const secret = "routes-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type flakyStore struct {
	store.SessionStore
	failures atomic.Int32
}

func (f *flakyStore) AppendMessages(ctx context.Context, id string, msgs []*models.Message) error {
	if f.failures.Add(-1) >= 0 {
		return apperr.Storage("append messages", errors.New("disk full"))
	}
	return f.SessionStore.AppendMessages(ctx, id, msgs)
}

type fixture struct {
	router *gin.Engine
	store  *flakyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newLimitedFixture(t, 100)
}

func newLimitedFixture(t *testing.T, turnsPerMinute int) *fixture {
	t.Helper()
	db, err := database.Open(config.Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "r.db")}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	st := &flakyStore{SessionStore: store.NewMemoryStore()}
	journal := moodlog.New(db, sentiment.NewKeywordTagger(), nil)
	svc := chat.NewService(st, sentiment.NewKeywordTagger(), services.NewRuleGenerator(nil), chat.Options{
		Cache:   cache.New(100),
		Journal: journal,
	})

	r := gin.New()
	RegisterRoutes(r, Deps{
		JWTSecret: secret,
		Chat:      svc,
		Mood:      journal,
		Store:     st,
		Limiter:   middleware.NewRateLimiter(time.Minute, turnsPerMinute),
		Guard:     middleware.NewConcurrencyGuard(2),
	})
	return &fixture{router: r, store: st}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path, user string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type messageBody struct {
	ID        string             `json:"id"`
	Sender    string             `json:"sender"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
	Mood      *models.Assessment `json:"mood"`
}

type sessionBody struct {
	ID        string        `json:"id"`
	Mood      string        `json:"mood"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []messageBody `json:"messages"`
}

type turnBody struct {
	UserMessage messageBody `json:"user_message"`
	BotMessage  messageBody `json:"bot_message"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRequiresAuth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/sessions", "/mood/history"} {
		w := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "msg")
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sessions", "alice", gin.H{"mood": "anxious"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[sessionBody](t, w)
	assert.Equal(t, "anxious", created.Mood)
	assert.NotNil(t, created.Messages)
	assert.Empty(t, created.Messages)

	w = f.do(t, http.MethodPost, "/sessions/"+created.ID+"/message", "alice", gin.H{"message": "I feel overwhelmed today"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	turn := decode[turnBody](t, w)
	assert.Equal(t, "user", turn.UserMessage.Sender)
	assert.Equal(t, "I feel overwhelmed today", turn.UserMessage.Content)
	require.NotNil(t, turn.UserMessage.Mood)
	assert.Equal(t, models.MoodStressed, turn.UserMessage.Mood.Label)
	assert.Equal(t, 1.0, turn.UserMessage.Mood.Score)
	assert.Equal(t, "bot", turn.BotMessage.Sender)
	assert.NotEmpty(t, turn.BotMessage.Content)
	assert.Nil(t, turn.BotMessage.Mood)
	assert.True(t, turn.BotMessage.Timestamp.After(turn.UserMessage.Timestamp))
	assert.NotContains(t, w.Body.String()[strings.Index(w.Body.String(), `"bot_message"`):], `"mood"`)

	w = f.do(t, http.MethodGet, "/sessions/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[sessionBody](t, w)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, turn.UserMessage.ID, got.Messages[0].ID)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))

	w = f.do(t, http.MethodGet, "/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(2), list[0]["message_count"])
	assert.NotContains(t, list[0], "messages")

	w = f.do(t, http.MethodGet, "/sessions/"+created.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodPost, "/sessions/"+created.ID+"/message", "bob", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/sessions/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/sessions/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/sessions/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSessionMood(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sessions", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "neutral", decode[sessionBody](t, w).Mood)

	w = f.do(t, http.MethodPost, "/sessions", "alice", gin.H{"mood": "bored"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/mood/history", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Started chat session with neutral mood", entries[0]["notes"])
}

func TestSubmitMessageErrors(t *testing.T) {
	f := newFixture(t)
	created := decode[sessionBody](t, f.do(t, http.MethodPost, "/sessions", "alice", gin.H{"mood": "sad"}))
	path := "/sessions/" + created.ID + "/message"

	w := f.do(t, http.MethodPost, path, "alice", gin.H{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.store.failures.Store(1)
	w = f.do(t, http.MethodPost, path, "alice", gin.H{"message": "hello"}, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"retryable":true`)

	first := f.do(t, http.MethodPost, path, "alice", gin.H{"message": "hello"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, first.Code)
	again := f.do(t, http.MethodPost, path, "alice", gin.H{"message": "hello"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, decode[turnBody](t, first).BotMessage.ID, decode[turnBody](t, again).BotMessage.ID)

	got := decode[sessionBody](t, f.do(t, http.MethodGet, "/sessions/"+created.ID, "alice", nil))
	assert.Len(t, got.Messages, 2)

	w = f.do(t, http.MethodPost, "/sessions/missing/message", "alice", gin.H{"message": "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMoodEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/mood", "alice", gin.H{"mood": "happy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, "/mood", "alice", gin.H{"notes": "I am so nervous about tomorrow"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"mood":"anxious"`)
	w = f.do(t, http.MethodPost, "/mood", "alice", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/mood/analytics?days=7", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[moodlog.Analytics](t, w)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 7, stats.PeriodDays)
	assert.Len(t, stats.Distribution, 2)

	w = f.do(t, http.MethodGet, "/mood/history?days=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocketTurns(t *testing.T) {
	f := newFixture(t)
	created := decode[sessionBody](t, f.do(t, http.MethodPost, "/sessions", "alice", gin.H{"mood": "happy"}))

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/"

	_, resp, err := websocket.DefaultDialer.Dial(base+created.ID, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+created.ID+"?token="+token(t, "bob"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+created.ID+"?token="+token(t, "alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(gin.H{"type": "message", "message": "such a wonderful day"}))
	var turn struct {
		Type string `json:"type"`
		turnBody
	}
	require.NoError(t, conn.ReadJSON(&turn))
	assert.Equal(t, "turn", turn.Type)
	assert.Equal(t, "such a wonderful day", turn.UserMessage.Content)
	require.NotNil(t, turn.UserMessage.Mood)
	assert.Equal(t, models.MoodHappy, turn.UserMessage.Mood.Label)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "message", "message": " "}))
	var failure map[string]any
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure["type"])
	assert.Equal(t, float64(http.StatusBadRequest), failure["status"])

	got := decode[sessionBody](t, f.do(t, http.MethodGet, "/sessions/"+created.ID, "alice", nil))
	assert.Len(t, got.Messages, 2)
}

func TestWebSocketTurnsAreRateLimited(t *testing.T) {
	f := newLimitedFixture(t, 1)
	created := decode[sessionBody](t, f.do(t, http.MethodPost, "/sessions", "alice", gin.H{"mood": "happy"}))

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + created.ID + "?token=" + token(t, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{"type": "message", "message": "hello"}))
	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "turn", first["type"])

	require.NoError(t, conn.WriteJSON(gin.H{"type": "message", "message": "hello again"}))
	var second map[string]any
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "error", second["type"])
	assert.Equal(t, float64(http.StatusTooManyRequests), second["status"])

	require.NoError(t, conn.WriteJSON(gin.H{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"], "pings are not rate limited")

	got := decode[sessionBody](t, f.do(t, http.MethodGet, "/sessions/"+created.ID, "alice", nil))
	assert.Len(t, got.Messages, 2)
}
