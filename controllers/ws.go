package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Companion/middleware"
)

const (
	wsReadLimit = 64 << 10
	wsIdle      = 60 * time.Second
	wsTurnLimit = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

type wsInbound struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotency_key"`
}

type wsTurn struct {
	Type string `json:"type"`
	turnJSON
}

// ChatWS runs chat turns for one session over a WebSocket.
// Client protocol (JSON messages):
//
//	-> {type: "message", message: string, idempotency_key?: string}
//	<- {type: "turn", user_message: {...}, bot_message: {...}}
//	<- {type: "error", error: string, status: number}
//	-> {type: "ping"}
//	<- {type: "pong"}
func ChatWS(secret string, svc ChatService, limiter *middleware.RateLimiter, guard *middleware.ConcurrencyGuard, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Authenticate via ?token=JWT
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing token query"})
			return
		}
		owner, err := middleware.ParseToken(secret, tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}
		c.Set(middleware.ContextUserIDKey, owner)
		limitKey := middleware.LimitKey(c)

		sessionID := c.Param("session_id")
		if _, err := svc.GetSession(c.Request.Context(), owner, sessionID); err != nil {
			respondError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsIdle))
		})

		for {
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("websocket read ended", zap.String("session_id", sessionID), zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}

			var in wsInbound
			if err := json.Unmarshal(raw, &in); err != nil {
				_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid payload", "status": http.StatusBadRequest})
				continue
			}

			switch strings.ToLower(strings.TrimSpace(in.Type)) {
			case "ping":
				_ = conn.WriteJSON(gin.H{"type": "pong"})
			case "message":
				if limiter != nil && !limiter.Allow(limitKey) {
					_ = conn.WriteJSON(gin.H{"type": "error", "error": "too many requests", "status": http.StatusTooManyRequests})
					continue
				}
				out := runWSTurn(c.Request.Context(), svc, guard, owner, sessionID, in)
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			default:
				_ = conn.WriteJSON(gin.H{"type": "error", "error": "unknown message type", "status": http.StatusBadRequest})
			}
		}
	}
}

func runWSTurn(ctx context.Context, svc ChatService, guard *middleware.ConcurrencyGuard, owner, sessionID string, in wsInbound) any {
	ctx, cancel := context.WithTimeout(ctx, wsTurnLimit)
	defer cancel()

	if guard != nil {
		release, err := guard.Acquire(ctx, owner)
		if err != nil {
			return gin.H{"type": "error", "error": "too many turns in flight", "status": http.StatusServiceUnavailable}
		}
		defer release()
	}

	turn, err := svc.SubmitTurnOnce(ctx, owner, sessionID, strings.TrimSpace(in.IdempotencyKey), in.Message)
	if err != nil {
		status, body := errorBody(err)
		return gin.H{"type": "error", "error": body["msg"], "status": status}
	}
	return wsTurn{Type: "turn", turnJSON: toTurnJSON(turn)}
}
