package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"Companion/controllers"
	"Companion/middleware"

	moodRoutes "Companion/routes/mood"
	sessionRoutes "Companion/routes/session"
	websocketRoutes "Companion/routes/websocket"
)

// Pinger reports whether the session store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	JWTSecret string
	Chat      controllers.ChatService
	Mood      controllers.MoodTracker
	Store     Pinger
	Limiter   *middleware.RateLimiter
	Guard     *middleware.ConcurrencyGuard
	Logger    *zap.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(0, 0)
	}
	if d.Guard == nil {
		d.Guard = middleware.NewConcurrencyGuard(0)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "Companion chat backend running"})
	})
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if d.Store != nil {
			if err := d.Store.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	websocketRoutes.Register(r, d.JWTSecret, d.Chat, d.Limiter, d.Guard, d.Logger)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware(d.JWTSecret))
	sessionRoutes.Register(protected, d.Chat, d.Limiter, d.Guard)
	if d.Mood != nil {
		moodRoutes.Register(protected, d.Mood)
	}
}
