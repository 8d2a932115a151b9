package session

import (
	"github.com/gin-gonic/gin"

	"Companion/controllers"
	"Companion/middleware"
)

// Register registers chat session routes (protected)
func Register(g *gin.RouterGroup, svc controllers.ChatService, limiter *middleware.RateLimiter, guard *middleware.ConcurrencyGuard) {
	g.POST("/sessions", controllers.CreateSession(svc))
	g.GET("/sessions", controllers.ListSessions(svc))
	g.GET("/sessions/:session_id", controllers.GetSession(svc))
	g.DELETE("/sessions/:session_id", controllers.DeleteSession(svc))
	// rate limiting and per-user concurrency on the turn endpoint only
	g.POST("/sessions/:session_id/message", limiter.Middleware(), guard.Middleware(), controllers.SubmitMessage(svc))
}
