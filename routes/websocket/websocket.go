package websocket

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"Companion/controllers"
	"Companion/middleware"
)

func Register(r *gin.Engine, secret string, svc controllers.ChatService, limiter *middleware.RateLimiter, guard *middleware.ConcurrencyGuard, log *zap.Logger) {
	r.GET("/ws/sessions/:session_id", controllers.ChatWS(secret, svc, limiter, guard, log))
}
