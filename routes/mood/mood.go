package mood

import (
	"github.com/gin-gonic/gin"

	"Companion/controllers"
)

func Register(g *gin.RouterGroup, j controllers.MoodTracker) {
	g.POST("/mood", controllers.TrackMood(j))
	g.GET("/mood/history", controllers.MoodHistory(j))
	g.GET("/mood/analytics", controllers.MoodAnalytics(j))
}
