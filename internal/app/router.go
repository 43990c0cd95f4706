package app

import (
	"lesson_player_backend/internal/middleware"
	"lesson_player_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.Check)
	}

	// 播放器接口，全部需要登录
	player := router.Group("/api/player")
	player.Use(middleware.AuthMiddleware())
	{
		courses := player.Group("/courses/:courseId")
		{
			courses.POST("/enter", c.player.Enter)
			courses.POST("/exit", c.player.Exit)
			courses.GET("/session", c.player.SessionState)
			courses.GET("/outline", c.player.Outline)

			courses.POST("/items/:itemId/activate", c.player.ActivateItem)
			courses.GET("/items/:itemId/neighbors", c.player.ItemNeighbors)
			courses.POST("/items/:itemId/complete", c.player.CompleteItem)

			courses.POST("/certificate/claim", c.certificate.Claim)
			courses.GET("/certificate/download", c.certificate.Download)
		}
	}
}
