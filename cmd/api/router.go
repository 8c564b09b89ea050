package api

import (
	"mailcore-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", h.Health)

		protected := api.Group("")
		protected.Use(delivery.AuthMiddleware(h.config.JWTSecret))
		{
			sync := protected.Group("/sync")
			{
				sync.POST("", h.emailHandler.Sync)
				sync.POST("/folder", h.emailHandler.SyncFolder)
				sync.POST("/reconcile", h.emailHandler.Reconcile)
				sync.GET("/runs", h.emailHandler.ListRuns)
			}

			protected.GET("/search", h.emailHandler.Search)
			protected.POST("/embeddings/backfill", h.emailHandler.Backfill)

			// Settings routes - Runtime configuration
			settings := protected.Group("/settings")
			{
				settings.GET("/ollama", h.settingsHandler.GetOllamaSettings)
				settings.PUT("/ollama", h.settingsHandler.UpdateOllamaSettings)
				settings.POST("/ollama/test", h.settingsHandler.TestOllamaConnection)
			}
		}
	}
}
