package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery(log))
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		collections := v1.Group("/collections")
		{
			collections.POST("", handler.StartCollection)
			collections.GET("", handler.ListCollections)
			collections.GET("/:id", handler.GetCollection)
			collections.POST("/:id/stop", handler.StopCollection)
		}

		repos := v1.Group("/repos/:owner/:repo")
		{
			repos.GET("/stats", handler.GetRepoStats)
			repos.GET("/runs", handler.GetRepoRuns)
			repos.GET("/activity", handler.GetRepoActivity)
		}
	}

	return router
}
