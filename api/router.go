package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkui-x/request-task/api/handlers"
	"github.com/arkui-x/request-task/api/middleware"
	"github.com/arkui-x/request-task/internal/app"
	"github.com/arkui-x/request-task/pkg/logger"
)

// SetupRouter sets up the HTTP router
func SetupRouter(
	manager *app.TaskManager,
	scheduler *app.PollScheduler,
	hub *handlers.EventHub,
	logAdapter *logger.LoggerAdapter,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := logAdapter.Logger()
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(scheduler, hub)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		taskHandler := handlers.NewTaskHandler(manager, log)
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.Create)
			tasks.GET("/:id", taskHandler.Show)
			tasks.PUT("/:id", taskHandler.Report)
			tasks.DELETE("/:id", taskHandler.Remove)
			tasks.POST("/:id/start", taskHandler.Start)
			tasks.POST("/:id/pause", taskHandler.Pause)
			tasks.POST("/:id/resume", taskHandler.Resume)
			tasks.POST("/:id/stop", taskHandler.Stop)
			tasks.POST("/:id/touch", taskHandler.Touch)
			tasks.POST("/:id/purge", taskHandler.Purge)
			tasks.GET("/:id/mimetype", taskHandler.MimeType)
		}
		v1.POST("/search", taskHandler.Search)
		v1.GET("/storage/default-path", taskHandler.DefaultStoragePath)

		// Lifecycle events
		v1.GET("/events", hub.HandleWebSocket)

		// Log endpoints, only with category files
		if logsDir := logAdapter.LogsDir(); logsDir != "" {
			logHandler := handlers.NewLogHandler(logsDir)
			tasks.GET("/:id/history", logHandler.TaskHistory)

			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/export", logHandler.ExportLogs)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
