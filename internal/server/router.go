package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/companion-backend/internal/gateway"
	"github.com/yungbote/companion-backend/internal/handlers"
	"github.com/yungbote/companion-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware  *middleware.AuthMiddleware
	SessionHandler  *handlers.SessionHandler
	SettingsHandler *handlers.SettingsHandler
	Hub             *gateway.Hub
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Realtime channel
	protected.GET("/ws", cfg.Hub.ServeWS)
	// Session lifecycle
	api := protected.Group("/api")
	api.POST("/sessions", cfg.SessionHandler.Create)
	api.GET("/sessions/:id", cfg.SessionHandler.Get)
	api.GET("/sessions/:id/messages", cfg.SessionHandler.History)
	api.POST("/sessions/:id/model", cfg.SessionHandler.RefreshModel)
	// Global generation settings
	api.GET("/settings/generation", cfg.SettingsHandler.Get)
	api.PUT("/settings/generation", cfg.SettingsHandler.Update)

	return router
}
