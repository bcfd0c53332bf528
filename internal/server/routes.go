package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	if s.ginMode != "" {
		gin.SetMode(s.ginMode)
	}
	s.router = gin.New()

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	s.router.Use(s.rateLimitMiddleware())

	// Public routes (no auth)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/api/stats", s.getStatsData)
	s.router.GET("/api/events", s.streamEvents)

	// API routes (auth required)
	api := s.router.Group("/v1")
	api.Use(s.authenticateClient)
	{
		api.POST("/ask", s.ask)
		api.POST("/queue", s.enqueue)
		api.POST("/batch", s.batch)
		api.GET("/models", s.listModels)
		api.GET("/ratelimit", s.rateLimitStatus)
		api.DELETE("/ratelimit", s.resetLimitTracking)
		api.GET("/keys", s.listKeys)
		api.POST("/keys/:provider", s.addKey)
		api.POST("/keys/:provider/rotate", s.rotateKey)
		api.DELETE("/keys/:provider/:index", s.removeKey)
		api.GET("/cache", s.cacheStats)
		api.DELETE("/cache", s.clearCache)
		api.POST("/budget", s.shapeBudget)
		api.GET("/conversation", s.showConversation)
		api.DELETE("/conversation", s.clearConversation)
		api.POST("/conversation/summarize", s.summarizeConversation)
	}
}
