package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket accept path (identity is optional, limits are not)
	s.echo.GET("/ws", s.handleWebSocket)

	// Producer push API, called by the news/match/comment services
	api := s.echo.Group("/api", s.requireProducerToken)
	api.POST("/matches/:matchId/events", s.handlePushMatchEvent)
	api.POST("/articles/:articleId/comments", s.handlePushComment)
	api.POST("/users/:userId/notifications", s.handlePushNotification)
	api.GET("/stats", s.handleStats)
}
