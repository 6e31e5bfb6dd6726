// Package server exposes the hub over HTTP: the WebSocket accept path, the
// producer push API, and the observability endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/matchpulse/matchpulse/internal/auth"
	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/hub"
)

// adminChecker answers role lookups during connection setup.
type adminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// matchStateWriter persists the latest match state pushed by producers.
type matchStateWriter interface {
	SetMatchState(ctx context.Context, matchID string, state json.RawMessage) error
}

// postgresHealthChecker is a minimal interface for PostgreSQL health checks.
type postgresHealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo        *echo.Echo
	cfg         *config.Config
	clock       clockwork.Clock
	hub         *hub.Hub
	verifier    *auth.Verifier
	admins      adminChecker
	matchStates matchStateWriter
	limits      *ConnectionLimits
	redisClient *goredis.Client
	db          postgresHealthChecker
	startTime   time.Time
}

func New(cfg *config.Config, clock clockwork.Clock, h *hub.Hub, verifier *auth.Verifier, admins adminChecker, matchStates matchStateWriter, redisClient *goredis.Client, db postgresHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		cfg:         cfg,
		clock:       clock,
		hub:         h,
		verifier:    verifier,
		admins:      admins,
		matchStates: matchStates,
		limits:      NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		redisClient: redisClient,
		db:          db,
		startTime:   clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.cfg.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
