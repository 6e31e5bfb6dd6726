package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/matchpulse/matchpulse/internal/hub"
	"github.com/matchpulse/matchpulse/internal/metrics"
)

const maxInboundFrameSize = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin clients are expected (mobile apps, embeds)
	},
}

// handleWebSocket is the connection accept path: limits, identity
// resolution, upgrade, registration, then the read pump until the client
// goes away. An unverifiable credential yields an anonymous connection,
// never a rejection.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection refused", "ip", ip, "reason", reason)
		return c.String(http.StatusTooManyRequests, "connection limit reached")
	}
	defer s.limits.Release(ip)

	identity := s.resolveIdentity(c)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return c.String(http.StatusBadRequest, "websocket upgrade failed")
	}

	metadata := map[string]string{
		"remote_addr": ip,
		"user_agent":  c.Request().UserAgent(),
	}

	id, err := s.hub.Register(conn, identity, metadata)
	if err != nil {
		slog.Warn("Registration refused", "error", err)
		_ = conn.Close()
		return nil
	}

	// Read pump. The read deadline is refreshed on every frame and on every
	// pong (the hub installs the pong handler); when it expires or the
	// client closes, ReadMessage fails and the connection is unregistered.
	readWait := 2 * s.cfg.HeartbeatInterval
	conn.SetReadLimit(maxInboundFrameSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(s.clock.Now().Add(readWait))
		s.hub.HandleInbound(id, raw)
	}

	s.hub.Unregister(id)
	return nil
}

// resolveIdentity turns the optional credential into an identity. The token
// comes from the "token" query parameter or an Authorization bearer header.
func (s *Server) resolveIdentity(c echo.Context) hub.Identity {
	token := c.QueryParam("token")
	if token == "" {
		if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	claims, ok := s.verifier.Verify(token)
	if !ok {
		return hub.Identity{}
	}

	identity := hub.Identity{UserID: claims.UserID}
	if claims.Role == "admin" {
		identity.Admin = true
	} else if s.admins != nil {
		isAdmin, err := s.admins.IsAdmin(c.Request().Context(), claims.UserID)
		if err == nil {
			identity.Admin = isAdmin
		}
	}
	return identity
}
