package server

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "github.com/matchpulse/matchpulse/internal/errors"
	"github.com/matchpulse/matchpulse/internal/hub"
	"github.com/matchpulse/matchpulse/internal/metrics"
)

const maxProducerBodySize = 64 * 1024

// pushResponse reports how many connections a producer push reached.
// Individual delivery failures never surface here; best-effort fanout
// only returns a count.
type pushResponse struct {
	Delivered int `json:"delivered"`
}

// requireProducerToken guards the push API with the shared producer token.
func (s *Server) requireProducerToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ProducerAPIToken)) != 1 {
			return s.errorResponse(c, apperrors.UnauthorizedError("invalid producer token"))
		}
		return next(c)
	}
}

// handlePushMatchEvent stores the new match state and fans a match_update
// out to the match channel.
func (s *Server) handlePushMatchEvent(c echo.Context) error {
	matchID := c.Param("matchId")
	payload, err := s.readPayload(c)
	if err != nil {
		metrics.ProducerPushesTotal.WithLabelValues("match_update", "invalid").Inc()
		return s.errorResponse(c, err)
	}

	if s.matchStates != nil {
		if storeErr := s.matchStates.SetMatchState(c.Request().Context(), matchID, payload); storeErr != nil {
			// The broadcast still goes out; only the snapshot for future
			// subscribers is stale.
			slog.Error("Failed to store match state", "match_id", matchID, "error", storeErr)
		}
	}

	count := s.hub.BroadcastToChannel(hub.MatchChannel(matchID), hub.Message{
		Type: hub.MsgMatchUpdate,
		Data: json.RawMessage(payload),
	}, uuid.Nil)

	metrics.ProducerPushesTotal.WithLabelValues("match_update", "ok").Inc()
	return c.JSON(http.StatusOK, pushResponse{Delivered: count})
}

// handlePushComment fans a comment_added out to the article's comment channel.
func (s *Server) handlePushComment(c echo.Context) error {
	articleID := c.Param("articleId")
	payload, err := s.readPayload(c)
	if err != nil {
		metrics.ProducerPushesTotal.WithLabelValues("comment_added", "invalid").Inc()
		return s.errorResponse(c, err)
	}

	count := s.hub.BroadcastToChannel(hub.CommentsChannel(articleID), hub.Message{
		Type: hub.MsgCommentAdded,
		Data: json.RawMessage(payload),
	}, uuid.Nil)

	metrics.ProducerPushesTotal.WithLabelValues("comment_added", "ok").Inc()
	return c.JSON(http.StatusOK, pushResponse{Delivered: count})
}

// handlePushNotification delivers a notification to every connection the
// target user currently holds.
func (s *Server) handlePushNotification(c echo.Context) error {
	userID := c.Param("userId")
	payload, err := s.readPayload(c)
	if err != nil {
		metrics.ProducerPushesTotal.WithLabelValues("notification", "invalid").Inc()
		return s.errorResponse(c, err)
	}

	count := s.hub.PushToUser(userID, hub.Message{
		Type: hub.MsgNotification,
		Data: json.RawMessage(payload),
	})

	metrics.ProducerPushesTotal.WithLabelValues("notification", "ok").Inc()
	return c.JSON(http.StatusOK, pushResponse{Delivered: count})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Stats())
}

// readPayload reads and validates the producer request body as JSON.
func (s *Server) readPayload(c echo.Context) (json.RawMessage, *apperrors.Error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxProducerBodySize))
	if err != nil {
		return nil, apperrors.ValidationError("failed to read request body")
	}
	if len(body) == 0 || !json.Valid(body) {
		return nil, apperrors.ValidationError("request body must be valid JSON")
	}
	return body, nil
}

func (s *Server) errorResponse(c echo.Context, err *apperrors.Error) error {
	return c.JSON(err.HTTPStatus(), err.ToResponse())
}
