package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matchpulse/matchpulse/internal/metrics"
)

// inboundHandler processes one decoded frame for a connection. Handlers run
// on the hub goroutine and must not block; anything slow (like fetching a
// match snapshot) is handed off to a goroutine that re-enters through the
// public API.
type inboundHandler func(h *Hub, conn *connection, data json.RawMessage)

// The closed set of inbound message types. An unlisted type is answered
// with UNKNOWN_MESSAGE_TYPE and the connection stays open.
var inboundHandlers = map[string]inboundHandler{
	MsgJoinChannel:       handleJoinChannel,
	MsgLeaveChannel:      handleLeaveChannel,
	MsgPing:              handlePing,
	MsgSubscribeMatch:    handleSubscribeMatch,
	MsgSubscribeComments: handleSubscribeComments,
	MsgSendTyping:        handleSendTyping,
}

// handleInbound parses and dispatches one raw frame. No handler failure may
// escape the dispatch boundary: malformed frames, unknown types, and handler
// panics all become error replies, so a single bad message never kills the
// connection or the hub.
func (h *Hub) handleInbound(id uuid.UUID, raw []byte) {
	conn, ok := h.conns[id]
	if !ok || conn.state != stateOpen {
		// Frames after Closed (or before Open) are dropped.
		return
	}

	conn.lastActivity = h.clock.Now()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		metrics.HubMessagesReceived.WithLabelValues("malformed").Inc()
		h.sendError(conn, ErrCodeInvalidFormat, "message is not a valid frame")
		return
	}

	handler, ok := inboundHandlers[env.Type]
	if !ok {
		metrics.HubMessagesReceived.WithLabelValues("unknown").Inc()
		h.sendError(conn, ErrCodeUnknownType, "unknown message type: "+env.Type)
		return
	}
	metrics.HubMessagesReceived.WithLabelValues(env.Type).Inc()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Handler panic recovered",
				"message_type", env.Type,
				"connection_id", conn.id.String(),
				"panic", r,
			)
			h.sendError(conn, ErrCodeProcessingFailure, "failed to process message")
		}
	}()
	handler(h, conn, env.Data)
}

func (h *Hub) sendError(conn *connection, code, message string) {
	metrics.HubErrorsSent.WithLabelValues(code).Inc()
	h.send(conn, Message{Type: MsgError, Data: errorData{Code: code, Message: message}})
}

// join runs the access policy and, on success, updates the channel index and
// replies channel_joined. Joining a channel twice succeeds without duplicate
// side effects. Identified users joining a comments channel are announced to
// the existing members.
func (h *Hub) join(conn *connection, channel string) {
	isAdmin := func(string) bool { return conn.identity.Admin }
	if !CanAccess(conn.identity.UserID, channel, isAdmin) {
		h.sendError(conn, ErrCodeAccessDenied, "access to channel denied: "+channel)
		return
	}

	joined := h.joinChannel(conn, channel)
	h.send(conn, Message{Type: MsgChannelJoined, Data: channelJoinedData{Channel: channel}})

	if joined && conn.identity.Authenticated() && strings.HasPrefix(channel, classComments+":") {
		h.broadcastLocal(channel, Message{
			Type: MsgUserJoined,
			Data: userJoinedData{UserID: conn.identity.UserID, Channel: channel},
		}, conn.id)
	}
}

// broadcastLocal is the in-goroutine variant of BroadcastToChannel, used by
// handlers that already run on the hub goroutine.
func (h *Hub) broadcastLocal(channel string, msg Message, exclude uuid.UUID) int {
	msg.Channel = channel
	frame, err := msg.encode(h.clock.Now())
	if err != nil {
		slog.Error("Failed to encode broadcast message", "type", msg.Type, "channel", channel, "error", err)
		return 0
	}
	return h.handleBroadcast(channel, frame, exclude)
}

func handleJoinChannel(h *Hub, conn *connection, data json.RawMessage) {
	var payload joinChannelData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Channel == "" {
		h.sendError(conn, ErrCodeInvalidFormat, "join_channel requires a channel")
		return
	}
	h.join(conn, payload.Channel)
}

func handleLeaveChannel(h *Hub, conn *connection, data json.RawMessage) {
	var payload leaveChannelData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Channel == "" {
		h.sendError(conn, ErrCodeInvalidFormat, "leave_channel requires a channel")
		return
	}

	// Leaving a channel you are not in is a no-op, not an error.
	h.leaveChannel(conn, payload.Channel)
	h.send(conn, Message{Type: MsgChannelLeft, Data: channelLeftData{Channel: payload.Channel}})
}

func handlePing(h *Hub, conn *connection, _ json.RawMessage) {
	h.send(conn, Message{
		Type: MsgPong,
		Data: pongData{ServerTime: h.clock.Now().UTC().Format(time.RFC3339)},
	})
}

// handleSubscribeMatch is sugar for joining match:<id> plus an immediate
// snapshot push of the current match state. The snapshot fetch happens off
// the hub goroutine and re-enters via SendToConnection, so a slow provider
// cannot stall dispatch.
func handleSubscribeMatch(h *Hub, conn *connection, data json.RawMessage) {
	var payload subscribeMatchData
	if err := json.Unmarshal(data, &payload); err != nil || payload.MatchID == "" {
		h.sendError(conn, ErrCodeInvalidFormat, "subscribe_match requires a matchId")
		return
	}

	channel := MatchChannel(payload.MatchID)
	h.join(conn, channel)

	if h.matchStates == nil {
		return
	}
	connID := conn.id
	matchID := payload.MatchID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), matchStateTimeout)
		defer cancel()

		state, err := h.matchStates.MatchState(ctx, matchID)
		if err != nil {
			slog.Warn("Failed to fetch match state snapshot", "match_id", matchID, "error", err)
			return
		}
		if state == nil {
			return
		}
		h.SendToConnection(connID, Message{Type: MsgMatchState, Channel: channel, Data: state})
	}()
}

func handleSubscribeComments(h *Hub, conn *connection, data json.RawMessage) {
	var payload subscribeCommentsData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ArticleID == "" {
		h.sendError(conn, ErrCodeInvalidFormat, "subscribe_comments requires an articleId")
		return
	}
	h.join(conn, CommentsChannel(payload.ArticleID))
}

// handleSendTyping relays a typing indicator to everyone else on the
// article's comment channel. Requires a resolved identity.
func handleSendTyping(h *Hub, conn *connection, data json.RawMessage) {
	if !conn.identity.Authenticated() {
		h.sendError(conn, ErrCodeAccessDenied, "send_typing requires authentication")
		return
	}

	var payload sendTypingData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ArticleID == "" {
		h.sendError(conn, ErrCodeInvalidFormat, "send_typing requires an articleId")
		return
	}

	h.broadcastLocal(CommentsChannel(payload.ArticleID), Message{
		Type: MsgUserTyping,
		Data: userTypingData{
			UserID:    conn.identity.UserID,
			ArticleID: payload.ArticleID,
			IsTyping:  payload.IsTyping,
		},
	}, conn.id)
}
