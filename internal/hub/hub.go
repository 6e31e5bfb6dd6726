// Package hub implements the real-time connection and channel-broadcast hub.
//
// A single goroutine owns the connection registry and the channel index and
// processes every mutation as a command, so the invariant "a connection id is
// in a channel's member set iff that channel is in the connection's set" holds
// by construction. Each connection additionally gets one writer goroutine with
// a bounded outbound buffer; a client that cannot keep up is disconnected
// rather than allowed to stall the rest.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/matchpulse/matchpulse/internal/metrics"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	matchStateTimeout = 5 * time.Second
)

// MatchStateProvider supplies the current state snapshot pushed to a client
// right after it subscribes to a match channel.
type MatchStateProvider interface {
	MatchState(ctx context.Context, matchID string) (json.RawMessage, error)
}

// Options tune the hub's timers and buffers. Zero values fall back to
// production defaults; tests shrink them to keep runs fast.
type Options struct {
	HeartbeatInterval time.Duration // ping probe per open connection
	CleanupInterval   time.Duration // dead/idle connection sweep
	IdleTimeout       time.Duration // lastActivity age that triggers eviction
	WriteTimeout      time.Duration // per-frame transport write deadline
	SendBufferSize    int           // outbound frames buffered per connection
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 60 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 32
	}
}

// Stats is the point-in-time view returned to producers and the stats API.
type Stats struct {
	TotalConnections         int            `json:"totalConnections"`
	AuthenticatedConnections int            `json:"authenticatedConnections"`
	TotalChannels            int            `json:"totalChannels"`
	Channels                 map[string]int `json:"channels"`
}

// --- Commands ---

type hubCmd interface{ hubCmd() }

type baseCmd struct{}

func (baseCmd) hubCmd() {}

type cmdRegister struct {
	baseCmd
	conn     *websocket.Conn
	identity Identity
	metadata map[string]string
	replyCh  chan uuid.UUID
}

type cmdUnregister struct {
	baseCmd
	id uuid.UUID
}

type cmdInbound struct {
	baseCmd
	id  uuid.UUID
	raw []byte
}

type cmdTouch struct {
	baseCmd
	id uuid.UUID
}

type cmdSend struct {
	baseCmd
	id      uuid.UUID
	frame   []byte
	replyCh chan bool
}

type cmdBroadcast struct {
	baseCmd
	channel string
	frame   []byte
	exclude uuid.UUID
	replyCh chan int
}

type cmdPushUser struct {
	baseCmd
	userID  string
	frame   []byte
	replyCh chan int
}

type cmdMembers struct {
	baseCmd
	channel string
	replyCh chan []uuid.UUID
}

type cmdStats struct {
	baseCmd
	replyCh chan Stats
}

type cmdStop struct{ baseCmd }

// --- Hub ---

// Hub is the single-process connection and broadcast hub. Construct it once
// at startup with New and inject it into the accept path and the producers.
type Hub struct {
	cmdCh       chan hubCmd
	clock       clockwork.Clock
	opts        Options
	matchStates MatchStateProvider

	// Owned by the run goroutine.
	conns    map[uuid.UUID]*connection
	channels map[string]map[uuid.UUID]struct{}

	done chan struct{}
}

// New creates the hub and starts its event loop.
func New(matchStates MatchStateProvider, clock clockwork.Clock, opts Options) *Hub {
	opts.withDefaults()
	h := &Hub{
		cmdCh:       make(chan hubCmd, 256),
		clock:       clock,
		opts:        opts,
		matchStates: matchStates,
		conns:       make(map[uuid.UUID]*connection),
		channels:    make(map[string]map[uuid.UUID]struct{}),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	heartbeat := h.clock.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	cleanup := h.clock.NewTicker(h.opts.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case cmdRegister:
				h.handleRegister(c)
			case cmdUnregister:
				h.handleRemove(c.id, "connection closed")
			case cmdInbound:
				h.handleInbound(c.id, c.raw)
			case cmdTouch:
				if conn, ok := h.conns[c.id]; ok {
					conn.lastActivity = h.clock.Now()
				}
			case cmdSend:
				c.replyCh <- h.handleSend(c.id, c.frame)
			case cmdBroadcast:
				c.replyCh <- h.handleBroadcast(c.channel, c.frame, c.exclude)
			case cmdPushUser:
				c.replyCh <- h.handlePushUser(c.userID, c.frame)
			case cmdMembers:
				c.replyCh <- h.handleMembers(c.channel)
			case cmdStats:
				c.replyCh <- h.handleStats()
			case cmdStop:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-heartbeat.Chan():
			h.handleHeartbeatTick()
		case <-cleanup.Chan():
			h.handleCleanupTick()
		}
	}
}

// --- Public API ---

// Register adds a freshly upgraded connection to the registry, sends the
// connection_established frame, and auto-subscribes authenticated users to
// their own user:<id> channel. It fails only while the hub is shutting down.
func (h *Hub) Register(conn *websocket.Conn, identity Identity, metadata map[string]string) (uuid.UUID, error) {
	replyCh := make(chan uuid.UUID, 1)
	cmd := cmdRegister{conn: conn, identity: identity, metadata: metadata, replyCh: replyCh}

	select {
	case h.cmdCh <- cmd:
	case <-h.done:
		return uuid.Nil, fmt.Errorf("hub is stopped")
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case id := <-replyCh:
		return id, nil
	case <-h.done:
		return uuid.Nil, fmt.Errorf("hub stopped during registration")
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection. This is the sole removal path: it prunes
// every channel membership and drops channels left empty.
func (h *Hub) Unregister(id uuid.UUID) {
	select {
	case h.cmdCh <- cmdUnregister{id: id}:
	case <-h.done:
	}
}

// HandleInbound feeds one raw frame from a connection's read loop into the
// dispatcher. Called from the per-connection reader goroutine.
func (h *Hub) HandleInbound(id uuid.UUID, raw []byte) {
	select {
	case h.cmdCh <- cmdInbound{id: id, raw: raw}:
	case <-h.done:
	}
}

// Touch refreshes a connection's lastActivity, e.g. on a heartbeat reply.
// Best-effort: dropping one touch under load is harmless.
func (h *Hub) Touch(id uuid.UUID) {
	select {
	case h.cmdCh <- cmdTouch{id: id}:
	default:
	}
}

// SendToConnection delivers one message to a single connection. A failed
// send means the transport is gone or the client is too slow; the connection
// is removed and false is returned.
func (h *Hub) SendToConnection(id uuid.UUID, msg Message) bool {
	frame, err := msg.encode(h.clock.Now())
	if err != nil {
		slog.Error("Failed to encode message", "type", msg.Type, "error", err)
		return false
	}

	replyCh := make(chan bool, 1)
	select {
	case h.cmdCh <- cmdSend{id: id, frame: frame, replyCh: replyCh}:
	case <-h.done:
		return false
	}
	select {
	case ok := <-replyCh:
		return ok
	case <-h.done:
		return false
	}
}

// BroadcastToChannel fans a message out to every current member of a channel
// except excludeID (pass uuid.Nil to exclude nobody). Delivery is best-effort
// and at-most-once per member; a failure on one member never delays or aborts
// the others. Returns the number of successful deliveries.
func (h *Hub) BroadcastToChannel(channel string, msg Message, excludeID uuid.UUID) int {
	msg.Channel = channel
	frame, err := msg.encode(h.clock.Now())
	if err != nil {
		slog.Error("Failed to encode broadcast message", "type", msg.Type, "channel", channel, "error", err)
		return 0
	}

	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdBroadcast{channel: channel, frame: frame, exclude: excludeID, replyCh: replyCh}:
	case <-h.done:
		return 0
	}
	select {
	case count := <-replyCh:
		return count
	case <-h.done:
		return 0
	}
}

// PushToUser delivers a message to every connection authenticated as userID.
// A user may hold several simultaneous connections; each send is independent.
func (h *Hub) PushToUser(userID string, msg Message) int {
	msg.UserID = userID
	frame, err := msg.encode(h.clock.Now())
	if err != nil {
		slog.Error("Failed to encode user push", "type", msg.Type, "user_id", userID, "error", err)
		return 0
	}

	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdPushUser{userID: userID, frame: frame, replyCh: replyCh}:
	case <-h.done:
		return 0
	}
	select {
	case count := <-replyCh:
		return count
	case <-h.done:
		return 0
	}
}

// MembersOf returns a point-in-time snapshot of a channel's member ids.
func (h *Hub) MembersOf(channel string) []uuid.UUID {
	replyCh := make(chan []uuid.UUID, 1)
	select {
	case h.cmdCh <- cmdMembers{channel: channel, replyCh: replyCh}:
	case <-h.done:
		return nil
	}
	select {
	case members := <-replyCh:
		return members
	case <-h.done:
		return nil
	}
}

// Stats returns a snapshot of connection and channel counts.
func (h *Hub) Stats() Stats {
	replyCh := make(chan Stats, 1)
	select {
	case h.cmdCh <- cmdStats{replyCh: replyCh}:
	case <-h.done:
		return Stats{Channels: map[string]int{}}
	}
	select {
	case stats := <-replyCh:
		return stats
	case <-h.done:
		return Stats{Channels: map[string]int{}}
	}
}

// Stop broadcasts server_shutdown to every open connection best-effort,
// closes all transports, and clears the registry and channel index. New
// registrations are refused once shutdown begins.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- cmdStop{}:
	case <-h.done:
		return
	}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

// --- Command handlers (run goroutine only) ---

func (h *Hub) handleRegister(c cmdRegister) {
	id := uuid.New()
	conn := &connection{
		id:           id,
		identity:     c.identity,
		metadata:     c.metadata,
		channels:     make(map[string]struct{}),
		lastActivity: h.clock.Now(),
		state:        stateConnecting,
		writer:       newClientWriter(c.conn, h.clock, h.opts.SendBufferSize, h.opts.WriteTimeout),
	}
	h.conns[id] = conn

	// Gauges move with the record, so a removal on any later failure path
	// always has a matching increment to undo.
	metrics.HubConnections.Set(float64(len(h.conns)))
	if conn.identity.Authenticated() {
		metrics.HubAuthenticatedConnections.Inc()
	}

	// Liveness on the read side: pongs refresh the read deadline and count
	// as activity. The read deadline covers two missed heartbeats.
	pongWait := 2 * h.opts.HeartbeatInterval
	_ = c.conn.SetReadDeadline(h.clock.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(h.clock.Now().Add(pongWait))
		h.Touch(id)
		return nil
	})

	if !h.send(conn, Message{
		Type: MsgConnectionEstablished,
		Data: connectionEstablishedData{ConnectionID: id.String(), UserID: conn.identity.UserID},
	}) {
		// The transport died during setup. handleRemove is a no-op when the
		// failed send already pruned the record.
		h.handleRemove(id, "setup send failed")
		c.replyCh <- id
		return
	}

	// The hub creates this channel itself, so the access policy is exempt
	// by construction.
	if conn.identity.Authenticated() {
		h.joinChannel(conn, UserChannel(conn.identity.UserID))
	}

	conn.state = stateOpen

	slog.Debug("Connection registered",
		"connection_id", id.String(),
		"user_id", conn.identity.UserID,
		"total_connections", len(h.conns),
	)
	c.replyCh <- id
}

// handleRemove is the single authoritative removal path. Every disconnect —
// client close, failed send, slow client, idle eviction, shutdown — ends
// here, which is what keeps the channel index free of stale back-references.
func (h *Hub) handleRemove(id uuid.UUID, reason string) {
	conn, ok := h.conns[id]
	if !ok {
		return
	}

	for channel := range conn.channels {
		if subs, ok := h.channels[channel]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
	}

	conn.state = stateClosed
	delete(h.conns, id)
	conn.writer.stop()

	metrics.HubConnections.Set(float64(len(h.conns)))
	metrics.HubChannels.Set(float64(len(h.channels)))
	if conn.identity.Authenticated() {
		metrics.HubAuthenticatedConnections.Dec()
	}

	slog.Debug("Connection removed",
		"connection_id", id.String(),
		"reason", reason,
		"total_connections", len(h.conns),
	)
}

// joinChannel links a connection and a channel on both sides. Idempotent:
// returns false if the connection was already a member.
func (h *Hub) joinChannel(conn *connection, channel string) bool {
	if conn.subscribed(channel) {
		return false
	}
	conn.channels[channel] = struct{}{}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		h.channels[channel] = subs
	}
	subs[conn.id] = struct{}{}
	metrics.HubChannels.Set(float64(len(h.channels)))
	return true
}

// leaveChannel unlinks a connection from a channel and drops the channel the
// moment its member set becomes empty. No-op for non-members.
func (h *Hub) leaveChannel(conn *connection, channel string) {
	if !conn.subscribed(channel) {
		return
	}
	delete(conn.channels, channel)
	if subs, ok := h.channels[channel]; ok {
		delete(subs, conn.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	metrics.HubChannels.Set(float64(len(h.channels)))
}

func (h *Hub) handleSend(id uuid.UUID, frame []byte) bool {
	conn, ok := h.conns[id]
	if !ok || conn.state != stateOpen {
		return false
	}
	if !conn.writer.enqueue(frame) {
		h.handleRemove(id, "send failed")
		return false
	}
	metrics.HubMessagesSent.Inc()
	return true
}

func (h *Hub) handleBroadcast(channel string, frame []byte, exclude uuid.UUID) int {
	start := h.clock.Now()
	metrics.HubBroadcastsTotal.Inc()

	count := 0
	var failed []uuid.UUID
	for id := range h.channels[channel] {
		if id == exclude {
			continue
		}
		conn := h.conns[id]
		if conn == nil || conn.state != stateOpen {
			continue
		}
		if conn.writer.enqueue(frame) {
			count++
		} else {
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		slog.Warn("Disconnecting unresponsive client during broadcast",
			"connection_id", id.String(), "channel", channel)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleRemove(id, "broadcast send failed")
	}

	metrics.HubBroadcastDeliveries.Add(float64(count))
	metrics.HubBroadcastDuration.Observe(h.clock.Since(start).Seconds())
	return count
}

func (h *Hub) handlePushUser(userID string, frame []byte) int {
	count := 0
	var failed []uuid.UUID
	for id, conn := range h.conns {
		if conn.identity.UserID != userID || conn.state != stateOpen {
			continue
		}
		if conn.writer.enqueue(frame) {
			count++
		} else {
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		metrics.HubSlowClientsEvicted.Inc()
		h.handleRemove(id, "user push send failed")
	}
	return count
}

func (h *Hub) handleMembers(channel string) []uuid.UUID {
	subs := h.channels[channel]
	members := make([]uuid.UUID, 0, len(subs))
	for id := range subs {
		members = append(members, id)
	}
	return members
}

func (h *Hub) handleStats() Stats {
	stats := Stats{
		TotalConnections: len(h.conns),
		TotalChannels:    len(h.channels),
		Channels:         make(map[string]int, len(h.channels)),
	}
	for _, conn := range h.conns {
		if conn.identity.Authenticated() {
			stats.AuthenticatedConnections++
		}
	}
	for channel, subs := range h.channels {
		stats.Channels[channel] = len(subs)
	}
	return stats
}

func (h *Hub) handleHeartbeatTick() {
	var failed []uuid.UUID
	for id, conn := range h.conns {
		if conn.state != stateOpen {
			continue
		}
		if !conn.writer.ping() {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		h.handleRemove(id, "heartbeat failed")
	}
}

func (h *Hub) handleCleanupTick() {
	now := h.clock.Now()
	var stale []uuid.UUID
	var reasons []string
	for id, conn := range h.conns {
		switch {
		case conn.writer.dead():
			stale = append(stale, id)
			reasons = append(reasons, "transport closed")
		case now.Sub(conn.lastActivity) > h.opts.IdleTimeout:
			stale = append(stale, id)
			reasons = append(reasons, "idle timeout")
		}
	}
	for i, id := range stale {
		if reasons[i] == "idle timeout" {
			metrics.HubIdleEvictions.Inc()
		}
		h.handleRemove(id, reasons[i])
	}
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "connections", len(h.conns), "channels", len(h.channels))

	shutdownFrame, err := Message{Type: MsgServerShutdown}.encode(h.clock.Now())
	if err != nil {
		shutdownFrame = nil
	}

	for id, conn := range h.conns {
		conn.state = stateClosed
		conn.writer.stopGraceful(shutdownFrame, "server shutting down")
		delete(h.conns, id)
	}
	for channel := range h.channels {
		delete(h.channels, channel)
	}

	metrics.HubConnections.Set(0)
	metrics.HubChannels.Set(0)
	slog.Info("Hub shutdown complete")
}

// send encodes and enqueues a reply on a connection's writer from inside the
// run goroutine. A failed enqueue removes the connection.
func (h *Hub) send(conn *connection, msg Message) bool {
	frame, err := msg.encode(h.clock.Now())
	if err != nil {
		slog.Error("Failed to encode message", "type", msg.Type, "error", err)
		return false
	}
	if !conn.writer.enqueue(frame) {
		h.handleRemove(conn.id, "reply send failed")
		return false
	}
	metrics.HubMessagesSent.Inc()
	return true
}
