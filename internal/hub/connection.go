package hub

import (
	"time"

	"github.com/google/uuid"
)

// connState is the per-connection lifecycle. Inbound frames are only
// processed in stateOpen; stateClosed is terminal.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

// Identity is the result of credential verification at connection setup.
// A zero Identity is an anonymous connection.
type Identity struct {
	UserID string
	Admin  bool
}

// Authenticated reports whether the identity resolved to a user.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// connection is the registry record for one live transport. It is owned
// exclusively by the hub goroutine; nothing outside the hub may touch it.
type connection struct {
	id           uuid.UUID
	identity     Identity
	metadata     map[string]string
	channels     map[string]struct{}
	lastActivity time.Time
	state        connState
	writer       *clientWriter
}

func (c *connection) subscribed(channel string) bool {
	_, ok := c.channels[channel]
	return ok
}
