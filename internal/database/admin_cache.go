package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AdminChecker answers role lookups for the access policy.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// AdminCache memoizes role lookups with a TTL so that connection setup does
// not hit the database for every reconnecting client. Roles change rarely;
// a short TTL bounds the staleness window.
type AdminCache struct {
	mu      sync.RWMutex
	entries map[string]adminEntry
	repo    AdminChecker
	ttl     time.Duration
	clock   clockwork.Clock
}

type adminEntry struct {
	isAdmin   bool
	expiresAt time.Time
}

func NewAdminCache(repo AdminChecker, ttl time.Duration, clock clockwork.Clock) *AdminCache {
	return &AdminCache{
		entries: make(map[string]adminEntry),
		repo:    repo,
		ttl:     ttl,
		clock:   clock,
	}
}

// IsAdmin returns the cached role when fresh, falling back to the repository.
// Lookup failures are logged and treated as "not admin" so an outage can
// never grant access.
func (c *AdminCache) IsAdmin(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(entry.expiresAt) {
		return entry.isAdmin, nil
	}

	isAdmin, err := c.repo.IsAdmin(ctx, userID)
	if err != nil {
		slog.Warn("Admin role lookup failed", "user_id", userID, "error", err)
		return false, err
	}

	c.mu.Lock()
	c.entries[userID] = adminEntry{isAdmin: isAdmin, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()

	return isAdmin, nil
}

// Invalidate removes one user's cached role, e.g. after a role change.
func (c *AdminCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// EvictExpired removes stale entries and returns the count evicted.
func (c *AdminCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for userID, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, userID)
			evicted++
		}
	}
	return evicted
}

// StartEvictionTimer runs EvictExpired on an interval until the returned
// stop function is called.
func (c *AdminCache) StartEvictionTimer(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := c.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				c.EvictExpired()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
