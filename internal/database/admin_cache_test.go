package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdminRepo struct {
	admins map[string]bool
	err    error
	calls  int
}

func (f *fakeAdminRepo) IsAdmin(_ context.Context, userID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func TestAdminCache_CachesLookups(t *testing.T) {
	repo := &fakeAdminRepo{admins: map[string]bool{"u-admin": true}}
	cache := NewAdminCache(repo, time.Minute, clockwork.NewFakeClock())

	isAdmin, err := cache.IsAdmin(context.Background(), "u-admin")
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = cache.IsAdmin(context.Background(), "u-admin")
	require.NoError(t, err)
	assert.True(t, isAdmin)
	assert.Equal(t, 1, repo.calls, "second lookup must be served from cache")

	isAdmin, err = cache.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, isAdmin)
	assert.Equal(t, 2, repo.calls)
}

func TestAdminCache_TTLExpiry(t *testing.T) {
	repo := &fakeAdminRepo{admins: map[string]bool{"u-admin": true}}
	clock := clockwork.NewFakeClock()
	cache := NewAdminCache(repo, time.Minute, clock)

	_, err := cache.IsAdmin(context.Background(), "u-admin")
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	clock.Advance(2 * time.Minute)

	// Role was revoked in the meantime; the expired entry must not mask it.
	repo.admins["u-admin"] = false
	isAdmin, err := cache.IsAdmin(context.Background(), "u-admin")
	require.NoError(t, err)
	assert.False(t, isAdmin)
	assert.Equal(t, 2, repo.calls)
}

func TestAdminCache_LookupErrorNotCached(t *testing.T) {
	repo := &fakeAdminRepo{err: errors.New("connection refused")}
	cache := NewAdminCache(repo, time.Minute, clockwork.NewFakeClock())

	isAdmin, err := cache.IsAdmin(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, isAdmin, "an outage must never grant admin access")

	// The failure is retried, not cached.
	repo.err = nil
	repo.admins = map[string]bool{"u1": true}
	isAdmin, err = cache.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestAdminCache_Invalidate(t *testing.T) {
	repo := &fakeAdminRepo{admins: map[string]bool{"u1": false}}
	cache := NewAdminCache(repo, time.Minute, clockwork.NewFakeClock())

	_, err := cache.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)

	repo.admins["u1"] = true
	cache.Invalidate("u1")

	isAdmin, err := cache.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, isAdmin)
	assert.Equal(t, 2, repo.calls)
}

func TestAdminCache_EvictExpired(t *testing.T) {
	repo := &fakeAdminRepo{admins: map[string]bool{"u1": true, "u2": false}}
	clock := clockwork.NewFakeClock()
	cache := NewAdminCache(repo, time.Minute, clock)

	_, _ = cache.IsAdmin(context.Background(), "u1")
	clock.Advance(30 * time.Second)
	_, _ = cache.IsAdmin(context.Background(), "u2")

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, cache.EvictExpired(), "only the older entry has expired")
	assert.Equal(t, 0, cache.EvictExpired())
}
