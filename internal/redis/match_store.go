package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const matchStateTTL = 6 * time.Hour

// MatchStateStore keeps the latest known state per match. Producers write
// the full state on every update; subscribers get it as the match_state
// snapshot right after joining a match channel.
type MatchStateStore struct {
	rdb *redis.Client
}

func NewMatchStateStore(rdb *redis.Client) *MatchStateStore {
	return &MatchStateStore{rdb: rdb}
}

func matchStateKey(matchID string) string {
	return "match:state:" + matchID
}

// MatchState returns the stored state for a match, or nil if none is known.
func (s *MatchStateStore) MatchState(ctx context.Context, matchID string) (json.RawMessage, error) {
	data, err := s.rdb.Get(ctx, matchStateKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read match state: %w", err)
	}
	return json.RawMessage(data), nil
}

// SetMatchState stores the current state for a match.
func (s *MatchStateStore) SetMatchState(ctx context.Context, matchID string, state json.RawMessage) error {
	if err := s.rdb.Set(ctx, matchStateKey(matchID), []byte(state), matchStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to store match state: %w", err)
	}
	return nil
}
