package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marks a player joined and reports whether all players are in. Returns -1
// when the tracker no longer exists or the user is not tracked.
var markJoinedScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
		return -1
	end
	redis.call('HSET', KEYS[1], ARGV[1], 'true')
	for _, v in ipairs(redis.call('HVALS', KEYS[1])) do
		if v ~= 'true' then
			return 0
		end
	end
	return 1
`)

// RedisPresenceStore tracks who has joined a pending match and who is
// currently disconnected from an ongoing one.
//
//	game:{matchId}:joined               hash user -> "true" | "false"
//	game:{matchId}:disconnect:{userId}  disconnect token with TTL
type RedisPresenceStore struct {
	client *redis.Client
}

func NewRedisPresenceStore(client *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{client: client}
}

func joinedKey(matchID string) string {
	return fmt.Sprintf("game:%s:joined", matchID)
}

func disconnectKey(matchID, userID string) string {
	return fmt.Sprintf("game:%s:disconnect:%s", matchID, userID)
}

func (s *RedisPresenceStore) InitJoin(ctx context.Context, matchID string, playerIDs []string, ttl time.Duration) error {
	key := joinedKey(matchID)

	values := make(map[string]interface{}, len(playerIDs))
	for _, id := range playerIDs {
		values[id] = "false"
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to init join tracker: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) MarkJoined(ctx context.Context, matchID, userID string) (bool, error) {
	result, err := markJoinedScript.Run(ctx, s.client, []string{joinedKey(matchID)}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark joined: %w", err)
	}
	return result == 1, nil
}

func (s *RedisPresenceStore) Joined(ctx context.Context, matchID string) (map[string]bool, error) {
	entries, err := s.client.HGetAll(ctx, joinedKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read join tracker: %w", err)
	}

	joined := make(map[string]bool, len(entries))
	for userID, v := range entries {
		joined[userID] = v == "true"
	}
	return joined, nil
}

func (s *RedisPresenceStore) ClearJoin(ctx context.Context, matchID string) error {
	if err := s.client.Del(ctx, joinedKey(matchID)).Err(); err != nil {
		return fmt.Errorf("failed to clear join tracker: %w", err)
	}
	return nil
}

// MarkDisconnected stores token as the current disconnect of userID. A
// later disconnect overwrites it.
func (s *RedisPresenceStore) MarkDisconnected(ctx context.Context, matchID, userID, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, disconnectKey(matchID, userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark disconnected: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) ClearDisconnected(ctx context.Context, matchID, userID string) error {
	if err := s.client.Del(ctx, disconnectKey(matchID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear disconnect marker: %w", err)
	}
	return nil
}

// DisconnectToken returns the token of the current disconnect, or "" when
// the player is connected.
func (s *RedisPresenceStore) DisconnectToken(ctx context.Context, matchID, userID string) (string, error) {
	token, err := s.client.Get(ctx, disconnectKey(matchID, userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read disconnect marker: %w", err)
	}
	return token, nil
}
