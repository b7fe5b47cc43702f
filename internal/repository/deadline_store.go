package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
)

const deadlinesKey = "match:deadlines"

// RedisDeadlineStore keeps match deadlines in one sorted set scored by due
// time in unix milliseconds, so any instance can fire them.
type RedisDeadlineStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisDeadlineStore(client *redis.Client, logger *zap.Logger) *RedisDeadlineStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDeadlineStore{client: client, logger: logger}
}

func deadlineMember(d models.Deadline) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal deadline: %w", err)
	}
	return string(data), nil
}

func (s *RedisDeadlineStore) Schedule(ctx context.Context, d models.Deadline) error {
	member, err := deadlineMember(d)
	if err != nil {
		return err
	}
	if err := s.client.ZAdd(ctx, deadlinesKey, redis.Z{
		Score:  float64(d.DueAt.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule deadline: %w", err)
	}
	return nil
}

// Claim removes d and reports whether this call was the one to remove it.
func (s *RedisDeadlineStore) Claim(ctx context.Context, d models.Deadline) (bool, error) {
	member, err := deadlineMember(d)
	if err != nil {
		return false, err
	}
	n, err := s.client.ZRem(ctx, deadlinesKey, member).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim deadline: %w", err)
	}
	return n == 1, nil
}

// Due returns up to limit deadlines due at or before now, earliest first.
// Corrupt members are dropped.
func (s *RedisDeadlineStore) Due(ctx context.Context, now time.Time, limit int) ([]models.Deadline, error) {
	entries, err := s.client.ZRangeByScoreWithScores(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due deadlines: %w", err)
	}

	due := make([]models.Deadline, 0, len(entries))
	for _, e := range entries {
		raw, _ := e.Member.(string)
		var d models.Deadline
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn("Dropping corrupt deadline", zap.String("member", raw), zap.Error(err))
			s.client.ZRem(ctx, deadlinesKey, raw)
			continue
		}
		d.DueAt = time.UnixMilli(int64(e.Score))
		due = append(due, d)
	}
	return due, nil
}

func (s *RedisDeadlineStore) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, deadlinesKey).Result()
}
