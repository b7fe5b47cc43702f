package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
)

// Claims both tickets of KEYS[1] only when both are still queued, and
// drops both players from every other mode in KEYS[2..] in the same step,
// so a player can never be paired twice.
var claimPairScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 or redis.call('HEXISTS', KEYS[1], ARGV[2]) == 0 then
		return 0
	end
	for i = 1, #KEYS do
		redis.call('HDEL', KEYS[i], ARGV[1], ARGV[2])
	end
	return 1
`)

// RedisTicketPool keeps one hash per mode, field = player id, value = ticket
// JSON. A hash field per player makes re-enqueue a replace.
type RedisTicketPool struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisTicketPool(client *redis.Client, logger *zap.Logger) *RedisTicketPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTicketPool{client: client, logger: logger}
}

func poolKey(mode models.MatchMode) string {
	return fmt.Sprintf("matchmaking:%s", mode)
}

func (p *RedisTicketPool) Upsert(ctx context.Context, ticket *models.QueueTicket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	if err := p.client.HSet(ctx, poolKey(ticket.Mode), ticket.PlayerID, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue ticket: %w", err)
	}
	return nil
}

func (p *RedisTicketPool) Remove(ctx context.Context, mode models.MatchMode, playerID string) error {
	if err := p.client.HDel(ctx, poolKey(mode), playerID).Err(); err != nil {
		return fmt.Errorf("failed to remove ticket: %w", err)
	}
	return nil
}

func (p *RedisTicketPool) Get(ctx context.Context, mode models.MatchMode, playerID string) (*models.QueueTicket, error) {
	data, err := p.client.HGet(ctx, poolKey(mode), playerID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket: %w", err)
	}

	var ticket models.QueueTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &ticket, nil
}

// List returns every ticket queued in mode. Corrupt entries are skipped.
func (p *RedisTicketPool) List(ctx context.Context, mode models.MatchMode) ([]models.QueueTicket, error) {
	entries, err := p.client.HGetAll(ctx, poolKey(mode)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}

	tickets := make([]models.QueueTicket, 0, len(entries))
	for playerID, raw := range entries {
		var ticket models.QueueTicket
		if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
			p.logger.Warn("Skipping corrupt ticket",
				zap.String("player_id", playerID),
				zap.Error(err))
			continue
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// ClaimPair removes a and b from mode and from every other mode, atomically.
func (p *RedisTicketPool) ClaimPair(ctx context.Context, mode models.MatchMode, a, b string) (bool, error) {
	keys := []string{poolKey(mode)}
	for _, other := range models.MatchModes() {
		if other != mode {
			keys = append(keys, poolKey(other))
		}
	}

	claimed, err := claimPairScript.Run(ctx, p.client, keys, a, b).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim pair: %w", err)
	}
	return claimed == 1, nil
}
