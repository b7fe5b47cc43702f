package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeclash/codeclash-backend/internal/models"
)

// Adds a problem to the player's solved set unless it is already there or
// the match state has been torn down. Returns {state, changed}.
var recordSolveScript = redis.NewScript(`
	local raw = redis.call('HGET', KEYS[1], ARGV[1])
	if not raw then
		return false
	end

	local state = cjson.decode(raw)
	local solved = state.solvedProblemIds
	if type(solved) ~= 'table' then
		solved = {}
	end
	for _, id in ipairs(solved) do
		if id == ARGV[2] then
			return {raw, 0}
		end
	end

	table.insert(solved, ARGV[2])
	state.solvedProblemIds = solved
	state.problemsSolved = #solved
	state.lastSubmissionAt = tonumber(ARGV[3])

	local encoded = cjson.encode(state)
	redis.call('HSET', KEYS[1], ARGV[1], encoded)
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return {encoded, 1}
`)

// playerStateRecord is the stored form; times are unix ms so the Lua side
// can write them.
type playerStateRecord struct {
	UserID           string   `json:"userId"`
	ProblemsSolved   int      `json:"problemsSolved"`
	SolvedProblemIDs []string `json:"solvedProblemIds"`
	LastSubmissionAt int64    `json:"lastSubmissionAt"`
}

func (r playerStateRecord) toModel() models.PlayerMatchState {
	s := models.PlayerMatchState{
		UserID:           r.UserID,
		ProblemsSolved:   r.ProblemsSolved,
		SolvedProblemIDs: r.SolvedProblemIDs,
	}
	if s.SolvedProblemIDs == nil {
		s.SolvedProblemIDs = []string{}
	}
	if r.LastSubmissionAt > 0 {
		at := time.UnixMilli(r.LastSubmissionAt)
		s.LastSubmissionAt = &at
	}
	return s
}

func decodePlayerState(raw []byte) (models.PlayerMatchState, error) {
	var rec playerStateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.PlayerMatchState{}, err
	}
	return rec.toModel(), nil
}

// RedisGameStateStore keeps per-match player progress in
// game:{matchId}:state, one hash field per player.
type RedisGameStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGameStateStore(client *redis.Client, ttl time.Duration) *RedisGameStateStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisGameStateStore{client: client, ttl: ttl}
}

func gameStateKey(matchID string) string {
	return fmt.Sprintf("game:%s:state", matchID)
}

func (s *RedisGameStateStore) Init(ctx context.Context, matchID string, playerIDs []string) error {
	key := gameStateKey(matchID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, id := range playerIDs {
		data, err := json.Marshal(playerStateRecord{
			UserID:           id,
			SolvedProblemIDs: []string{},
		})
		if err != nil {
			return fmt.Errorf("failed to marshal player state: %w", err)
		}
		pipe.HSet(ctx, key, id, data)
	}
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to init game state: %w", err)
	}
	return nil
}

func (s *RedisGameStateStore) RecordSolve(ctx context.Context, matchID, playerID, problemID string, at time.Time) (*models.PlayerMatchState, bool, error) {
	result, err := recordSolveScript.Run(ctx, s.client,
		[]string{gameStateKey(matchID)},
		playerID, problemID, at.UnixMilli(), s.ttl.Milliseconds(),
	).Slice()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to record solve: %w", err)
	}
	if len(result) != 2 {
		return nil, false, fmt.Errorf("unexpected record solve reply: %v", result)
	}

	raw, _ := result[0].(string)
	changed, _ := result[1].(int64)

	state, err := decodePlayerState([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal player state: %w", err)
	}
	return &state, changed == 1, nil
}

// Read returns every player's state sorted by user id. A missing match
// yields an empty slice.
func (s *RedisGameStateStore) Read(ctx context.Context, matchID string) ([]models.PlayerMatchState, error) {
	entries, err := s.client.HGetAll(ctx, gameStateKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read game state: %w", err)
	}

	states := make([]models.PlayerMatchState, 0, len(entries))
	for _, raw := range entries {
		state, err := decodePlayerState([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal player state: %w", err)
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID < states[j].UserID
	})
	return states, nil
}

func (s *RedisGameStateStore) Teardown(ctx context.Context, matchID string) error {
	if err := s.client.Del(ctx, gameStateKey(matchID)).Err(); err != nil {
		return fmt.Errorf("failed to tear down game state: %w", err)
	}
	return nil
}
