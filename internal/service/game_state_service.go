package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
)

// GameStateService owns the ephemeral per-match progress of both players.
type GameStateService struct {
	store  GameStateStore
	logger *zap.Logger
	now    func() time.Time
}

func NewGameStateService(store GameStateStore, logger *zap.Logger) *GameStateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameStateService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *GameStateService) Init(ctx context.Context, matchID string, playerIDs []string) error {
	return s.store.Init(ctx, matchID, playerIDs)
}

// RecordSolve is idempotent per (match, player, problem).
func (s *GameStateService) RecordSolve(ctx context.Context, matchID, playerID, problemID string) (*models.PlayerMatchState, bool, error) {
	state, changed, err := s.store.RecordSolve(ctx, matchID, playerID, problemID, s.now())
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.logger.Info("Problem solved",
			zap.String("match_id", matchID),
			zap.String("player_id", playerID),
			zap.String("problem_id", problemID),
			zap.Int("problems_solved", state.ProblemsSolved))
	}
	return state, changed, nil
}

func (s *GameStateService) Read(ctx context.Context, matchID string) ([]models.PlayerMatchState, error) {
	return s.store.Read(ctx, matchID)
}

// Snapshot builds the game_start / game_state payload for match.
func (s *GameStateService) Snapshot(ctx context.Context, match *models.Match) (*models.GameStatePayload, error) {
	states, err := s.store.Read(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	return &models.GameStatePayload{
		Problems:  match.ProblemIDs,
		GameState: states,
	}, nil
}

func (s *GameStateService) Teardown(ctx context.Context, matchID string) error {
	return s.store.Teardown(ctx, matchID)
}
