package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/database"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns nil, nil when the user does not exist.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, `
		SELECT id, username, rating, wins, losses, matches_played,
		       win_streak, max_win_streak, skill_level, token_version
		FROM users
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ApplyMatchResult updates rating and match statistics in a single
// statement. Right-hand columns read the pre-update row.
func (r *UserRepository) ApplyMatchResult(ctx context.Context, o models.MatchOutcome) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET rating = rating + $2,
		    wins = wins + CASE WHEN $3 THEN 1 ELSE 0 END,
		    losses = losses + CASE WHEN $3 THEN 0 ELSE 1 END,
		    matches_played = matches_played + 1,
		    win_streak = CASE WHEN $3 THEN win_streak + 1 ELSE 0 END,
		    max_win_streak = GREATEST(max_win_streak, CASE WHEN $3 THEN win_streak + 1 ELSE 0 END),
		    skill_level = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, o.UserID, o.RatingChange, o.Won, o.NewSkill)
	if err != nil {
		return fmt.Errorf("failed to apply match result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", o.UserID)
	}
	return nil
}
