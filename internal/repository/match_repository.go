package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/database"
)

type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Create inserts the match with its seats and ordered problem set in one
// transaction.
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO matches (id, mode, status, start_time)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, match.ID, match.Mode, match.Status, match.StartTime).Scan(&match.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	// seats and positions are 1-based array ordinals
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_players (match_id, user_id, seat)
		SELECT $1, p.user_id, p.seat
		FROM unnest($2::text[]) WITH ORDINALITY AS p(user_id, seat)
	`, match.ID, pq.Array(match.PlayerIDs())); err != nil {
		return fmt.Errorf("failed to seat players: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_questions (match_id, question_id, position)
		SELECT $1, q.question_id, q.position
		FROM unnest($2::text[]) WITH ORDINALITY AS q(question_id, position)
	`, match.ID, pq.Array(match.ProblemIDs)); err != nil {
		return fmt.Errorf("failed to attach problem set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match: %w", err)
	}
	return nil
}

func (r *MatchRepository) FindByID(ctx context.Context, id string) (*models.Match, error) {
	match := &models.Match{}
	err := r.db.GetContext(ctx, match, `
		SELECT id, mode, status, start_time, end_time, winner_id, aborted_by_id, created_at
		FROM matches
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}

	if err := r.db.SelectContext(ctx, &match.Players, `
		SELECT u.id, u.username, u.rating, mp.rating_change
		FROM match_players mp
		JOIN users u ON u.id = mp.user_id
		WHERE mp.match_id = $1
		ORDER BY mp.seat
	`, id); err != nil {
		return nil, fmt.Errorf("failed to load match players: %w", err)
	}

	if err := r.db.SelectContext(ctx, &match.ProblemIDs, `
		SELECT question_id
		FROM match_questions
		WHERE match_id = $1
		ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("failed to load problem set: %w", err)
	}

	return match, nil
}

func (r *MatchRepository) FindActiveByPlayer(ctx context.Context, userID string) (*models.Match, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `
		SELECT m.id
		FROM matches m
		JOIN match_players mp ON mp.match_id = m.id
		WHERE mp.user_id = $1
		  AND m.status IN ($2, $3)
		ORDER BY m.created_at DESC
		LIMIT 1
	`, userID, models.MatchStatusPendingJoin, models.MatchStatusOngoing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active match: %w", err)
	}

	return r.FindByID(ctx, id)
}

// TransitionStatus is a compare-and-set on status. Terminal targets also
// stamp end_time. Winner and aborter are only written when given.
func (r *MatchRepository) TransitionStatus(ctx context.Context, id string, t models.Transition) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = $3,
		    winner_id = COALESCE($4, winner_id),
		    aborted_by_id = COALESCE($5, aborted_by_id),
		    end_time = CASE WHEN $6 THEN NOW() ELSE end_time END
		WHERE id = $1 AND status = $2
	`, id, t.From, t.To, t.WinnerID, t.AbortedBy, t.To.IsTerminal())
	if err != nil {
		return false, fmt.Errorf("failed to transition match: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

func (r *MatchRepository) SaveRatingChanges(ctx context.Context, matchID string, changes map[string]int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for userID, change := range changes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE match_players
			SET rating_change = $3
			WHERE match_id = $1 AND user_id = $2
		`, matchID, userID, change); err != nil {
			return fmt.Errorf("failed to save rating change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating changes: %w", err)
	}
	return nil
}
