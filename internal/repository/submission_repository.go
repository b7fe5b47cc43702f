package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/database"
)

type SubmissionRepository struct {
	db *database.DB
}

func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create appends a graded submission. Records are never updated.
func (r *SubmissionRepository) Create(ctx context.Context, s *models.Submission) error {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO submissions (
			id, user_id, question_id, match_id, contest_id, code, language, status,
			passed_test_cases, total_test_cases, execution_time_ms, failed_test_case, score
		) VALUES (
			:id, :user_id, :question_id, :match_id, :contest_id, :code, :language, :status,
			:passed_test_cases, :total_test_cases, :execution_time_ms, :failed_test_case, :score
		)
		RETURNING created_at
	`, s)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&s.CreatedAt); err != nil {
			return fmt.Errorf("failed to read submission timestamp: %w", err)
		}
	}
	return rows.Err()
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	s := &models.Submission{}
	err := r.db.GetContext(ctx, s, `
		SELECT id, user_id, question_id, match_id, contest_id, code, language, status,
		       passed_test_cases, total_test_cases, execution_time_ms, failed_test_case,
		       score, created_at
		FROM submissions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return s, nil
}
