package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/database"
)

var ErrNotEnoughQuestions = errors.New("not enough questions in rating bands")

const problemsPerMatch = 3

// ratingBand bounds are inclusive.
type ratingBand struct {
	min, max int
}

var (
	overallBand = ratingBand{800, 2400}
	// one problem per band when a random draw does not ramp in difficulty
	fallbackBands = []ratingBand{
		{800, 1200},
		{1300, 1700},
		{1800, 2400},
	}
)

type QuestionRepository struct {
	db *database.DB
}

func NewQuestionRepository(db *database.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// PickForMatch draws three problems ordered by ascending rating.
func (r *QuestionRepository) PickForMatch(ctx context.Context) ([]models.Question, error) {
	var picked []models.Question
	if err := r.db.SelectContext(ctx, &picked, `
		SELECT id, title, description, rating, time_limit_ms
		FROM questions
		WHERE rating BETWEEN $1 AND $2
		ORDER BY random()
		LIMIT $3
	`, overallBand.min, overallBand.max, problemsPerMatch); err != nil {
		return nil, fmt.Errorf("failed to pick questions: %w", err)
	}

	sortByRating(picked)
	if len(picked) == problemsPerMatch && strictlyIncreasing(picked) {
		return picked, nil
	}

	picked = picked[:0]
	for _, band := range fallbackBands {
		q := models.Question{}
		err := r.db.GetContext(ctx, &q, `
			SELECT id, title, description, rating, time_limit_ms
			FROM questions
			WHERE rating BETWEEN $1 AND $2
			ORDER BY random()
			LIMIT 1
		`, band.min, band.max)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d-%d", ErrNotEnoughQuestions, band.min, band.max)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pick question: %w", err)
		}
		picked = append(picked, q)
	}

	return picked, nil
}

func (r *QuestionRepository) FindWithTestCases(ctx context.Context, id string) (*models.Question, error) {
	q := &models.Question{}
	err := r.db.GetContext(ctx, q, `
		SELECT id, title, description, rating, time_limit_ms
		FROM questions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find question: %w", err)
	}

	if err := r.db.SelectContext(ctx, &q.TestCases, `
		SELECT ordinal, input, output, is_hidden, score
		FROM test_cases
		WHERE question_id = $1
		ORDER BY ordinal
	`, id); err != nil {
		return nil, fmt.Errorf("failed to load test cases: %w", err)
	}

	return q, nil
}

func sortByRating(qs []models.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		return qs[i].Rating < qs[j].Rating
	})
}

func strictlyIncreasing(qs []models.Question) bool {
	for i := 1; i < len(qs); i++ {
		if qs[i].Rating <= qs[i-1].Rating {
			return false
		}
	}
	return true
}
