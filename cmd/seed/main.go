// Command seed loads a starter problem set and two local players so a fresh
// database can host matches.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codeclash/codeclash-backend/internal/config"
	"github.com/codeclash/codeclash-backend/internal/migrations"
	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/database"
	"github.com/codeclash/codeclash-backend/pkg/logger"
)

var starterQuestions = []models.Question{
	{
		ID:          "sum-two",
		Title:       "Sum of Two",
		Description: "Read two integers and print their sum.",
		Rating:      800,
		TimeLimitMs: 1000,
		TestCases: []models.TestCase{
			{Ordinal: 1, Input: "1 2", Output: "3", Score: 50},
			{Ordinal: 2, Input: "-5 11", Output: "6", IsHidden: true, Score: 50},
		},
	},
	{
		ID:          "max-subarray",
		Title:       "Maximum Subarray",
		Description: "Given n and n integers, print the largest sum of a contiguous subarray.",
		Rating:      1400,
		TimeLimitMs: 2000,
		TestCases: []models.TestCase{
			{Ordinal: 1, Input: "5\n-2 1 -3 4 -1", Output: "4", Score: 30},
			{Ordinal: 2, Input: "3\n-1 -2 -3", Output: "-1", IsHidden: true, Score: 70},
		},
	},
	{
		ID:          "shortest-path",
		Title:       "Shortest Path",
		Description: "Given a weighted directed graph, print the distance from node 1 to node n or -1.",
		Rating:      2000,
		TimeLimitMs: 3000,
		TestCases: []models.TestCase{
			{Ordinal: 1, Input: "3 3\n1 2 4\n2 3 1\n1 3 7", Output: "5", Score: 40},
			{Ordinal: 2, Input: "2 0", Output: "-1", IsHidden: true, Score: 60},
		},
	},
}

var localPlayers = []string{"local-alice", "local-bob"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, q := range starterQuestions {
		if err := seedQuestion(ctx, db, q); err != nil {
			logger.Fatal("Failed to seed question", "id", q.ID, "error", err)
		}
		logger.Info("Question seeded", "id", q.ID, "rating", q.Rating, "testCases", len(q.TestCases))
	}

	for _, id := range localPlayers {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username)
			VALUES ($1, $1)
			ON CONFLICT (id) DO NOTHING
		`, id); err != nil {
			logger.Fatal("Failed to seed user", "id", id, "error", err)
		}
	}

	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM questions`); err != nil {
		logger.Fatal("Failed to verify questions", "error", err)
	}
	logger.Info("Seed complete", "questions", count, "players", len(localPlayers))
}

func seedQuestion(ctx context.Context, db *database.DB, q models.Question) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO questions (id, title, description, rating, time_limit_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    rating = EXCLUDED.rating,
		    time_limit_ms = EXCLUDED.time_limit_ms
	`, q.ID, q.Title, q.Description, q.Rating, q.TimeLimitMs); err != nil {
		return fmt.Errorf("failed to upsert question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_cases WHERE question_id = $1`, q.ID); err != nil {
		return fmt.Errorf("failed to clear test cases: %w", err)
	}
	for _, tc := range q.TestCases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO test_cases (question_id, ordinal, input, output, is_hidden, score)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, q.ID, tc.Ordinal, tc.Input, tc.Output, tc.IsHidden, tc.Score); err != nil {
			return fmt.Errorf("failed to insert test case %d: %w", tc.Ordinal, err)
		}
	}

	return tx.Commit()
}
