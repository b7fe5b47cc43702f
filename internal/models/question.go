package models

import "time"

type Question struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Rating      int        `json:"rating" db:"rating"`
	TimeLimitMs int        `json:"timeLimitMs" db:"time_limit_ms"`
	TestCases   []TestCase `json:"testCases,omitempty" db:"-"`
}

func (q *Question) TimeBudget() time.Duration {
	return time.Duration(q.TimeLimitMs) * time.Millisecond
}

type TestCase struct {
	Ordinal  int    `json:"ordinal" db:"ordinal"`
	Input    string `json:"input" db:"input"`
	Output   string `json:"output" db:"output"`
	IsHidden bool   `json:"isHidden" db:"is_hidden"`
	Score    int    `json:"score" db:"score"`
}
