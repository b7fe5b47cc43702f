package models

import "time"

// PlayerMatchState is the ephemeral per-player progress inside one match.
type PlayerMatchState struct {
	UserID           string     `json:"userId"`
	ProblemsSolved   int        `json:"problemsSolved"`
	SolvedProblemIDs []string   `json:"solvedProblems"`
	LastSubmissionAt *time.Time `json:"lastSubmission,omitempty"`
}

func (s *PlayerMatchState) HasSolved(problemID string) bool {
	for _, id := range s.SolvedProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}
