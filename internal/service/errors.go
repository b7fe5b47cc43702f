package service

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("resource not found")
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// Matchmaking
var (
	ErrInvalidMode     = errors.New("invalid match mode")
	ErrAlreadyInMatch  = errors.New("player already has an active match")
	ErrTicketNotQueued = errors.New("player is not queued")
)

// Match lifecycle
var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrNotParticipant     = errors.New("user is not a participant of this match")
	ErrMatchNotOngoing    = errors.New("match is not ongoing")
	ErrPlayersNotJoined   = errors.New("waiting for all players to join")
	ErrNotEnoughQuestions = errors.New("not enough questions to build a problem set")
)

// Grading
var (
	ErrInvalidLanguage        = errors.New("unsupported language")
	ErrQuestionNotFound       = errors.New("question not found")
	ErrQuestionNotInMatch     = errors.New("question is not part of this match")
	ErrQuestionHasNoTestCases = errors.New("question has no test cases")
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrExecutionFailed        = errors.New("execution failed")
	ErrExecutionTimeout       = errors.New("execution result not received in time")
	ErrExecutionBacklog       = errors.New("no worker picked up the job in time")
)
