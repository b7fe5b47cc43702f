package models

import "time"

type SubmissionStatus string

const (
	SubmissionStatusPending           SubmissionStatus = "PENDING"
	SubmissionStatusAccepted          SubmissionStatus = "ACCEPTED"
	SubmissionStatusWrongAnswer       SubmissionStatus = "WRONG_ANSWER"
	SubmissionStatusRuntimeError      SubmissionStatus = "RUNTIME_ERROR"
	SubmissionStatusTimeLimitExceeded SubmissionStatus = "TIME_LIMIT_EXCEEDED"
)

type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
)

var allowedLanguages = map[Language]bool{
	LanguagePython:     true,
	LanguageJavaScript: true,
	LanguageJava:       true,
	LanguageC:          true,
	LanguageCPP:        true,
}

func (l Language) Valid() bool {
	return allowedLanguages[l]
}

// Submission is the append-only record of one graded attempt.
type Submission struct {
	ID              string           `json:"id" db:"id"`
	UserID          string           `json:"userId" db:"user_id"`
	QuestionID      string           `json:"questionId" db:"question_id"`
	MatchID         *string          `json:"matchId,omitempty" db:"match_id"`
	ContestID       *string          `json:"contestId,omitempty" db:"contest_id"`
	Code            string           `json:"code" db:"code"`
	Language        Language         `json:"language" db:"language"`
	Status          SubmissionStatus `json:"status" db:"status"`
	PassedTestCases int              `json:"passedTestCases" db:"passed_test_cases"`
	TotalTestCases  int              `json:"totalTestCases" db:"total_test_cases"`
	ExecutionTimeMs int              `json:"executionTime" db:"execution_time_ms"`
	FailedTestCase  *int             `json:"failedTestCase,omitempty" db:"failed_test_case"`
	Score           int              `json:"score" db:"score"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

type SubmitRequest struct {
	MatchID    string   `json:"matchId"`
	ContestID  string   `json:"contestId"`
	QuestionID string   `json:"questionId" binding:"required"`
	Code       string   `json:"code" binding:"required"`
	Language   Language `json:"language" binding:"required"`
	UserID     string   `json:"-"`
}

type RunRequest struct {
	Code     string   `json:"code" binding:"required"`
	Language Language `json:"language" binding:"required"`
	Input    string   `json:"input"`
	MatchID  string   `json:"-"`
	UserID   string   `json:"-"`
}

// SubmissionTicket is returned while grading is still in flight.
type SubmissionTicket struct {
	SubmissionID string           `json:"submissionId"`
	Status       SubmissionStatus `json:"status"`
}

// SubmissionJob is one execution of the submitted code against one input.
type SubmissionJob struct {
	Code          string        `json:"code"`
	Language      Language      `json:"language"`
	Input         string        `json:"input"`
	TimeoutBudget time.Duration `json:"timeoutBudget"`
	TaskID        string        `json:"taskId"`
	SubmitterID   string        `json:"submitterId"`
}

// ExecutionResult is what the sandbox reported for one job.
type ExecutionResult struct {
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int    `json:"executionTime,omitempty"`
	MemoryKb        int    `json:"memory,omitempty"`
}
