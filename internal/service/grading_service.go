package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
)

type GradingConfig struct {
	// RunTimeout bounds the wait for a sample run.
	RunTimeout time.Duration
	// RunTimeBudget is the sandbox time limit of a sample run.
	RunTimeBudget time.Duration
	// CaseTimeout bounds the wait for one graded test case.
	CaseTimeout time.Duration
}

// GradingService validates submissions and grades them in the background.
type GradingService struct {
	matches     MatchStore
	questions   QuestionStore
	submissions SubmissionStore
	runner      JobRunner
	gameState   *GameStateService
	wins        WinChecker
	notifier    Notifier
	logger      *zap.Logger
	cfg         GradingConfig

	newID func() string
	wg    sync.WaitGroup
}

func NewGradingService(
	matches MatchStore,
	questions QuestionStore,
	submissions SubmissionStore,
	runner JobRunner,
	gameState *GameStateService,
	wins WinChecker,
	notifier Notifier,
	cfg GradingConfig,
	logger *zap.Logger,
) *GradingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 15 * time.Second
	}
	if cfg.RunTimeBudget <= 0 {
		cfg.RunTimeBudget = 5 * time.Second
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = 60 * time.Second
	}

	return &GradingService{
		matches:     matches,
		questions:   questions,
		submissions: submissions,
		runner:      runner,
		gameState:   gameState,
		wins:        wins,
		notifier:    notifier,
		logger:      logger,
		cfg:         cfg,
		newID:       func() string { return uuid.New().String() },
	}
}

// RunSample executes code once against a custom input for a player of an
// ONGOING match. Nothing is persisted.
func (s *GradingService) RunSample(ctx context.Context, req models.RunRequest) (*models.ExecutionResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrInvalidInput
	}
	if !req.Language.Valid() {
		return nil, ErrInvalidLanguage
	}
	if _, err := s.ongoingMatch(ctx, req.MatchID, req.UserID); err != nil {
		return nil, err
	}

	return s.runner.Run(ctx, QueueRun, models.SubmissionJob{
		Code:          req.Code,
		Language:      req.Language,
		Input:         req.Input,
		TimeoutBudget: s.cfg.RunTimeBudget,
		TaskID:        s.newID(),
		SubmitterID:   req.UserID,
	}, s.cfg.RunTimeout)
}

// Submit validates the request and starts grading. The returned ticket is
// PENDING; the verdict arrives as a submission_result event.
func (s *GradingService) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmissionTicket, error) {
	if req.UserID == "" {
		return nil, ErrUnauthorized
	}
	if req.QuestionID == "" || strings.TrimSpace(req.Code) == "" {
		return nil, ErrInvalidInput
	}
	if !req.Language.Valid() {
		return nil, ErrInvalidLanguage
	}
	if req.MatchID == "" && req.ContestID == "" {
		return nil, ErrInvalidInput
	}

	var match *models.Match
	if req.MatchID != "" {
		m, err := s.ongoingMatch(ctx, req.MatchID, req.UserID)
		if err != nil {
			return nil, err
		}
		if !m.HasProblem(req.QuestionID) {
			return nil, ErrQuestionNotInMatch
		}
		match = m
	}

	question, err := s.questions.FindWithTestCases(ctx, req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}
	if question == nil {
		return nil, ErrQuestionNotFound
	}
	if len(question.TestCases) == 0 {
		return nil, ErrQuestionHasNoTestCases
	}

	id := s.newID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Grade(context.Background(), id, req, question, match); err != nil {
			s.logger.Error("Grading failed",
				zap.String("submission_id", id),
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
	}()

	return &models.SubmissionTicket{
		SubmissionID: id,
		Status:       models.SubmissionStatusPending,
	}, nil
}

// Grade runs the test cases in order and stops at the first failure. The
// record is persisted and pushed to the submitter whatever the verdict.
func (s *GradingService) Grade(ctx context.Context, id string, req models.SubmitRequest, question *models.Question, match *models.Match) (*models.Submission, error) {
	record := &models.Submission{
		ID:             id,
		UserID:         req.UserID,
		QuestionID:     question.ID,
		Code:           req.Code,
		Language:       req.Language,
		Status:         models.SubmissionStatusAccepted,
		TotalTestCases: len(question.TestCases),
	}
	if match != nil {
		record.MatchID = &match.ID
	}
	if req.ContestID != "" {
		contestID := req.ContestID
		record.ContestID = &contestID
	}

	budget := question.TimeBudget()
	totalTime, received := 0, 0

	for i, tc := range question.TestCases {
		result, err := s.runner.Run(ctx, QueueSubmit, models.SubmissionJob{
			Code:          req.Code,
			Language:      req.Language,
			Input:         tc.Input,
			TimeoutBudget: budget,
			TaskID:        s.newID(),
			SubmitterID:   req.UserID,
		}, s.cfg.CaseTimeout)

		if err != nil {
			record.Status = models.SubmissionStatusRuntimeError
			if errors.Is(err, ErrExecutionTimeout) {
				record.Status = models.SubmissionStatusTimeLimitExceeded
			}
			record.FailedTestCase = intPtr(i + 1)
			s.logger.Warn("Test case did not execute",
				zap.String("submission_id", id),
				zap.Int("case", i+1),
				zap.Error(err))
			break
		}

		received++
		totalTime += result.ExecutionTimeMs

		if result.Error != "" {
			record.Status = classifyExecutionError(result, budget)
			record.FailedTestCase = intPtr(i + 1)
			break
		}
		if strings.TrimSpace(result.Output) != strings.TrimSpace(tc.Output) {
			record.Status = models.SubmissionStatusWrongAnswer
			record.FailedTestCase = intPtr(i + 1)
			break
		}

		record.PassedTestCases++
		record.Score += tc.Score
	}

	if received > 0 {
		record.ExecutionTimeMs = totalTime / received
	}

	if err := s.submissions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}

	s.logger.Info("Submission graded",
		zap.String("submission_id", id),
		zap.String("user_id", req.UserID),
		zap.String("question_id", question.ID),
		zap.String("status", string(record.Status)),
		zap.Int("passed", record.PassedTestCases),
		zap.Int("total", record.TotalTestCases))

	s.notifier.Notify(ctx, []string{req.UserID}, models.EventSubmissionResult, record)

	if record.Status == models.SubmissionStatusAccepted && match != nil {
		if err := s.recordSolve(ctx, match, req.UserID, question.ID); err != nil {
			return record, err
		}
	}

	return record, nil
}

func (s *GradingService) recordSolve(ctx context.Context, match *models.Match, userID, questionID string) error {
	_, changed, err := s.gameState.RecordSolve(ctx, match.ID, userID, questionID)
	if err != nil {
		return fmt.Errorf("failed to record solve: %w", err)
	}
	if !changed {
		return nil
	}

	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventGameStateUpdate, models.GameStateUpdatePayload{
		UserID:    userID,
		ProblemID: questionID,
		Status:    models.SubmissionStatusAccepted,
	})

	return s.wins.CheckWin(ctx, match.ID, userID)
}

// GetSubmission returns the caller's own submission.
func (s *GradingService) GetSubmission(ctx context.Context, id, userID string) (*models.Submission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.UserID != userID {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

// Wait blocks until every in-flight grading goroutine has returned.
func (s *GradingService) Wait() {
	s.wg.Wait()
}

func (s *GradingService) ongoingMatch(ctx context.Context, matchID, userID string) (*models.Match, error) {
	if matchID == "" {
		return nil, ErrInvalidInput
	}
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if !match.HasPlayer(userID) {
		return nil, ErrNotParticipant
	}
	if match.Status != models.MatchStatusOngoing {
		return nil, ErrMatchNotOngoing
	}
	return match, nil
}

// classifyExecutionError tells a time limit apart from any other failure
// reported by the sandbox.
func classifyExecutionError(result *models.ExecutionResult, budget time.Duration) models.SubmissionStatus {
	msg := strings.ToLower(result.Error)
	if strings.Contains(msg, "timed out") || strings.Contains(msg, "time limit") || strings.Contains(msg, "timeout") {
		return models.SubmissionStatusTimeLimitExceeded
	}
	if budget > 0 && time.Duration(result.ExecutionTimeMs)*time.Millisecond >= budget {
		return models.SubmissionStatusTimeLimitExceeded
	}
	return models.SubmissionStatusRuntimeError
}

func intPtr(v int) *int {
	return &v
}
