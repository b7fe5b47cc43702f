package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
)

// Queue names used by the grading pipeline.
const (
	QueueRun    = "run"
	QueueSubmit = "submit"
)

// jobOutcome is the message a worker publishes for a finished job. Failure
// is set only when the job was dead-lettered without a sandbox response.
type jobOutcome struct {
	Result  *models.ExecutionResult `json:"result,omitempty"`
	Failure string                  `json:"failure,omitempty"`
}

// QueueRunner sends jobs through the shared work queues and waits for the
// worker that picks them up to publish an outcome.
type QueueRunner struct {
	queues      map[string]WorkQueue
	maxAttempts int
	queueWait   time.Duration
	now         func() time.Time
}

// NewQueueRunner bounds the time a job may sit in the queue by queueWait.
// The per-call wait passed to Run starts once a worker claims the job.
func NewQueueRunner(maxAttempts int, queueWait time.Duration, queues ...WorkQueue) *QueueRunner {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if queueWait <= 0 {
		queueWait = 2 * time.Minute
	}
	byName := make(map[string]WorkQueue, len(queues))
	for _, q := range queues {
		byName[q.Name()] = q
	}
	return &QueueRunner{
		queues:      byName,
		maxAttempts: maxAttempts,
		queueWait:   queueWait,
		now:         time.Now,
	}
}

func (r *QueueRunner) Run(ctx context.Context, queue string, job models.SubmissionJob, wait time.Duration) (*models.ExecutionResult, error) {
	q, ok := r.queues[queue]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	if job.TaskID == "" {
		job.TaskID = uuid.New().String()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	now := r.now()
	if err := q.Enqueue(ctx, &distributed.Job{
		ID:          job.TaskID,
		Payload:     payload,
		MaxAttempts: r.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// queue time does not count against wait
	err = q.AwaitClaim(ctx, job.TaskID, r.queueWait)
	if errors.Is(err, distributed.ErrClaimTimeout) {
		return nil, ErrExecutionBacklog
	}
	if err != nil {
		return nil, err
	}

	raw, err := q.AwaitResult(ctx, job.TaskID, wait)
	if errors.Is(err, distributed.ErrResultTimeout) {
		return nil, ErrExecutionTimeout
	}
	if err != nil {
		return nil, err
	}

	var out jobOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode job outcome: %w", err)
	}
	if out.Failure != "" {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFailed, out.Failure)
	}
	if out.Result == nil {
		return nil, ErrExecutionFailed
	}
	return out.Result, nil
}
