package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
	"github.com/codeclash/codeclash-backend/pkg/executor"
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	StaleTimeout time.Duration
}

// ExecutionWorker drains one work queue into the sandbox. Transport
// failures are retried with backoff; sandbox responses, error verdicts
// included, are published as-is.
type ExecutionWorker struct {
	queue    WorkQueue
	executor Executor
	cfg      WorkerConfig
	logger   *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewExecutionWorker(queue WorkQueue, exec Executor, cfg WorkerConfig, logger *zap.Logger) *ExecutionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutionWorker{
		queue:    queue,
		executor: exec,
		cfg:      cfg,
		logger:   logger.With(zap.String("queue", queue.Name())),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

func (w *ExecutionWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	w.logger.Info("Starting ExecutionWorker", zap.Int("concurrency", w.cfg.Concurrency))

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.recoverLoop()
}

// Stop waits for in-flight jobs to finish.
func (w *ExecutionWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.cancel()
	w.logger.Info("ExecutionWorker stopped")
}

func (w *ExecutionWorker) loop(id int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		job, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			if !errors.Is(err, distributed.ErrQueueEmpty) {
				w.logger.Error("Failed to dequeue job", zap.Int("worker", id), zap.Error(err))
			}
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-w.stopChan:
				return
			}
			continue
		}

		w.process(w.ctx, job)
	}
}

func (w *ExecutionWorker) recoverLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.StaleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := w.queue.RecoverStale(w.ctx, w.cfg.StaleTimeout)
			if err != nil {
				w.logger.Error("Failed to recover stale jobs", zap.Error(err))
			} else if n > 0 {
				w.logger.Warn("Recovered stale jobs", zap.Int("count", n))
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *ExecutionWorker) process(ctx context.Context, job *distributed.Job) {
	var sj models.SubmissionJob
	if err := json.Unmarshal(job.Payload, &sj); err != nil {
		w.logger.Error("Dropping malformed job", zap.String("job_id", job.ID), zap.Error(err))
		w.publish(ctx, job.ID, jobOutcome{Failure: "malformed job"})
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			w.logger.Error("Failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	resp, err := w.executor.Execute(ctx, executor.ExecuteRequest{
		Code:     sj.Code,
		Language: string(sj.Language),
		Input:    sj.Input,
		Timeout:  sj.TimeoutBudget.Milliseconds(),
		TaskID:   sj.TaskID,
		UserID:   sj.SubmitterID,
	})
	if err != nil {
		dead, rerr := w.queue.Retry(ctx, job, err)
		if rerr != nil {
			w.logger.Error("Failed to reschedule job", zap.String("job_id", job.ID), zap.Error(rerr))
			return
		}
		if dead {
			w.logger.Error("Job dead-lettered",
				zap.String("job_id", job.ID),
				zap.Int("attempts", job.Attempts),
				zap.Error(err))
			w.publish(ctx, job.ID, jobOutcome{Failure: err.Error()})
			return
		}
		w.logger.Warn("Job failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Error(err))
		return
	}

	w.publish(ctx, job.ID, jobOutcome{Result: &models.ExecutionResult{
		Output:          resp.Output,
		Error:           resp.Error,
		ExecutionTimeMs: int(resp.ExecutionTime),
		MemoryKb:        int(resp.Memory),
	}})

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("Failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *ExecutionWorker) publish(ctx context.Context, jobID string, out jobOutcome) {
	data, err := json.Marshal(out)
	if err != nil {
		w.logger.Error("Failed to marshal job outcome", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := w.queue.PublishResult(ctx, jobID, data); err != nil {
		w.logger.Error("Failed to publish job outcome", zap.String("job_id", jobID), zap.Error(err))
	}
}
