package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrQueueEmpty    = errors.New("queue is empty")
	ErrQueueFull     = errors.New("queue is full")
	ErrResultTimeout = errors.New("timed out waiting for job result")
	ErrClaimTimeout  = errors.New("timed out waiting for a worker to claim the job")
)

const timestampSuffix = ":timestamp"

// Job is one unit of work. Payload is opaque to the queue.
type Job struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// JobQueue is a delayed work queue on Redis.
//
//	queue:{name}               sorted set, score = ready time in unix ms
//	queue:{name}:processing    hash, id -> job and id:timestamp -> claim time
//	queue:{name}:dlq           list of dead-lettered jobs
//	queue:{name}:result:{id}   list holding the single published result
type JobQueue struct {
	client        *redis.Client
	name          string
	queueKey      string
	processingKey string
	dlqKey        string
	maxSize       int
	backoffBase   time.Duration
	resultTTL     time.Duration
}

// Claims the oldest ready job, parks it in the processing hash and pushes a
// claim notice for whoever enqueued it.
var dequeueScript = redis.NewScript(`
	local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #items == 0 then
		return false
	end

	local data = items[1]
	local id = cjson.decode(data).id

	redis.call('ZREM', KEYS[1], data)
	redis.call('HSET', KEYS[2], id, data)
	redis.call('HSET', KEYS[2], id .. ':timestamp', ARGV[1])

	local claimed = ARGV[2] .. id
	redis.call('RPUSH', claimed, ARGV[1])
	redis.call('PEXPIRE', claimed, ARGV[3])

	return data
`)

func NewJobQueue(client *redis.Client, name string, backoffBase time.Duration, maxSize int) *JobQueue {
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &JobQueue{
		client:        client,
		name:          name,
		queueKey:      fmt.Sprintf("queue:%s", name),
		processingKey: fmt.Sprintf("queue:%s:processing", name),
		dlqKey:        fmt.Sprintf("queue:%s:dlq", name),
		maxSize:       maxSize,
		backoffBase:   backoffBase,
		resultTTL:     5 * time.Minute,
	}
}

func (q *JobQueue) Name() string {
	return q.name
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

// Enqueue makes job ready immediately.
func (q *JobQueue) Enqueue(ctx context.Context, job *Job) error {
	return q.enqueueAt(ctx, job, time.Now())
}

func (q *JobQueue) enqueueAt(ctx context.Context, job *Job, readyAt time.Time) error {
	if q.maxSize > 0 {
		size, err := q.client.ZCard(ctx, q.queueKey).Result()
		if err != nil {
			return fmt.Errorf("failed to get queue size: %w", err)
		}
		if int(size) >= q.maxSize {
			return ErrQueueFull
		}
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.queueKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	return nil
}

// Dequeue claims the oldest job whose ready time has passed. It returns
// ErrQueueEmpty when nothing is ready.
func (q *JobQueue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := dequeueScript.Run(ctx, q.client,
		[]string{q.queueKey, q.processingKey},
		time.Now().UnixMilli(),
		q.claimKey(""),
		q.resultTTL.Milliseconds(),
	).Text()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Complete drops a claimed job from the processing hash.
func (q *JobQueue) Complete(ctx context.Context, jobID string) error {
	if err := q.client.HDel(ctx, q.processingKey, jobID, jobID+timestampSuffix).Err(); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Retry counts a failed attempt. The job is dead-lettered once its attempts
// reach MaxAttempts, otherwise it becomes ready again after Backoff.
func (q *JobQueue) Retry(ctx context.Context, job *Job, cause error) (deadLettered bool, err error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		return true, q.MoveToDLQ(ctx, job, "max attempts exceeded")
	}

	if err := q.Complete(ctx, job.ID); err != nil {
		return false, err
	}

	return false, q.enqueueAt(ctx, job, time.Now().Add(Backoff(q.backoffBase, job.Attempts)))
}

func (q *JobQueue) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	entry := map[string]interface{}{
		"job":     job,
		"reason":  reason,
		"movedAt": time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	if err := q.client.LPush(ctx, q.dlqKey, data).Err(); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}

	return q.Complete(ctx, job.ID)
}

// RecoverStale retries jobs claimed longer than staleTimeout ago, which
// happens when a worker dies mid-job.
func (q *JobQueue) RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error) {
	items, err := q.client.HGetAll(ctx, q.processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing jobs: %w", err)
	}

	recovered := 0
	cutoff := time.Now().Add(-staleTimeout).UnixMilli()

	for key, value := range items {
		if strings.HasSuffix(key, timestampSuffix) {
			continue
		}

		claimedAt, err := strconv.ParseInt(items[key+timestampSuffix], 10, 64)
		if err != nil || claimedAt > cutoff {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(value), &job); err != nil {
			continue
		}

		if _, err := q.Retry(ctx, &job, errors.New("worker lease expired")); err != nil {
			continue
		}
		recovered++
	}

	return recovered, nil
}

func (q *JobQueue) claimKey(jobID string) string {
	return fmt.Sprintf("queue:%s:claimed:%s", q.name, jobID)
}

// AwaitClaim blocks until a worker dequeues the job or timeout passes.
func (q *JobQueue) AwaitClaim(ctx context.Context, jobID string, timeout time.Duration) error {
	err := q.client.BLPop(ctx, timeout, q.claimKey(jobID)).Err()
	if err == redis.Nil {
		return ErrClaimTimeout
	}
	if err != nil {
		return fmt.Errorf("failed to await claim: %w", err)
	}
	return nil
}

func (q *JobQueue) resultKey(jobID string) string {
	return fmt.Sprintf("queue:%s:result:%s", q.name, jobID)
}

// PublishResult hands a job's outcome to whoever waits in AwaitResult.
func (q *JobQueue) PublishResult(ctx context.Context, jobID string, payload []byte) error {
	key := q.resultKey(jobID)

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, q.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// AwaitResult blocks until the job's result is published or timeout passes.
func (q *JobQueue) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) ([]byte, error) {
	values, err := q.client.BLPop(ctx, timeout, q.resultKey(jobID)).Result()
	if err == redis.Nil {
		return nil, ErrResultTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("failed to await result: %w", err)
	}
	// BLPOP replies with [key, value]
	return []byte(values[1]), nil
}

func (q *JobQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

func (q *JobQueue) ProcessingCount(ctx context.Context) (int64, error) {
	count, err := q.client.HLen(ctx, q.processingKey).Result()
	if err != nil {
		return 0, err
	}
	// every job has a companion timestamp field
	return count / 2, nil
}

func (q *JobQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey).Result()
}

// QueueStats is the backlog of one queue as reported by /health.
type QueueStats struct {
	Queue           string `json:"queue"`
	QueueSize       int64  `json:"queueSize"`
	ProcessingCount int64  `json:"processingCount"`
	DLQSize         int64  `json:"dlqSize"`
}

func (q *JobQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	queueSize, err := q.Size(ctx)
	if err != nil {
		return nil, err
	}

	processingCount, err := q.ProcessingCount(ctx)
	if err != nil {
		return nil, err
	}

	dlqSize, err := q.DLQSize(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		Queue:           q.name,
		QueueSize:       queueSize,
		ProcessingCount: processingCount,
		DLQSize:         dlqSize,
	}, nil
}
