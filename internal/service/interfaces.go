package service

import (
	"context"
	"time"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
	"github.com/codeclash/codeclash-backend/pkg/executor"
)

// Durable stores (Postgres).

type MatchStore interface {
	Create(ctx context.Context, match *models.Match) error
	// FindByID returns nil, nil when the match does not exist.
	FindByID(ctx context.Context, id string) (*models.Match, error)
	// FindActiveByPlayer returns the player's newest PENDING_JOIN or ONGOING
	// match, or nil.
	FindActiveByPlayer(ctx context.Context, userID string) (*models.Match, error)
	// TransitionStatus applies t only if the match is still in t.From and
	// reports whether it did.
	TransitionStatus(ctx context.Context, id string, t models.Transition) (bool, error)
	SaveRatingChanges(ctx context.Context, matchID string, changes map[string]int) error
}

type QuestionStore interface {
	// PickForMatch returns the ordered problem set for a new match.
	PickForMatch(ctx context.Context) ([]models.Question, error)
	// FindWithTestCases returns nil, nil when the question does not exist.
	FindWithTestCases(ctx context.Context, id string) (*models.Question, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ApplyMatchResult(ctx context.Context, outcome models.MatchOutcome) error
}

type SubmissionStore interface {
	Create(ctx context.Context, s *models.Submission) error
	FindByID(ctx context.Context, id string) (*models.Submission, error)
}

// Shared ephemeral stores (Redis).

type TicketPool interface {
	Upsert(ctx context.Context, ticket *models.QueueTicket) error
	Remove(ctx context.Context, mode models.MatchMode, playerID string) error
	// Get returns nil, nil when the player has no ticket in mode.
	Get(ctx context.Context, mode models.MatchMode, playerID string) (*models.QueueTicket, error)
	List(ctx context.Context, mode models.MatchMode) ([]models.QueueTicket, error)
	// ClaimPair removes both tickets of mode only if both are still present,
	// and with them any ticket either player holds in another mode.
	ClaimPair(ctx context.Context, mode models.MatchMode, a, b string) (bool, error)
}

type GameStateStore interface {
	Init(ctx context.Context, matchID string, playerIDs []string) error
	// RecordSolve adds problemID to the player's solved set. changed is false
	// when it was already there or the state no longer exists (state nil).
	RecordSolve(ctx context.Context, matchID, playerID, problemID string, at time.Time) (state *models.PlayerMatchState, changed bool, err error)
	Read(ctx context.Context, matchID string) ([]models.PlayerMatchState, error)
	Teardown(ctx context.Context, matchID string) error
}

type PresenceStore interface {
	InitJoin(ctx context.Context, matchID string, playerIDs []string, ttl time.Duration) error
	// MarkJoined reports whether every player has now joined. It is a no-op
	// returning false once the tracker is gone.
	MarkJoined(ctx context.Context, matchID, userID string) (bool, error)
	Joined(ctx context.Context, matchID string) (map[string]bool, error)
	ClearJoin(ctx context.Context, matchID string) error

	// MarkDisconnected records token as the player's current disconnect.
	MarkDisconnected(ctx context.Context, matchID, userID, token string, ttl time.Duration) error
	ClearDisconnected(ctx context.Context, matchID, userID string) error
	// DisconnectToken returns "" when the player is not disconnected.
	DisconnectToken(ctx context.Context, matchID, userID string) (string, error)
}

// DeadlineStore holds join and reconnect deadlines where every instance
// can see them.
type DeadlineStore interface {
	Schedule(ctx context.Context, d models.Deadline) error
	// Claim removes d and reports whether this caller removed it, so each
	// deadline is handled once.
	Claim(ctx context.Context, d models.Deadline) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]models.Deadline, error)
}

// Locker runs fn under a cluster-wide lock. It returns
// distributed.ErrLockNotAcquired without running fn when the lock is taken.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// WorkQueue is the execution job queue shared by QueueRunner and
// ExecutionWorker.
type WorkQueue interface {
	Name() string
	Enqueue(ctx context.Context, job *distributed.Job) error
	Dequeue(ctx context.Context) (*distributed.Job, error)
	Complete(ctx context.Context, jobID string) error
	Retry(ctx context.Context, job *distributed.Job, cause error) (bool, error)
	RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error)
	AwaitClaim(ctx context.Context, jobID string, timeout time.Duration) error
	PublishResult(ctx context.Context, jobID string, payload []byte) error
	AwaitResult(ctx context.Context, jobID string, timeout time.Duration) ([]byte, error)
}

// Collaborators.

// Notifier pushes a server event to every connection of the given users,
// wherever they are connected.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, eventType string, payload interface{})
}

// JobRunner executes one job through a named queue and waits up to wait
// for its result.
type JobRunner interface {
	Run(ctx context.Context, queue string, job models.SubmissionJob, wait time.Duration) (*models.ExecutionResult, error)
}

type Executor interface {
	Execute(ctx context.Context, req executor.ExecuteRequest) (*executor.ExecuteResponse, error)
}

type MatchCreator interface {
	CreateMatch(ctx context.Context, a, b models.QueueTicket, mode models.MatchMode) (*models.Match, error)
}

type WinChecker interface {
	CheckWin(ctx context.Context, matchID, userID string) error
}
