package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
)

// claim attempts per TryPair before waiting for the next poll
const maxClaimAttempts = 5

type MatchmakingConfig struct {
	BaseTolerance      int
	TolerancePerSecond int
	PollInterval       time.Duration
	MaxQueueTime       time.Duration
}

type searchEntry struct {
	id     string
	cancel context.CancelFunc
}

// MatchmakingService pairs queued players of similar rating. Tickets live
// in the shared pool; each instance runs a search loop for the players
// that queued through it.
type MatchmakingService struct {
	pool     TicketPool
	users    UserStore
	matches  MatchStore
	creator  MatchCreator
	notifier Notifier
	locker   Locker
	logger   *zap.Logger
	cfg      MatchmakingConfig

	instanceID string
	now        func() time.Time

	mu       sync.Mutex
	searches map[string]searchEntry
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	stopped  bool
}

func NewMatchmakingService(
	pool TicketPool,
	users UserStore,
	matches MatchStore,
	creator MatchCreator,
	notifier Notifier,
	locker Locker,
	cfg MatchmakingConfig,
	logger *zap.Logger,
) *MatchmakingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = 30 * time.Second
	}

	return &MatchmakingService{
		pool:       pool,
		users:      users,
		matches:    matches,
		creator:    creator,
		notifier:   notifier,
		locker:     locker,
		logger:     logger,
		cfg:        cfg,
		instanceID: uuid.New().String(),
		now:        time.Now,
		searches:   make(map[string]searchEntry),
		stopChan:   make(chan struct{}),
	}
}

// Start runs the periodic sweep of abandoned tickets.
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting MatchmakingService",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("max_queue_time", s.cfg.MaxQueueTime))

	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop cancels every search loop and the sweep, then waits for them.
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	for key, entry := range s.searches {
		entry.cancel()
		delete(s.searches, key)
	}
	s.mu.Unlock()

	s.logger.Info("Stopping MatchmakingService")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("MatchmakingService stopped")
}

// ToleranceAt is the accepted rating gap after waiting d. It never shrinks
// as d grows.
func (s *MatchmakingService) ToleranceAt(d time.Duration) int {
	if d < 0 {
		d = 0
	}
	return s.cfg.BaseTolerance + s.cfg.TolerancePerSecond*int(d/time.Second)
}

// JoinQueue is the realtime entry point: it looks up the player's rating,
// queues them and starts their search loop.
func (s *MatchmakingService) JoinQueue(ctx context.Context, userID string, mode models.MatchMode, connectionID string) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	active, err := s.matches.FindActiveByPlayer(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check active match: %w", err)
	}
	if active != nil {
		return ErrAlreadyInMatch
	}

	// a player searches in one mode at a time
	for _, other := range models.MatchModes() {
		if other == mode {
			continue
		}
		if err := s.Dequeue(ctx, userID, other); err != nil {
			return err
		}
	}

	if err := s.Enqueue(ctx, userID, user.Rating, mode, connectionID); err != nil {
		return err
	}

	s.notifier.Notify(ctx, []string{userID}, models.EventMatchmakingStatus, models.MatchmakingStatusPayload{
		Status: "queued",
		Mode:   mode,
	})

	s.startSearch(userID, mode)
	return nil
}

// Enqueue upserts the player's ticket for mode. A second call replaces the
// first ticket.
func (s *MatchmakingService) Enqueue(ctx context.Context, playerID string, rating int, mode models.MatchMode, connectionID string) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}

	ticket := &models.QueueTicket{
		PlayerID:     playerID,
		Rating:       rating,
		Mode:         mode,
		ConnectionID: connectionID,
		InstanceID:   s.instanceID,
		EnqueuedAt:   s.now(),
	}
	if err := s.pool.Upsert(ctx, ticket); err != nil {
		return err
	}

	s.logger.Info("Player queued",
		zap.String("player_id", playerID),
		zap.Int("rating", rating),
		zap.String("mode", string(mode)))
	return nil
}

// Dequeue removes the player's ticket for mode. Missing tickets are fine.
func (s *MatchmakingService) Dequeue(ctx context.Context, playerID string, mode models.MatchMode) error {
	s.cancelSearch(playerID, mode)
	return s.pool.Remove(ctx, mode, playerID)
}

// LeaveQueue drops the player from every mode on request.
func (s *MatchmakingService) LeaveQueue(ctx context.Context, userID string) error {
	if err := s.dequeueAll(ctx, userID); err != nil {
		return err
	}
	s.notifier.Notify(ctx, []string{userID}, models.EventMatchmakingStatus, models.MatchmakingStatusPayload{
		Status: "left",
	})
	return nil
}

// HandleDisconnect drops the player from every mode when their socket
// closes.
func (s *MatchmakingService) HandleDisconnect(ctx context.Context, userID string) error {
	return s.dequeueAll(ctx, userID)
}

func (s *MatchmakingService) dequeueAll(ctx context.Context, userID string) error {
	var errs []error
	for _, mode := range models.MatchModes() {
		if err := s.Dequeue(ctx, userID, mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TryPair makes one pairing attempt for the player.
func (s *MatchmakingService) TryPair(ctx context.Context, playerID string, mode models.MatchMode) (models.PairResult, error) {
	caller, err := s.pool.Get(ctx, mode, playerID)
	if err != nil {
		return models.PairResult{}, err
	}
	if caller == nil {
		return models.PairResult{Status: models.PairGone}, nil
	}

	waited := caller.Waited(s.now())
	if waited >= s.cfg.MaxQueueTime {
		if err := s.pool.Remove(ctx, mode, playerID); err != nil {
			return models.PairResult{}, err
		}
		s.logger.Info("Matchmaking timed out",
			zap.String("player_id", playerID),
			zap.Duration("waited", waited))
		s.notifier.Notify(ctx, []string{playerID}, models.EventMatchmakingTimeout, models.ErrorPayload{
			Message: "No opponent found. Please try again.",
		})
		return models.PairResult{Status: models.PairTimedOut, Caller: caller}, nil
	}

	tolerance := s.ToleranceAt(waited)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		tickets, err := s.pool.List(ctx, mode)
		if err != nil {
			return models.PairResult{}, err
		}

		opponent := pickOpponent(caller, tickets, tolerance)
		if opponent == nil {
			return models.PairResult{Status: models.PairWaiting, Caller: caller}, nil
		}

		claimed, err := s.pool.ClaimPair(ctx, mode, caller.PlayerID, opponent.PlayerID)
		if err != nil {
			return models.PairResult{}, err
		}
		if !claimed {
			// someone else took one of the two; start over if we are still queued
			still, err := s.pool.Get(ctx, mode, playerID)
			if err != nil {
				return models.PairResult{}, err
			}
			if still == nil {
				return models.PairResult{Status: models.PairGone}, nil
			}
			continue
		}

		// loops still running for either player would find their tickets gone anyway
		for _, m := range models.MatchModes() {
			s.cancelSearch(opponent.PlayerID, m)
			if m != mode {
				s.cancelSearch(caller.PlayerID, m)
			}
		}

		s.logger.Info("Players paired",
			zap.String("player_id", caller.PlayerID),
			zap.String("opponent_id", opponent.PlayerID),
			zap.Int("rating_gap", abs(caller.Rating-opponent.Rating)),
			zap.Int("tolerance", tolerance))

		if _, err := s.creator.CreateMatch(ctx, *caller, *opponent, mode); err != nil {
			s.notifier.Notify(ctx, []string{caller.PlayerID, opponent.PlayerID}, models.EventMatchmakingError, models.ErrorPayload{
				Message: "Failed to create match",
			})
			return models.PairResult{}, fmt.Errorf("failed to create match: %w", err)
		}

		return models.PairResult{Status: models.PairMatched, Caller: caller, Opponent: opponent}, nil
	}

	return models.PairResult{Status: models.PairWaiting, Caller: caller}, nil
}

// pickOpponent chooses the closest rating within tolerance. Ties go to the
// ticket queued first.
func pickOpponent(caller *models.QueueTicket, tickets []models.QueueTicket, tolerance int) *models.QueueTicket {
	candidates := make([]models.QueueTicket, 0, len(tickets))
	for _, t := range tickets {
		if t.PlayerID == caller.PlayerID {
			continue
		}
		if abs(t.Rating-caller.Rating) <= tolerance {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		gi, gj := abs(candidates[i].Rating-caller.Rating), abs(candidates[j].Rating-caller.Rating)
		if gi != gj {
			return gi < gj
		}
		if !candidates[i].EnqueuedAt.Equal(candidates[j].EnqueuedAt) {
			return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
		}
		return candidates[i].PlayerID < candidates[j].PlayerID
	})
	return &candidates[0]
}

// Sweep evicts tickets that outlived the queue ceiling, which happens when
// the instance running their search loop died. Only one instance sweeps a
// mode at a time.
func (s *MatchmakingService) Sweep(ctx context.Context) {
	for _, mode := range models.MatchModes() {
		mode := mode
		err := s.locker.WithLock(ctx, fmt.Sprintf("matchmaking:lock:%s", mode), 10*time.Second, func(ctx context.Context) error {
			tickets, err := s.pool.List(ctx, mode)
			if err != nil {
				return err
			}
			now := s.now()
			for _, t := range tickets {
				if t.Waited(now) < s.cfg.MaxQueueTime {
					continue
				}
				if err := s.pool.Remove(ctx, mode, t.PlayerID); err != nil {
					return err
				}
				s.notifier.Notify(ctx, []string{t.PlayerID}, models.EventMatchmakingTimeout, models.ErrorPayload{
					Message: "No opponent found. Please try again.",
				})
				s.logger.Info("Swept stale ticket",
					zap.String("player_id", t.PlayerID),
					zap.String("mode", string(mode)))
			}
			return nil
		})
		if err != nil && !errors.Is(err, distributed.ErrLockNotAcquired) {
			s.logger.Error("Matchmaking sweep failed", zap.String("mode", string(mode)), zap.Error(err))
		}
	}
}

func (s *MatchmakingService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MaxQueueTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.Sweep(ctx)
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

func searchKey(playerID string, mode models.MatchMode) string {
	return string(mode) + ":" + playerID
}

// startSearch replaces any running loop for the same player and mode.
func (s *MatchmakingService) startSearch(playerID string, mode models.MatchMode) {
	key := searchKey(playerID, mode)
	ctx, cancel := context.WithCancel(context.Background())
	entry := searchEntry{id: uuid.New().String(), cancel: cancel}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := s.searches[key]; ok {
		prev.cancel()
	}
	s.searches[key] = entry
	s.wg.Add(1)
	s.mu.Unlock()

	go s.searchLoop(ctx, entry.id, playerID, mode)
}

func (s *MatchmakingService) cancelSearch(playerID string, mode models.MatchMode) {
	key := searchKey(playerID, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.searches[key]; ok {
		entry.cancel()
		delete(s.searches, key)
	}
}

// searchLoop tries immediately, then once per poll interval until the
// player is matched, times out, leaves or the loop is cancelled.
func (s *MatchmakingService) searchLoop(ctx context.Context, id, playerID string, mode models.MatchMode) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if entry, ok := s.searches[searchKey(playerID, mode)]; ok && entry.id == id {
			entry.cancel()
			delete(s.searches, searchKey(playerID, mode))
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, err := s.TryPair(ctx, playerID, mode)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Pairing attempt failed",
				zap.String("player_id", playerID),
				zap.Error(err))
		} else if result.Status != models.PairWaiting {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
