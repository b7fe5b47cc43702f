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
	"golang.org/x/sync/errgroup"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
)

const (
	timerCallbackTimeout = 15 * time.Second

	// join trackers and disconnect markers outlive their deadline so a
	// deadline fired late by another instance still finds them
	presenceRetention = time.Hour

	deadlineLockKey   = "match:deadlines:lock"
	deadlineLockTTL   = 30 * time.Second
	deadlineSweepSize = 100
)

type MatchConfig struct {
	JoinTimeout      time.Duration
	ReconnectTimeout time.Duration
	// SweepInterval is how often due deadlines left behind by a stopped
	// instance are picked up.
	SweepInterval time.Duration
}

// MatchService drives a match from PENDING_JOIN to a terminal status.
// Every terminal transition goes through a status CAS in the match store,
// so timers and concurrent requests may race freely.
//
// Join and reconnect deadlines live in the DeadlineStore. The instance
// that sets one also arms a local timer for it; any instance sweeping the
// store fires it if that instance is gone.
type MatchService struct {
	matches   MatchStore
	questions QuestionStore
	users     UserStore
	gameState *GameStateService
	presence  PresenceStore
	deadlines DeadlineStore
	locker    Locker
	elo       *ELOService
	notifier  Notifier
	logger    *zap.Logger
	cfg       MatchConfig

	now      func() time.Time
	newID    func() string
	newToken func() string

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMatchService(
	matches MatchStore,
	questions QuestionStore,
	users UserStore,
	gameState *GameStateService,
	presence PresenceStore,
	deadlines DeadlineStore,
	locker Locker,
	elo *ELOService,
	notifier Notifier,
	cfg MatchConfig,
	logger *zap.Logger,
) *MatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 60 * time.Second
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}

	return &MatchService{
		matches:   matches,
		questions: questions,
		users:     users,
		gameState: gameState,
		presence:  presence,
		deadlines: deadlines,
		locker:    locker,
		elo:       elo,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		newToken:  func() string { return uuid.New().String() },
		timers:    make(map[string]*time.Timer),
		stopChan:  make(chan struct{}),
	}
}

// Start runs the periodic sweep of due deadlines.
func (s *MatchService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("Match deadline sweep started", zap.Duration("interval", s.cfg.SweepInterval))
}

// Stop cancels the local timers and the sweep. Deadlines stay in the
// store for the remaining instances.
func (s *MatchService) Stop() {
	s.timerMu.Lock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.timerMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopChan)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// CreateMatch turns a claimed pair of tickets into a PENDING_JOIN match and
// tells both players about it.
func (s *MatchService) CreateMatch(ctx context.Context, a, b models.QueueTicket, mode models.MatchMode) (*models.Match, error) {
	var userA, userB *models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.FindByID(gctx, a.PlayerID)
		userA = u
		return err
	})
	g.Go(func() error {
		u, err := s.users.FindByID(gctx, b.PlayerID)
		userB = u
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	if userA == nil || userB == nil {
		return nil, ErrUserNotFound
	}

	problems, err := s.questions.PickForMatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pick problems: %w", err)
	}
	if len(problems) == 0 {
		return nil, ErrNotEnoughQuestions
	}

	problemIDs := make([]string, 0, len(problems))
	for _, q := range problems {
		problemIDs = append(problemIDs, q.ID)
	}

	match := &models.Match{
		ID:     s.newID(),
		Mode:   mode,
		Status: models.MatchStatusPendingJoin,
		Players: []models.MatchPlayer{
			{ID: userA.ID, Username: userA.Username, Rating: a.Rating},
			{ID: userB.ID, Username: userB.Username, Rating: b.Rating},
		},
		ProblemIDs: problemIDs,
		StartTime:  s.now(),
	}

	if err := s.matches.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	if err := s.presence.InitJoin(ctx, match.ID, match.PlayerIDs(), s.cfg.JoinTimeout+presenceRetention); err != nil {
		return nil, fmt.Errorf("failed to track joins: %w", err)
	}

	if err := s.arm(ctx, models.Deadline{
		Kind:    models.DeadlineJoin,
		MatchID: match.ID,
		DueAt:   s.now().Add(s.cfg.JoinTimeout),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Match created",
		zap.String("match_id", match.ID),
		zap.String("mode", string(mode)),
		zap.Strings("players", match.PlayerIDs()),
		zap.Strings("problems", problemIDs))

	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventMatchFound, models.MatchFoundPayload{
		MatchID: match.ID,
		Players: match.PlayerIDs(),
	})

	return match, nil
}

// Join records that userID opened the match. The second join starts the
// game. Joining an ONGOING match is a rejoin.
func (s *MatchService) Join(ctx context.Context, matchID, userID string) error {
	match, err := s.participantMatch(ctx, matchID, userID)
	if err != nil {
		return err
	}

	switch {
	case match.Status == models.MatchStatusOngoing:
		return s.Rejoin(ctx, matchID, userID)
	case match.Status.IsTerminal():
		return ErrMatchNotOngoing
	}

	s.notifier.Notify(ctx, []string{userID}, models.EventMatchState, matchState(match))

	allJoined, err := s.presence.MarkJoined(ctx, matchID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark joined: %w", err)
	}

	s.logger.Info("Player joined match",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.Bool("all_joined", allJoined))

	if allJoined {
		return s.start(ctx, match)
	}
	return nil
}

// StartGame handles an explicit start request. An ONGOING match gets its
// game_start repeated.
func (s *MatchService) StartGame(ctx context.Context, matchID, userID string) error {
	match, err := s.participantMatch(ctx, matchID, userID)
	if err != nil {
		return err
	}

	switch match.Status {
	case models.MatchStatusOngoing:
		return s.broadcastGameStart(ctx, match)
	case models.MatchStatusPendingJoin:
		joined, err := s.presence.Joined(ctx, matchID)
		if err != nil {
			return err
		}
		for _, id := range match.PlayerIDs() {
			if !joined[id] {
				s.notifier.Notify(ctx, []string{userID}, models.EventGameError, models.ErrorPayload{
					Message: "Waiting for all players to join",
				})
				return nil
			}
		}
		return s.start(ctx, match)
	default:
		return ErrMatchNotOngoing
	}
}

func (s *MatchService) start(ctx context.Context, match *models.Match) error {
	ok, err := s.matches.TransitionStatus(ctx, match.ID, models.Transition{
		From: models.MatchStatusPendingJoin,
		To:   models.MatchStatusOngoing,
	})
	if err != nil {
		return fmt.Errorf("failed to start match: %w", err)
	}
	if !ok {
		// another request or instance got there first
		return nil
	}
	match.Status = models.MatchStatusOngoing

	s.disarm(ctx, models.Deadline{Kind: models.DeadlineJoin, MatchID: match.ID})
	if err := s.presence.ClearJoin(ctx, match.ID); err != nil {
		s.logger.Warn("Failed to clear join tracker", zap.String("match_id", match.ID), zap.Error(err))
	}

	if err := s.gameState.Init(ctx, match.ID, match.PlayerIDs()); err != nil {
		s.logger.Error("Failed to init game state", zap.String("match_id", match.ID), zap.Error(err))
		s.notifier.Notify(ctx, match.PlayerIDs(), models.EventGameError, models.ErrorPayload{
			Message: "Failed to start game",
		})
		return err
	}

	s.logger.Info("Match started", zap.String("match_id", match.ID))
	return s.broadcastGameStart(ctx, match)
}

func (s *MatchService) broadcastGameStart(ctx context.Context, match *models.Match) error {
	snapshot, err := s.gameState.Snapshot(ctx, match)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventGameStart, snapshot)
	return nil
}

func (s *MatchService) onJoinTimeout(ctx context.Context, matchID string) {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		s.logger.Error("Join timeout: failed to load match", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if match == nil || match.Status != models.MatchStatusPendingJoin {
		return
	}

	joined, err := s.presence.Joined(ctx, matchID)
	if err != nil {
		s.logger.Error("Join timeout: failed to read joins", zap.String("match_id", matchID), zap.Error(err))
		return
	}

	var winner *string
	abortedBy := ""
	for _, p := range match.Players {
		if joined[p.ID] {
			if winner == nil {
				id := p.ID
				winner = &id
			}
		} else if abortedBy == "" {
			abortedBy = p.ID
		}
	}
	if abortedBy == "" {
		return
	}

	ok, err := s.matches.TransitionStatus(ctx, matchID, models.Transition{
		From:      models.MatchStatusPendingJoin,
		To:        models.MatchStatusAborted,
		WinnerID:  winner,
		AbortedBy: &abortedBy,
	})
	if err != nil {
		s.logger.Error("Join timeout: failed to abort match", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	if err := s.presence.ClearJoin(ctx, matchID); err != nil {
		s.logger.Warn("Failed to clear join tracker", zap.String("match_id", matchID), zap.Error(err))
	}

	s.logger.Info("Match aborted",
		zap.String("match_id", matchID),
		zap.String("aborted_by", abortedBy))

	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventMatchAborted, models.MatchAbortedPayload{
		Reason:    "Player failed to join in time",
		Winner:    winner,
		AbortedBy: abortedBy,
	})
}

// Disconnect starts the reconnect grace period for the user's ONGOING
// match, if any.
func (s *MatchService) Disconnect(ctx context.Context, userID string) error {
	match, err := s.matches.FindActiveByPlayer(ctx, userID)
	if err != nil {
		return err
	}
	if match == nil || match.Status != models.MatchStatusOngoing {
		return nil
	}

	grace := s.cfg.ReconnectTimeout
	token := s.newToken()
	if err := s.presence.MarkDisconnected(ctx, match.ID, userID, token, grace+presenceRetention); err != nil {
		return fmt.Errorf("failed to mark disconnect: %w", err)
	}

	s.logger.Info("Player disconnected from match",
		zap.String("match_id", match.ID),
		zap.String("user_id", userID),
		zap.Duration("grace", grace))

	if opponent := match.Opponent(userID); opponent != "" {
		s.notifier.Notify(ctx, []string{opponent}, models.EventPlayerDisconnected, models.PlayerDisconnectedPayload{
			PlayerID:         userID,
			ReconnectTimeout: int(grace / time.Second),
		})
	}

	return s.arm(ctx, models.Deadline{
		Kind:    models.DeadlineGrace,
		MatchID: match.ID,
		UserID:  userID,
		Token:   token,
		DueAt:   s.now().Add(grace),
	})
}

// Rejoin cancels a pending forfeit and resends the full match view.
func (s *MatchService) Rejoin(ctx context.Context, matchID, userID string) error {
	match, err := s.participantMatch(ctx, matchID, userID)
	if err != nil {
		return err
	}
	if match.Status != models.MatchStatusOngoing {
		return ErrMatchNotOngoing
	}

	token, err := s.presence.DisconnectToken(ctx, matchID, userID)
	if err != nil {
		return err
	}
	if err := s.presence.ClearDisconnected(ctx, matchID, userID); err != nil {
		return fmt.Errorf("failed to clear disconnect: %w", err)
	}
	if token != "" {
		s.disarm(ctx, models.Deadline{
			Kind:    models.DeadlineGrace,
			MatchID: matchID,
			UserID:  userID,
			Token:   token,
		})
	}

	snapshot, err := s.gameState.Snapshot(ctx, match)
	if err != nil {
		return err
	}

	s.logger.Info("Player rejoined match", zap.String("match_id", matchID), zap.String("user_id", userID))

	s.notifier.Notify(ctx, []string{userID}, models.EventMatchState, matchState(match))
	s.notifier.Notify(ctx, []string{userID}, models.EventGameState, snapshot)
	return nil
}

// onGraceExpired forfeits the player only if the disconnect that set this
// deadline is still the current one.
func (s *MatchService) onGraceExpired(ctx context.Context, matchID, userID, token string) {
	current, err := s.presence.DisconnectToken(ctx, matchID, userID)
	if err != nil {
		s.logger.Error("Grace expiry: failed to read marker", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if current == "" || current != token {
		return
	}

	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		s.logger.Error("Grace expiry: failed to load match", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if match == nil || match.Status != models.MatchStatusOngoing {
		return
	}

	opponent := match.Opponent(userID)
	if opponent == "" {
		return
	}

	s.logger.Info("Player abandoned match", zap.String("match_id", matchID), zap.String("user_id", userID))
	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventPlayerAbandoned, models.PlayerAbandonedPayload{
		PlayerID: userID,
	})

	if err := s.Finalize(ctx, matchID, opponent); err != nil {
		s.logger.Error("Failed to finalize abandoned match", zap.String("match_id", matchID), zap.Error(err))
	}
}

// CheckWin finalizes the match once userID has solved every problem.
func (s *MatchService) CheckWin(ctx context.Context, matchID, userID string) error {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return ErrMatchNotFound
	}
	if match.Status != models.MatchStatusOngoing || len(match.ProblemIDs) == 0 {
		return nil
	}

	states, err := s.gameState.Read(ctx, matchID)
	if err != nil {
		return err
	}
	for _, st := range states {
		if st.UserID == userID && st.ProblemsSolved >= len(match.ProblemIDs) {
			return s.Finalize(ctx, matchID, userID)
		}
	}
	return nil
}

// Finalize completes an ONGOING match with winnerID and settles ratings.
// Losing the status CAS makes it a no-op.
func (s *MatchService) Finalize(ctx context.Context, matchID, winnerID string) error {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return ErrMatchNotFound
	}
	loserID := match.Opponent(winnerID)
	if loserID == "" {
		return ErrNotParticipant
	}

	ok, err := s.matches.TransitionStatus(ctx, matchID, models.Transition{
		From:     models.MatchStatusOngoing,
		To:       models.MatchStatusCompleted,
		WinnerID: &winnerID,
	})
	if err != nil {
		return fmt.Errorf("failed to complete match: %w", err)
	}
	if !ok {
		return nil
	}

	s.cancelMatchTimers(matchID)

	if err := s.settle(ctx, match, winnerID, loserID); err != nil {
		s.logger.Error("Failed to settle match",
			zap.String("match_id", matchID),
			zap.String("winner_id", winnerID),
			zap.Error(err))
		s.notifier.Notify(ctx, match.PlayerIDs(), models.EventGameError, models.ErrorPayload{
			Message: "Failed to record match result",
		})
	}

	if err := s.gameState.Teardown(ctx, matchID); err != nil {
		s.logger.Warn("Failed to tear down game state", zap.String("match_id", matchID), zap.Error(err))
	}
	for _, id := range match.PlayerIDs() {
		if err := s.presence.ClearDisconnected(ctx, matchID, id); err != nil {
			s.logger.Warn("Failed to clear disconnect marker", zap.String("match_id", matchID), zap.Error(err))
		}
	}
	return nil
}

func (s *MatchService) settle(ctx context.Context, match *models.Match, winnerID, loserID string) error {
	var winner, loser *models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.FindByID(gctx, winnerID)
		winner = u
		return err
	})
	g.Go(func() error {
		u, err := s.users.FindByID(gctx, loserID)
		loser = u
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if winner == nil || loser == nil {
		return ErrUserNotFound
	}

	newWinner, newLoser, delta := s.elo.Apply(winner.Rating, loser.Rating)

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.users.ApplyMatchResult(gctx, models.MatchOutcome{
			UserID:       winnerID,
			RatingChange: delta,
			Won:          true,
			NewSkill:     models.SkillLevelFor(newWinner),
		})
	})
	g.Go(func() error {
		return s.users.ApplyMatchResult(gctx, models.MatchOutcome{
			UserID:       loserID,
			RatingChange: -delta,
			Won:          false,
			NewSkill:     models.SkillLevelFor(newLoser),
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	changes := map[string]int{winnerID: delta, loserID: -delta}
	if err := s.matches.SaveRatingChanges(ctx, match.ID, changes); err != nil {
		return err
	}

	s.logger.Info("Match completed",
		zap.String("match_id", match.ID),
		zap.String("winner_id", winnerID),
		zap.Int("winner_rating", newWinner),
		zap.Int("loser_rating", newLoser),
		zap.Int("delta", delta))

	s.notifier.Notify(ctx, match.PlayerIDs(), models.EventGameEnd, models.GameEndPayload{
		Winner:        winnerID,
		RatingChanges: changes,
	})
	return nil
}

// GetGameState returns the current progress of an ONGOING match.
func (s *MatchService) GetGameState(ctx context.Context, matchID, userID string) (*models.GameStatePayload, error) {
	match, err := s.participantMatch(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusOngoing {
		return nil, ErrMatchNotOngoing
	}
	return s.gameState.Snapshot(ctx, match)
}

// GetMatch returns the match if userID played in it.
func (s *MatchService) GetMatch(ctx context.Context, matchID, userID string) (*models.Match, error) {
	return s.participantMatch(ctx, matchID, userID)
}

func (s *MatchService) participantMatch(ctx context.Context, matchID, userID string) (*models.Match, error) {
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
	return match, nil
}

func matchState(match *models.Match) models.MatchStatePayload {
	return models.MatchStatePayload{
		MatchID:   match.ID,
		Mode:      match.Mode,
		Status:    match.Status,
		Players:   match.Players,
		StartTime: match.StartTime,
	}
}

// arm stores d and sets a local timer for it.
func (s *MatchService) arm(ctx context.Context, d models.Deadline) error {
	if err := s.deadlines.Schedule(ctx, d); err != nil {
		return fmt.Errorf("failed to schedule %s deadline: %w", d.Kind, err)
	}
	s.schedule(timerKey(d), d.DueAt.Sub(s.now()), func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerCallbackTimeout)
		defer cancel()
		s.fire(ctx, d)
	})
	return nil
}

// disarm drops d locally and from the store.
func (s *MatchService) disarm(ctx context.Context, d models.Deadline) {
	s.cancelTimer(timerKey(d))
	if _, err := s.deadlines.Claim(ctx, d); err != nil {
		s.logger.Warn("Failed to drop deadline",
			zap.String("match_id", d.MatchID),
			zap.String("kind", string(d.Kind)),
			zap.Error(err))
	}
}

// fire runs d if this caller claims it. When the store cannot be reached
// the handler runs anyway; it re-checks match state before acting.
func (s *MatchService) fire(ctx context.Context, d models.Deadline) {
	claimed, err := s.deadlines.Claim(ctx, d)
	if err != nil {
		s.logger.Warn("Failed to claim deadline, handling it locally",
			zap.String("match_id", d.MatchID),
			zap.String("kind", string(d.Kind)),
			zap.Error(err))
	} else if !claimed {
		return
	}

	switch d.Kind {
	case models.DeadlineJoin:
		s.onJoinTimeout(ctx, d.MatchID)
	case models.DeadlineGrace:
		s.onGraceExpired(ctx, d.MatchID, d.UserID, d.Token)
	default:
		s.logger.Warn("Unknown deadline kind", zap.String("kind", string(d.Kind)))
	}
}

// SweepDeadlines fires up to one batch of due deadlines. Only one instance
// sweeps at a time.
func (s *MatchService) SweepDeadlines(ctx context.Context) {
	err := s.locker.WithLock(ctx, deadlineLockKey, deadlineLockTTL, func(ctx context.Context) error {
		due, err := s.deadlines.Due(ctx, s.now(), deadlineSweepSize)
		if err != nil {
			return err
		}
		for _, d := range due {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.cancelTimer(timerKey(d))
			s.fire(ctx, d)
		}
		return nil
	})
	if err != nil && !errors.Is(err, distributed.ErrLockNotAcquired) {
		s.logger.Error("Deadline sweep failed", zap.Error(err))
	}
}

func (s *MatchService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), deadlineLockTTL)
			s.SweepDeadlines(ctx)
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// timerKey groups local timers per match and player, so a new disconnect
// replaces the timer of the previous one.
func timerKey(d models.Deadline) string {
	if d.Kind == models.DeadlineGrace {
		return graceTimerKey(d.MatchID, d.UserID)
	}
	return joinTimerKey(d.MatchID)
}

func (s *MatchService) cancelMatchTimers(matchID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	for key, t := range s.timers {
		if key == joinTimerKey(matchID) || strings.HasPrefix(key, "grace:"+matchID+":") {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

func joinTimerKey(matchID string) string {
	return "join:" + matchID
}

func graceTimerKey(matchID, userID string) string {
	return "grace:" + matchID + ":" + userID
}

// schedule runs fn after d, replacing any timer already under key.
func (s *MatchService) schedule(key string, d time.Duration, fn func()) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.timerMu.Lock()
		if s.timers[key] != t {
			s.timerMu.Unlock()
			return
		}
		delete(s.timers, key)
		s.timerMu.Unlock()
		fn()
	})
	s.timers[key] = t
}

func (s *MatchService) cancelTimer(key string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *MatchService) pendingTimers() int {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return len(s.timers)
}
