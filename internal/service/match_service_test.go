package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/codeclash-backend/internal/models"
)

type matchFixture struct {
	svc       *MatchService
	matches   *fakeMatchStore
	users     *fakeUserStore
	states    *fakeGameStateStore
	presence  *fakePresenceStore
	deadlines *fakeDeadlineStore
	notifier  *recordingNotifier
	gameState *GameStateService
}

func newMatchFixture(t *testing.T, cfg MatchConfig) *matchFixture {
	t.Helper()

	f := &matchFixture{
		matches: newFakeMatchStore(),
		users: newFakeUserStore(
			models.User{ID: "alice", Username: "alice", Rating: 1200},
			models.User{ID: "bob", Username: "bob", Rating: 1200},
		),
		states:   newFakeGameStateStore(),
		presence:  newFakePresenceStore(),
		deadlines: newFakeDeadlineStore(),
		notifier:  &recordingNotifier{},
	}
	f.gameState = NewGameStateService(f.states, nil)

	questions := &fakeQuestionStore{picks: []models.Question{
		{ID: "q1", Rating: 900},
		{ID: "q2", Rating: 1400},
		{ID: "q3", Rating: 2000},
	}}

	f.svc = NewMatchService(f.matches, questions, f.users, f.gameState, f.presence, f.deadlines, &fakeLocker{},
		NewELOService(32), f.notifier, cfg, nil)
	ids := 0
	f.svc.newID = func() string {
		ids++
		return "match-" + string(rune('0'+ids))
	}
	tokens := 0
	f.svc.newToken = func() string {
		tokens++
		return "token-" + string(rune('0'+tokens))
	}

	t.Cleanup(f.svc.Stop)
	return f
}

func longTimeouts() MatchConfig {
	return MatchConfig{JoinTimeout: time.Minute, ReconnectTimeout: time.Minute}
}

func (f *matchFixture) create(t *testing.T) *models.Match {
	t.Helper()
	m, err := f.svc.CreateMatch(context.Background(),
		models.QueueTicket{PlayerID: "alice", Rating: 1200},
		models.QueueTicket{PlayerID: "bob", Rating: 1200},
		models.MatchModeStandard)
	require.NoError(t, err)
	return m
}

func (f *matchFixture) started(t *testing.T) *models.Match {
	t.Helper()
	m := f.create(t)
	require.NoError(t, f.svc.Join(context.Background(), m.ID, "alice"))
	require.NoError(t, f.svc.Join(context.Background(), m.ID, "bob"))
	require.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	return m
}

func TestMatchService_CreateMatch(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())

	m := f.create(t)

	stored, err := f.matches.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPendingJoin, stored.Status)
	assert.Equal(t, []string{"q1", "q2", "q3"}, stored.ProblemIDs)
	assert.Equal(t, []string{"alice", "bob"}, stored.PlayerIDs())

	found := f.notifier.ofType(models.EventMatchFound)
	require.Len(t, found, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, found[0].UserIDs)
	assert.Equal(t, 1, f.svc.pendingTimers())
	assert.Equal(t, 1, f.deadlines.count(models.DeadlineJoin))
}

func TestMatchService_CreateMatchWithoutQuestions(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	f.svc.questions = &fakeQuestionStore{}

	_, err := f.svc.CreateMatch(context.Background(),
		models.QueueTicket{PlayerID: "alice"}, models.QueueTicket{PlayerID: "bob"}, models.MatchModeStandard)
	assert.ErrorIs(t, err, ErrNotEnoughQuestions)
	assert.Equal(t, 0, f.notifier.count(models.EventMatchFound))
}

func TestMatchService_BothJoinsStartTheGame(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, m.ID, "alice"))
	assert.Equal(t, models.MatchStatusPendingJoin, f.matches.status(m.ID))
	assert.Equal(t, 0, f.notifier.count(models.EventGameStart))

	require.NoError(t, f.svc.Join(ctx, m.ID, "bob"))
	assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	assert.Equal(t, 2, f.notifier.count(models.EventMatchState))
	assert.Equal(t, 0, f.svc.pendingTimers())
	assert.Equal(t, 0, f.deadlines.count(models.DeadlineJoin))

	starts := f.notifier.ofType(models.EventGameStart)
	require.Len(t, starts, 1)
	payload, ok := starts[0].Payload.(*models.GameStatePayload)
	require.True(t, ok)
	assert.Equal(t, []string{"q1", "q2", "q3"}, payload.Problems)
	require.Len(t, payload.GameState, 2)
	for _, st := range payload.GameState {
		assert.Zero(t, st.ProblemsSolved)
	}
}

func TestMatchService_JoinChecksParticipant(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)

	assert.ErrorIs(t, f.svc.Join(context.Background(), m.ID, "mallory"), ErrNotParticipant)
	assert.ErrorIs(t, f.svc.Join(context.Background(), "missing", "alice"), ErrMatchNotFound)
}

func TestMatchService_StartGameWaitsForEveryone(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, m.ID, "alice"))
	require.NoError(t, f.svc.StartGame(ctx, m.ID, "alice"))

	errs := f.notifier.ofType(models.EventGameError)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"alice"}, errs[0].UserIDs)
	assert.Equal(t, models.MatchStatusPendingJoin, f.matches.status(m.ID))

	require.NoError(t, f.svc.Join(ctx, m.ID, "bob"))
	require.NoError(t, f.svc.StartGame(ctx, m.ID, "alice"))
	assert.Equal(t, 2, f.notifier.count(models.EventGameStart))
}

func TestMatchService_JoinTimeoutAbortsWithoutRating(t *testing.T) {
	f := newMatchFixture(t, MatchConfig{JoinTimeout: 30 * time.Millisecond, ReconnectTimeout: time.Minute})
	m := f.create(t)

	require.NoError(t, f.svc.Join(context.Background(), m.ID, "alice"))

	require.Eventually(t, func() bool {
		return f.matches.status(m.ID) == models.MatchStatusAborted
	}, time.Second, 5*time.Millisecond)

	stored, err := f.matches.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, "alice", *stored.WinnerID)
	require.NotNil(t, stored.AbortedByID)
	assert.Equal(t, "bob", *stored.AbortedByID)

	require.Eventually(t, func() bool {
		return f.notifier.count(models.EventMatchAborted) == 1
	}, time.Second, 5*time.Millisecond)
	aborted := f.notifier.ofType(models.EventMatchAborted)[0].Payload.(models.MatchAbortedPayload)
	assert.Equal(t, "bob", aborted.AbortedBy)

	assert.Equal(t, 1200, f.users.rating("alice"))
	assert.Equal(t, 1200, f.users.rating("bob"))
	assert.Empty(t, f.users.outcomes)
}

func TestMatchService_JoinTimeoutNobodyJoined(t *testing.T) {
	f := newMatchFixture(t, MatchConfig{JoinTimeout: 20 * time.Millisecond, ReconnectTimeout: time.Minute})
	m := f.create(t)

	require.Eventually(t, func() bool {
		return f.matches.status(m.ID) == models.MatchStatusAborted
	}, time.Second, 5*time.Millisecond)

	stored, _ := f.matches.FindByID(context.Background(), m.ID)
	assert.Nil(t, stored.WinnerID)
	require.NotNil(t, stored.AbortedByID)
	assert.Equal(t, "alice", *stored.AbortedByID)
}

func TestMatchService_JoinTimeoutIgnoresStartedMatch(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)

	// a timer that slipped past cancellation must not touch the match
	f.svc.onJoinTimeout(context.Background(), m.ID)
	assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	assert.Equal(t, 0, f.notifier.count(models.EventMatchAborted))
}

func TestMatchService_DisconnectForfeitsAfterGrace(t *testing.T) {
	f := newMatchFixture(t, MatchConfig{JoinTimeout: time.Minute, ReconnectTimeout: 30 * time.Millisecond})
	m := f.started(t)

	require.NoError(t, f.svc.Disconnect(context.Background(), "alice"))

	notices := f.notifier.ofType(models.EventPlayerDisconnected)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"bob"}, notices[0].UserIDs)

	require.Eventually(t, func() bool {
		return f.notifier.count(models.EventGameEnd) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.MatchStatusCompleted, f.matches.status(m.ID))
	assert.Equal(t, 1, f.notifier.count(models.EventPlayerAbandoned))

	end := f.notifier.ofType(models.EventGameEnd)[0].Payload.(models.GameEndPayload)
	assert.Equal(t, "bob", end.Winner)
	assert.Equal(t, map[string]int{"bob": 16, "alice": -16}, end.RatingChanges)

	assert.Equal(t, 1216, f.users.rating("bob"))
	assert.Equal(t, 1184, f.users.rating("alice"))
}

func TestMatchService_RejoinCancelsForfeit(t *testing.T) {
	f := newMatchFixture(t, MatchConfig{JoinTimeout: time.Minute, ReconnectTimeout: 40 * time.Millisecond})
	m := f.started(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Disconnect(ctx, "alice"))
	require.NoError(t, f.svc.Rejoin(ctx, m.ID, "alice"))

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	assert.Equal(t, 0, f.notifier.count(models.EventPlayerAbandoned))
	assert.Equal(t, 0, f.notifier.count(models.EventGameEnd))

	states := f.notifier.ofType(models.EventGameState)
	require.Len(t, states, 1)
	assert.Equal(t, []string{"alice"}, states[0].UserIDs)
}

func TestMatchService_GraceExpiryAfterRejoinElsewhere(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Disconnect(ctx, "alice"))
	// another instance cleared the marker; this instance's timer still fires
	require.NoError(t, f.presence.ClearDisconnected(ctx, m.ID, "alice"))
	f.svc.onGraceExpired(ctx, m.ID, "alice", "token-1")

	assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
}

func TestMatchService_StaleGraceDeadlineAfterSecondDisconnect(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Disconnect(ctx, "alice"))
	first := f.presence.disconnected[m.ID+":alice"]
	require.NoError(t, f.svc.Rejoin(ctx, m.ID, "alice"))
	require.NoError(t, f.svc.Disconnect(ctx, "alice"))
	second := f.presence.disconnected[m.ID+":alice"]
	require.NotEqual(t, first, second)

	// the first disconnect's deadline arrives late
	f.svc.onGraceExpired(ctx, m.ID, "alice", first)
	assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	assert.Equal(t, 0, f.notifier.count(models.EventPlayerAbandoned))

	f.svc.onGraceExpired(ctx, m.ID, "alice", second)
	assert.Equal(t, models.MatchStatusCompleted, f.matches.status(m.ID))
	assert.Equal(t, 1, f.notifier.count(models.EventPlayerAbandoned))
}

func TestMatchService_RejoinDropsStoredGraceDeadline(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Disconnect(ctx, "alice"))
	assert.Equal(t, 1, f.deadlines.count(models.DeadlineGrace))

	require.NoError(t, f.svc.Rejoin(ctx, m.ID, "alice"))
	assert.Equal(t, 0, f.deadlines.count(models.DeadlineGrace))
	assert.Equal(t, 0, f.svc.pendingTimers())
}

func TestMatchService_SweepFiresJoinDeadlineAfterStop(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)

	// the instance that created the match goes away before the deadline
	f.svc.Stop()
	assert.Equal(t, 0, f.svc.pendingTimers())
	assert.Equal(t, 1, f.deadlines.count(models.DeadlineJoin))

	f.svc.SweepDeadlines(context.Background())
	assert.Equal(t, models.MatchStatusPendingJoin, f.matches.status(m.ID), "deadline not due yet")

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.svc.SweepDeadlines(context.Background())

	assert.Equal(t, models.MatchStatusAborted, f.matches.status(m.ID))
	assert.Equal(t, 0, f.deadlines.count(models.DeadlineJoin))
	assert.Equal(t, 1, f.notifier.count(models.EventMatchAborted))

	// a second sweep finds nothing left to fire
	f.svc.SweepDeadlines(context.Background())
	assert.Equal(t, 1, f.notifier.count(models.EventMatchAborted))
}

func TestMatchService_SweepFiresGraceDeadlineAfterStop(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)

	require.NoError(t, f.svc.Disconnect(context.Background(), "alice"))
	f.svc.Stop()

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.svc.SweepDeadlines(context.Background())

	assert.Equal(t, models.MatchStatusCompleted, f.matches.status(m.ID))
	end := f.notifier.ofType(models.EventGameEnd)
	require.Len(t, end, 1)
	assert.Equal(t, "bob", end[0].Payload.(models.GameEndPayload).Winner)
}

func TestMatchService_SweepSkipsWhenLockHeld(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)
	f.svc.Stop()
	f.svc.locker = &fakeLocker{busy: true}

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.svc.SweepDeadlines(context.Background())

	assert.Equal(t, models.MatchStatusPendingJoin, f.matches.status(m.ID))
	assert.Equal(t, 1, f.deadlines.count(models.DeadlineJoin))
}

func TestMatchService_DisconnectOutsideMatchIsNoop(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	f.create(t)

	require.NoError(t, f.svc.Disconnect(context.Background(), "alice"))
	assert.Equal(t, 0, f.notifier.count(models.EventPlayerDisconnected))
}

func TestMatchService_CheckWinFinalizesOnLastProblem(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)
	ctx := context.Background()

	for i, q := range []string{"q1", "q2"} {
		_, changed, err := f.gameState.RecordSolve(ctx, m.ID, "bob", q)
		require.NoError(t, err)
		require.True(t, changed, "solve %d", i)
		require.NoError(t, f.svc.CheckWin(ctx, m.ID, "bob"))
		assert.Equal(t, models.MatchStatusOngoing, f.matches.status(m.ID))
	}

	_, _, err := f.gameState.RecordSolve(ctx, m.ID, "bob", "q3")
	require.NoError(t, err)
	require.NoError(t, f.svc.CheckWin(ctx, m.ID, "bob"))

	assert.Equal(t, models.MatchStatusCompleted, f.matches.status(m.ID))
	end := f.notifier.ofType(models.EventGameEnd)
	require.Len(t, end, 1)
	assert.Equal(t, "bob", end[0].Payload.(models.GameEndPayload).Winner)

	// state is gone once the match is over
	left, err := f.states.Read(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestMatchService_FinalizeSettlesOnce(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)

	var wg sync.WaitGroup
	for _, winner := range []string{"alice", "bob", "alice"} {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			assert.NoError(t, f.svc.Finalize(context.Background(), m.ID, w))
		}(winner)
	}
	wg.Wait()

	assert.Equal(t, 1, f.notifier.count(models.EventGameEnd))
	assert.Len(t, f.users.outcomes, 2)
	assert.Equal(t, 2400, f.users.rating("alice")+f.users.rating("bob"))
}

func TestMatchService_SettleFailureReportsGameError(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.started(t)
	f.matches.saveErr = errors.New("write failed")

	require.NoError(t, f.svc.Finalize(context.Background(), m.ID, "alice"))

	assert.Equal(t, models.MatchStatusCompleted, f.matches.status(m.ID))
	assert.Equal(t, 0, f.notifier.count(models.EventGameEnd))
	assert.Equal(t, 1, f.notifier.count(models.EventGameError))
}

func TestMatchService_GetGameStateRequiresOngoing(t *testing.T) {
	f := newMatchFixture(t, longTimeouts())
	m := f.create(t)
	ctx := context.Background()

	_, err := f.svc.GetGameState(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, ErrMatchNotOngoing)

	require.NoError(t, f.svc.Join(ctx, m.ID, "alice"))
	require.NoError(t, f.svc.Join(ctx, m.ID, "bob"))

	snapshot, err := f.svc.GetGameState(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, snapshot.GameState, 2)

	_, err = f.svc.GetGameState(ctx, m.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}
