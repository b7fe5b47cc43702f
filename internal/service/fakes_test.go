package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
	"github.com/codeclash/codeclash-backend/pkg/executor"
)

func cloneMatch(m *models.Match) *models.Match {
	c := *m
	c.Players = append([]models.MatchPlayer(nil), m.Players...)
	c.ProblemIDs = append([]string(nil), m.ProblemIDs...)
	return &c
}

type fakeMatchStore struct {
	mu            sync.Mutex
	matches       map[string]*models.Match
	ratingChanges map[string]map[string]int
	transitions   []models.Transition
	saveErr       error
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{
		matches:       make(map[string]*models.Match),
		ratingChanges: make(map[string]map[string]int),
	}
}

func (f *fakeMatchStore) Create(_ context.Context, m *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[m.ID] = cloneMatch(m)
	return nil
}

func (f *fakeMatchStore) FindByID(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, nil
	}
	return cloneMatch(m), nil
}

func (f *fakeMatchStore) FindActiveByPlayer(_ context.Context, userID string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.matches {
		if m.Status.IsTerminal() || !m.HasPlayer(userID) {
			continue
		}
		return cloneMatch(m), nil
	}
	return nil, nil
}

func (f *fakeMatchStore) TransitionStatus(_ context.Context, id string, t models.Transition) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok || m.Status != t.From {
		return false, nil
	}
	m.Status = t.To
	if t.WinnerID != nil {
		m.WinnerID = t.WinnerID
	}
	if t.AbortedBy != nil {
		m.AbortedByID = t.AbortedBy
	}
	f.transitions = append(f.transitions, t)
	return true, nil
}

func (f *fakeMatchStore) SaveRatingChanges(_ context.Context, matchID string, changes map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.ratingChanges[matchID] = changes
	return nil
}

func (f *fakeMatchStore) status(id string) models.MatchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[id].Status
}

func (f *fakeMatchStore) put(m *models.Match) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[m.ID] = cloneMatch(m)
}

type fakeQuestionStore struct {
	picks []models.Question
	byID  map[string]*models.Question
}

func (f *fakeQuestionStore) PickForMatch(context.Context) ([]models.Question, error) {
	if len(f.picks) == 0 {
		return nil, ErrNotEnoughQuestions
	}
	return f.picks, nil
}

func (f *fakeQuestionStore) FindWithTestCases(_ context.Context, id string) (*models.Question, error) {
	return f.byID[id], nil
}

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	outcomes []models.MatchOutcome
}

func newFakeUserStore(users ...models.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]*models.User)}
	for i := range users {
		u := users[i]
		f.users[u.ID] = &u
	}
	return f
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeUserStore) ApplyMatchResult(_ context.Context, o models.MatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[o.UserID]
	u.Rating += o.RatingChange
	u.MatchesPlayed++
	if o.Won {
		u.Wins++
		u.WinStreak++
	} else {
		u.Losses++
		u.WinStreak = 0
	}
	u.SkillLevel = o.NewSkill
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeUserStore) rating(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].Rating
}

type fakeSubmissionStore struct {
	mu      sync.Mutex
	records map[string]*models.Submission
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{records: make(map[string]*models.Submission)}
}

func (f *fakeSubmissionStore) Create(_ context.Context, s *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	c.CreatedAt = time.Now()
	f.records[s.ID] = &c
	return nil
}

func (f *fakeSubmissionStore) FindByID(_ context.Context, id string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

type fakeTicketPool struct {
	mu      sync.Mutex
	tickets map[models.MatchMode]map[string]models.QueueTicket
	// beforeClaim runs inside ClaimPair before the check, to simulate a
	// competing claim.
	beforeClaim func(mode models.MatchMode)
}

func newFakeTicketPool() *fakeTicketPool {
	return &fakeTicketPool{tickets: make(map[models.MatchMode]map[string]models.QueueTicket)}
}

func (f *fakeTicketPool) Upsert(_ context.Context, t *models.QueueTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickets[t.Mode] == nil {
		f.tickets[t.Mode] = make(map[string]models.QueueTicket)
	}
	f.tickets[t.Mode][t.PlayerID] = *t
	return nil
}

func (f *fakeTicketPool) Remove(_ context.Context, mode models.MatchMode, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tickets[mode], playerID)
	return nil
}

func (f *fakeTicketPool) Get(_ context.Context, mode models.MatchMode, playerID string) (*models.QueueTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[mode][playerID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTicketPool) List(_ context.Context, mode models.MatchMode) ([]models.QueueTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.QueueTicket, 0, len(f.tickets[mode]))
	for _, t := range f.tickets[mode] {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTicketPool) ClaimPair(_ context.Context, mode models.MatchMode, a, b string) (bool, error) {
	if f.beforeClaim != nil {
		f.beforeClaim(mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, okA := f.tickets[mode][a]
	_, okB := f.tickets[mode][b]
	if !okA || !okB {
		return false, nil
	}
	for _, m := range f.tickets {
		delete(m, a)
		delete(m, b)
	}
	return true, nil
}

func (f *fakeTicketPool) has(mode models.MatchMode, playerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tickets[mode][playerID]
	return ok
}

type fakeGameStateStore struct {
	mu     sync.Mutex
	states map[string]map[string]*models.PlayerMatchState
}

func newFakeGameStateStore() *fakeGameStateStore {
	return &fakeGameStateStore{states: make(map[string]map[string]*models.PlayerMatchState)}
}

func (f *fakeGameStateStore) Init(_ context.Context, matchID string, playerIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]*models.PlayerMatchState, len(playerIDs))
	for _, id := range playerIDs {
		m[id] = &models.PlayerMatchState{UserID: id, SolvedProblemIDs: []string{}}
	}
	f.states[matchID] = m
	return nil
}

func (f *fakeGameStateStore) RecordSolve(_ context.Context, matchID, playerID, problemID string, at time.Time) (*models.PlayerMatchState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[matchID][playerID]
	if !ok {
		return nil, false, nil
	}
	if st.HasSolved(problemID) {
		c := *st
		return &c, false, nil
	}
	st.SolvedProblemIDs = append(st.SolvedProblemIDs, problemID)
	st.ProblemsSolved++
	st.LastSubmissionAt = &at
	c := *st
	return &c, true, nil
}

func (f *fakeGameStateStore) Read(_ context.Context, matchID string) ([]models.PlayerMatchState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PlayerMatchState, 0, len(f.states[matchID]))
	for _, st := range f.states[matchID] {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeGameStateStore) Teardown(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, matchID)
	return nil
}

type fakePresenceStore struct {
	mu           sync.Mutex
	joins        map[string]map[string]bool
	disconnected map[string]string
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{
		joins:        make(map[string]map[string]bool),
		disconnected: make(map[string]string),
	}
}

func (f *fakePresenceStore) InitJoin(_ context.Context, matchID string, playerIDs []string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		m[id] = false
	}
	f.joins[matchID] = m
	return nil
}

func (f *fakePresenceStore) MarkJoined(_ context.Context, matchID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.joins[matchID]
	if !ok {
		return false, nil
	}
	m[userID] = true
	for _, joined := range m {
		if !joined {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakePresenceStore) Joined(_ context.Context, matchID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for id, joined := range f.joins[matchID] {
		out[id] = joined
	}
	return out, nil
}

func (f *fakePresenceStore) ClearJoin(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joins, matchID)
	return nil
}

func (f *fakePresenceStore) MarkDisconnected(_ context.Context, matchID, userID, token string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[matchID+":"+userID] = token
	return nil
}

func (f *fakePresenceStore) ClearDisconnected(_ context.Context, matchID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.disconnected, matchID+":"+userID)
	return nil
}

func (f *fakePresenceStore) DisconnectToken(_ context.Context, matchID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected[matchID+":"+userID], nil
}

type fakeDeadlineStore struct {
	mu      sync.Mutex
	pending map[string]models.Deadline
}

func newFakeDeadlineStore() *fakeDeadlineStore {
	return &fakeDeadlineStore{pending: make(map[string]models.Deadline)}
}

func (f *fakeDeadlineStore) Schedule(_ context.Context, d models.Deadline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[d.Key()] = d
	return nil
}

func (f *fakeDeadlineStore) Claim(_ context.Context, d models.Deadline) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[d.Key()]; !ok {
		return false, nil
	}
	delete(f.pending, d.Key())
	return true, nil
}

func (f *fakeDeadlineStore) Due(_ context.Context, now time.Time, limit int) ([]models.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deadline
	for _, d := range f.pending {
		if !d.DueAt.After(now) && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeadlineStore) count(kind models.DeadlineKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.pending {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

type fakeLocker struct {
	busy bool
}

func (f *fakeLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(ctx context.Context) error) error {
	if f.busy {
		return distributed.ErrLockNotAcquired
	}
	return fn(ctx)
}

type sentEvent struct {
	UserIDs []string
	Type    string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, userIDs []string, eventType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{
		UserIDs: append([]string(nil), userIDs...),
		Type:    eventType,
		Payload: payload,
	})
}

func (n *recordingNotifier) ofType(eventType string) []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEvent
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) count(eventType string) int {
	return len(n.ofType(eventType))
}

type runnerCall struct {
	Queue string
	Job   models.SubmissionJob
	Wait  time.Duration
}

// scriptedRunner answers Run from a function of the job input.
type scriptedRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	answer func(job models.SubmissionJob) (*models.ExecutionResult, error)
}

func (r *scriptedRunner) Run(_ context.Context, queue string, job models.SubmissionJob, wait time.Duration) (*models.ExecutionResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{Queue: queue, Job: job, Wait: wait})
	r.mu.Unlock()
	return r.answer(job)
}

func (r *scriptedRunner) inputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Job.Input)
	}
	return out
}

type winRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (w *winRecorder) CheckWin(_ context.Context, matchID, userID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, matchID+":"+userID)
	return nil
}

type creatorFunc func(ctx context.Context, a, b models.QueueTicket, mode models.MatchMode) (*models.Match, error)

func (f creatorFunc) CreateMatch(ctx context.Context, a, b models.QueueTicket, mode models.MatchMode) (*models.Match, error) {
	return f(ctx, a, b, mode)
}

type executorFunc func(ctx context.Context, req executor.ExecuteRequest) (*executor.ExecuteResponse, error)

func (f executorFunc) Execute(ctx context.Context, req executor.ExecuteRequest) (*executor.ExecuteResponse, error) {
	return f(ctx, req)
}

// memoryWorkQueue is a WorkQueue without delays or persistence.
type memoryWorkQueue struct {
	name string

	mu         sync.Mutex
	ready      []*distributed.Job
	processing map[string]*distributed.Job
	dead       []*distributed.Job
	results    map[string]chan []byte
	claims     map[string]chan struct{}
	completed  []string
}

func newMemoryWorkQueue(name string) *memoryWorkQueue {
	return &memoryWorkQueue{
		name:       name,
		processing: make(map[string]*distributed.Job),
		results:    make(map[string]chan []byte),
		claims:     make(map[string]chan struct{}),
	}
}

func (q *memoryWorkQueue) Name() string { return q.name }

func (q *memoryWorkQueue) Enqueue(_ context.Context, job *distributed.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := *job
	q.ready = append(q.ready, &c)
	return nil
}

func (q *memoryWorkQueue) Dequeue(context.Context) (*distributed.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, distributed.ErrQueueEmpty
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	q.processing[job.ID] = job
	select {
	case q.claimChanLocked(job.ID) <- struct{}{}:
	default:
	}
	return job, nil
}

func (q *memoryWorkQueue) claimChanLocked(jobID string) chan struct{} {
	ch, ok := q.claims[jobID]
	if !ok {
		ch = make(chan struct{}, 1)
		q.claims[jobID] = ch
	}
	return ch
}

func (q *memoryWorkQueue) AwaitClaim(ctx context.Context, jobID string, timeout time.Duration) error {
	q.mu.Lock()
	ch := q.claimChanLocked(jobID)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return distributed.ErrClaimTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryWorkQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, jobID)
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *memoryWorkQueue) Retry(_ context.Context, job *distributed.Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	delete(q.processing, job.ID)
	if job.Attempts >= job.MaxAttempts {
		q.dead = append(q.dead, job)
		return true, nil
	}
	q.ready = append(q.ready, job)
	return false, nil
}

func (q *memoryWorkQueue) RecoverStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (q *memoryWorkQueue) resultChan(jobID string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.results[jobID]
	if !ok {
		ch = make(chan []byte, 1)
		q.results[jobID] = ch
	}
	return ch
}

func (q *memoryWorkQueue) PublishResult(_ context.Context, jobID string, payload []byte) error {
	select {
	case q.resultChan(jobID) <- payload:
	default:
	}
	return nil
}

func (q *memoryWorkQueue) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) ([]byte, error) {
	select {
	case data := <-q.resultChan(jobID):
		return data, nil
	case <-time.After(timeout):
		return nil, distributed.ErrResultTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memoryWorkQueue) deadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}
