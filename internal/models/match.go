package models

import "time"

type MatchStatus string

const (
	MatchStatusPendingJoin MatchStatus = "PENDING_JOIN"
	MatchStatusOngoing     MatchStatus = "ONGOING"
	MatchStatusCompleted   MatchStatus = "COMPLETED"
	MatchStatusAborted     MatchStatus = "ABORTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusAborted
}

type MatchMode string

const (
	MatchModeStandard MatchMode = "STANDARD"
	MatchModeRapid    MatchMode = "RAPID"
)

var validModes = map[MatchMode]bool{
	MatchModeStandard: true,
	MatchModeRapid:    true,
}

func (m MatchMode) Valid() bool {
	return validModes[m]
}

// MatchModes lists every queueable mode.
func MatchModes() []MatchMode {
	return []MatchMode{MatchModeStandard, MatchModeRapid}
}

type MatchPlayer struct {
	ID           string `json:"id" db:"id"`
	Username     string `json:"username" db:"username"`
	Rating       int    `json:"rating" db:"rating"`
	RatingChange *int   `json:"ratingChange,omitempty" db:"rating_change"`
}

type Match struct {
	ID          string        `json:"id" db:"id"`
	Mode        MatchMode     `json:"mode" db:"mode"`
	Status      MatchStatus   `json:"status" db:"status"`
	Players     []MatchPlayer `json:"players" db:"-"`
	ProblemIDs  []string      `json:"problemSet" db:"-"`
	StartTime   time.Time     `json:"startTime" db:"start_time"`
	EndTime     *time.Time    `json:"endTime,omitempty" db:"end_time"`
	WinnerID    *string       `json:"winnerId,omitempty" db:"winner_id"`
	AbortedByID *string       `json:"abortedBy,omitempty" db:"aborted_by_id"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
}

func (m *Match) PlayerIDs() []string {
	ids := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

func (m *Match) HasPlayer(userID string) bool {
	for _, p := range m.Players {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Opponent returns the other player's id, or "" if userID is not seated.
func (m *Match) Opponent(userID string) string {
	if !m.HasPlayer(userID) {
		return ""
	}
	for _, p := range m.Players {
		if p.ID != userID {
			return p.ID
		}
	}
	return ""
}

func (m *Match) HasProblem(questionID string) bool {
	for _, id := range m.ProblemIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// Transition is a guarded status change: it only applies while the match
// is still in From.
type Transition struct {
	From      MatchStatus
	To        MatchStatus
	WinnerID  *string
	AbortedBy *string
}

type DeadlineKind string

const (
	DeadlineJoin  DeadlineKind = "join"
	DeadlineGrace DeadlineKind = "grace"
)

// Deadline is a pending join or reconnect expiry of a match. Token tells
// successive disconnects of the same player apart.
type Deadline struct {
	Kind    DeadlineKind `json:"kind"`
	MatchID string       `json:"matchId"`
	UserID  string       `json:"userId,omitempty"`
	Token   string       `json:"token,omitempty"`
	DueAt   time.Time    `json:"-"`
}

// Key identifies the deadline regardless of its due time.
func (d Deadline) Key() string {
	return string(d.Kind) + ":" + d.MatchID + ":" + d.UserID + ":" + d.Token
}
