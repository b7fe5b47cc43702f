package models

import "time"

// QueueTicket is a player's standing request to be matched in one mode.
type QueueTicket struct {
	PlayerID     string    `json:"playerId"`
	Rating       int       `json:"rating"`
	Mode         MatchMode `json:"mode"`
	ConnectionID string    `json:"connectionId"`
	InstanceID   string    `json:"instanceId"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Waited returns how long the ticket has been queued at now.
func (t QueueTicket) Waited(now time.Time) time.Duration {
	return now.Sub(t.EnqueuedAt)
}

type PairStatus int

const (
	PairWaiting PairStatus = iota
	PairMatched
	PairTimedOut
	PairGone
)

func (s PairStatus) String() string {
	switch s {
	case PairWaiting:
		return "waiting"
	case PairMatched:
		return "matched"
	case PairTimedOut:
		return "timed_out"
	case PairGone:
		return "gone"
	default:
		return "unknown"
	}
}

type PairResult struct {
	Status   PairStatus
	Caller   *QueueTicket
	Opponent *QueueTicket
}
