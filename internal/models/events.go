package models

import "time"

// Server-to-client event names.
const (
	EventMatchmakingStatus  = "matchmaking_status"
	EventMatchmakingTimeout = "matchmaking_timeout"
	EventMatchmakingError   = "matchmaking_error"
	EventMatchFound         = "match_found"
	EventMatchState         = "match_state"
	EventMatchError         = "match_error"
	EventMatchAborted       = "match_aborted"
	EventGameStart          = "game_start"
	EventGameState          = "game_state"
	EventGameStateUpdate    = "game_state_update"
	EventGameEnd            = "game_end"
	EventGameError          = "game_error"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerAbandoned    = "player_abandoned"
	EventSubmissionResult   = "submission_result"
)

// Client-to-server event names.
const (
	EventJoinMatchmaking  = "join_matchmaking"
	EventLeaveMatchmaking = "leave_matchmaking"
	EventJoinMatch        = "join_match"
	EventRejoinMatch      = "rejoin_match"
	EventStartGame        = "start_game"
	EventGetGameState     = "get_game_state"
)

type MatchFoundPayload struct {
	MatchID string   `json:"matchId"`
	Players []string `json:"players"`
}

type MatchStatePayload struct {
	MatchID   string        `json:"matchId"`
	Mode      MatchMode     `json:"mode"`
	Status    MatchStatus   `json:"status"`
	Players   []MatchPlayer `json:"players"`
	StartTime time.Time     `json:"startTime"`
}

type GameStatePayload struct {
	Problems  []string           `json:"problems"`
	GameState []PlayerMatchState `json:"gameState"`
}

type GameStateUpdatePayload struct {
	UserID    string           `json:"userId"`
	ProblemID string           `json:"problemId"`
	Status    SubmissionStatus `json:"status"`
}

type GameEndPayload struct {
	Winner        string         `json:"winner"`
	RatingChanges map[string]int `json:"ratingChanges"`
}

type MatchAbortedPayload struct {
	Reason    string  `json:"reason"`
	Winner    *string `json:"winner"`
	AbortedBy string  `json:"abortedBy"`
}

type PlayerDisconnectedPayload struct {
	PlayerID         string `json:"playerId"`
	ReconnectTimeout int    `json:"reconnectTimeout"`
}

type PlayerAbandonedPayload struct {
	PlayerID string `json:"playerId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type MatchmakingStatusPayload struct {
	Status string    `json:"status"`
	Mode   MatchMode `json:"mode"`
}
