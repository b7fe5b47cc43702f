package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/internal/service"
)

type Matchmaker interface {
	JoinQueue(ctx context.Context, userID string, mode models.MatchMode, connectionID string) error
	LeaveQueue(ctx context.Context, userID string) error
	HandleDisconnect(ctx context.Context, userID string) error
}

type MatchLifecycle interface {
	Join(ctx context.Context, matchID, userID string) error
	Rejoin(ctx context.Context, matchID, userID string) error
	StartGame(ctx context.Context, matchID, userID string) error
	GetGameState(ctx context.Context, matchID, userID string) (*models.GameStatePayload, error)
	Disconnect(ctx context.Context, userID string) error
}

type matchmakingRequest struct {
	Mode models.MatchMode `json:"mode"`
}

type matchRequest struct {
	MatchID string `json:"matchId"`
}

// Dispatcher routes client events to the matchmaking and match services
// and reports failures back on the same connection.
type Dispatcher struct {
	matchmaker Matchmaker
	matches    MatchLifecycle
	logger     *zap.Logger
}

func NewDispatcher(matchmaker Matchmaker, matches MatchLifecycle, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		matchmaker: matchmaker,
		matches:    matches,
		logger:     logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, ev ClientEvent) {
	userID := c.UserID()

	switch ev.Type {
	case models.EventJoinMatchmaking:
		var req matchmakingRequest
		if err := decodePayload(ev.Payload, &req); err != nil {
			d.fail(c, models.EventMatchmakingError, err)
			return
		}
		if req.Mode == "" {
			req.Mode = models.MatchModeStandard
		}
		if err := d.matchmaker.JoinQueue(ctx, userID, req.Mode, c.ID()); err != nil {
			d.fail(c, models.EventMatchmakingError, err)
		}

	case models.EventLeaveMatchmaking:
		if err := d.matchmaker.LeaveQueue(ctx, userID); err != nil {
			d.fail(c, models.EventMatchmakingError, err)
		}

	case models.EventJoinMatch:
		d.withMatch(c, ev, models.EventMatchError, func(matchID string) error {
			return d.matches.Join(ctx, matchID, userID)
		})

	case models.EventRejoinMatch:
		d.withMatch(c, ev, models.EventMatchError, func(matchID string) error {
			return d.matches.Rejoin(ctx, matchID, userID)
		})

	case models.EventStartGame:
		d.withMatch(c, ev, models.EventGameError, func(matchID string) error {
			return d.matches.StartGame(ctx, matchID, userID)
		})

	case models.EventGetGameState:
		d.withMatch(c, ev, models.EventGameError, func(matchID string) error {
			state, err := d.matches.GetGameState(ctx, matchID, userID)
			if err != nil {
				return err
			}
			c.Send(models.EventGameState, state)
			return nil
		})

	default:
		d.logger.Debug("Unknown client event", zap.String("type", ev.Type), zap.String("user_id", userID))
	}
}

// HandleDisconnect drops the user's tickets and starts any reconnect grace
// period.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, userID string) {
	if err := d.matchmaker.HandleDisconnect(ctx, userID); err != nil {
		d.logger.Error("Failed to dequeue disconnected user", zap.String("user_id", userID), zap.Error(err))
	}
	if err := d.matches.Disconnect(ctx, userID); err != nil {
		d.logger.Error("Failed to handle match disconnect", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *Dispatcher) withMatch(c *Client, ev ClientEvent, errEvent string, fn func(matchID string) error) {
	var req matchRequest
	if err := decodePayload(ev.Payload, &req); err != nil {
		d.fail(c, errEvent, err)
		return
	}
	if req.MatchID == "" {
		d.fail(c, errEvent, service.ErrInvalidInput)
		return
	}
	if err := fn(req.MatchID); err != nil {
		d.fail(c, errEvent, err)
	}
}

func (d *Dispatcher) fail(c *Client, errEvent string, err error) {
	d.logger.Warn("Client event failed",
		zap.String("user_id", c.UserID()),
		zap.String("event", errEvent),
		zap.Error(err))
	c.Send(errEvent, models.ErrorPayload{Message: clientMessage(err)})
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return service.ErrInvalidInput
	}
	return nil
}

// clientMessage keeps internal failures out of client-facing text.
func clientMessage(err error) string {
	known := []error{
		service.ErrInvalidInput,
		service.ErrInvalidMode,
		service.ErrAlreadyInMatch,
		service.ErrUserNotFound,
		service.ErrMatchNotFound,
		service.ErrNotParticipant,
		service.ErrMatchNotOngoing,
		service.ErrPlayersNotJoined,
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal error"
}
