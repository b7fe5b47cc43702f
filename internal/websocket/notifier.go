package websocket

import (
	"context"

	"go.uber.org/zap"
)

// Publisher broadcasts an event to every instance, this one included.
type Publisher interface {
	Publish(ctx context.Context, userIDs []string, eventType string, payload interface{}) error
}

// Notifier sends server events through the event bus so they reach users
// wherever they are connected. If publishing fails the event still goes
// to local sockets.
type Notifier struct {
	hub    *Hub
	bus    Publisher
	logger *zap.Logger
}

// NewNotifier with a nil bus delivers locally only.
func NewNotifier(hub *Hub, bus Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{hub: hub, bus: bus, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, userIDs []string, eventType string, payload interface{}) {
	if len(userIDs) == 0 {
		return
	}
	if n.bus != nil {
		err := n.bus.Publish(ctx, userIDs, eventType, payload)
		if err == nil {
			return
		}
		n.logger.Warn("Event bus publish failed, delivering locally",
			zap.String("type", eventType),
			zap.Error(err))
	}
	n.hub.SendToUsers(userIDs, eventType, payload)
}
