package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/pkg/distributed"
)

const disconnectTimeout = 10 * time.Second

// Message is a server event as written to the socket.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ClientEvent is an event read from the socket.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventRouter handles inbound client events and the loss of a user's last
// connection on this instance.
type EventRouter interface {
	Dispatch(ctx context.Context, c *Client, ev ClientEvent)
	HandleDisconnect(ctx context.Context, userID string)
}

// delivery targets either one connection or every connection of userIDs.
type delivery struct {
	client  *Client
	userIDs []string
	msg     *Message
}

// Hub tracks the sockets open on this instance, keyed by user. A user may
// hold several connections; each gets every event addressed to them.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	deliver    chan delivery
	register   chan *Client
	unregister chan *Client

	router EventRouter
	logger *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// SetRouter must be called before Run.
func (h *Hub) SetRouter(r EventRouter) {
	h.router = r
}

// Run processes registrations and deliveries until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case d := <-h.deliver:
			h.deliverMessage(d)

		case <-h.stopChan:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[client.userID] = conns
	}
	conns[client] = struct{}{}

	h.logger.Info("WebSocket client registered",
		zap.String("user_id", client.userID),
		zap.String("conn_id", client.id),
		zap.Int("user_connections", len(conns)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.clients[client.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, client)
	close(client.send)
	last := len(conns) == 0
	if last {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	h.logger.Info("WebSocket client unregistered",
		zap.String("user_id", client.userID),
		zap.String("conn_id", client.id),
		zap.Bool("last_connection", last))

	if last && h.router != nil {
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			h.router.HandleDisconnect(ctx, userID)
		}(client.userID)
	}
}

func (h *Hub) deliverMessage(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if d.client != nil {
		if _, ok := h.clients[d.client.userID][d.client]; ok {
			h.trySend(d.client, d.msg)
		}
		return
	}

	for _, userID := range d.userIDs {
		for client := range h.clients[userID] {
			h.trySend(client, d.msg)
		}
	}
}

func (h *Hub) trySend(client *Client, msg *Message) {
	select {
	case client.send <- msg:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("user_id", client.userID),
			zap.String("type", msg.Type))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.clients {
		for client := range conns {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

// SendToUsers queues an event for every local connection of userIDs.
func (h *Hub) SendToUsers(userIDs []string, msgType string, payload interface{}) {
	select {
	case h.deliver <- delivery{userIDs: userIDs, msg: &Message{Type: msgType, Payload: payload}}:
	case <-h.stopChan:
	}
}

// sendToClient queues an event for one connection only.
func (h *Hub) sendToClient(client *Client, msgType string, payload interface{}) {
	select {
	case h.deliver <- delivery{client: client, msg: &Message{Type: msgType, Payload: payload}}:
	case <-h.stopChan:
	}
}

// DeliverEnvelope hands an event received from the bus to local sockets.
func (h *Hub) DeliverEnvelope(env distributed.Envelope) {
	h.SendToUsers(env.UserIDs, env.Type, env.Payload)
}

// IsConnected reports whether userID holds a socket on this instance.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}
