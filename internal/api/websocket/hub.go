package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenGripCore/internal/actuator"
	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

// TokenValidator is satisfied by *auth.AuthService.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (string, []auth.Permission, error)
}

// StatusProvider returns the snapshot sent to a client right after it
// authenticated.
type StatusProvider interface {
	GetStatus() any
}

// Hub is the live operator console: every authenticated client receives
// telemetry, actuator and link transitions and executed commands.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger

	validator      TokenValidator
	statusProvider StatusProvider
}

func NewHub(logger *zap.Logger, validator TokenValidator) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
	}
}

func (h *Hub) SetStatusProvider(provider StatusProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusProvider = provider
}

func (h *Hub) status() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.statusProvider == nil {
		return nil
	}
	return h.statusProvider.GetStatus()
}

// Run is the hub's event loop. All clients are dropped when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// slow or dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast never blocks the caller; the control loop calls it every cycle.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

func (h *Hub) BroadcastTelemetry(sample types.TelemetrySample) {
	h.Broadcast(NewTelemetryMessage(sample))
}

func (h *Hub) BroadcastActuatorState(state, previous actuator.State) {
	h.Broadcast(NewStateMessage(MessageTypeActuatorState, string(state), string(previous)))
}

func (h *Hub) BroadcastLinkState(state, previous types.LinkState) {
	h.Broadcast(NewStateMessage(MessageTypeLinkState, state.String(), previous.String()))
}

func (h *Hub) BroadcastCommand(res actuator.Result) {
	data := CommandData{
		CommandID: res.Command.ID,
		Type:      res.Command.Type,
		Origin:    string(res.Command.Origin),
		Outcome:   string(res.Outcome),
		Pressure:  res.Pressure,
		Duration:  float64(res.Duration().Microseconds()) / 1000,
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}
	h.Broadcast(NewMessage(MessageTypeCommandExecuted, data))
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
