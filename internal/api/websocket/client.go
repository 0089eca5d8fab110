package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// The console is one-way; clients only send auth and ping.
	maxMessageSize = 4096

	sendBufferSize  = 256
	replyBufferSize = 16

	authTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local operator network, the token is the access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// Client is one console connection. send is owned by the hub, reply by the
// reading side of the connection.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	reply         chan []byte
	logger        *zap.Logger
	authenticated bool
	principal     string
	permissions   []auth.Permission
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		close(c.reply)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if !c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(authTimeout))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.authenticated {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// first message must be auth unless the token came with the upgrade
		if !c.authenticated {
			if msg.Type != "auth" || msg.Token == "" {
				c.sendJSON(NewMessage(MessageTypeAuthFailed, AuthData{Reason: "first message must be authentication"}))
				return
			}
			if !c.authenticate(msg.Token) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		c.handleMessage(msg)
	}
}

// authenticate validates the token, registers the client with the hub and
// sends the status snapshot.
func (c *Client) authenticate(token string) bool {
	principal, permissions, err := c.hub.validator.ValidateToken(context.Background(), token, c.remoteAddr(), "")
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendJSON(NewMessage(MessageTypeAuthFailed, AuthData{Reason: "invalid or expired token"}))
		return false
	}

	c.authenticated = true
	c.principal = principal
	c.permissions = permissions

	c.sendJSON(NewMessage(MessageTypeAuthSuccess, AuthData{Permissions: permissions}))
	if st := c.hub.status(); st != nil {
		c.sendJSON(NewMessage(MessageTypeSystemStatus, st))
	}

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("principal", principal))

	select {
	case c.hub.register <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "ping":
		c.sendJSON(NewMessage(MessageTypePong, nil))
	case "status":
		c.sendJSON(NewMessage(MessageTypeSystemStatus, c.hub.status()))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// sendJSON queues a reply to this client only.
func (c *Client) sendJSON(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.reply <- data:
	default:
		c.logger.Warn("Reply dropped", zap.String("remote_addr", c.remoteAddr()))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.write(message, ok) {
				return
			}

		case message, ok := <-c.reply:
			if !c.write(message, ok) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write sends one text frame, or the close frame once a channel was closed.
func (c *Client) write(message []byte, ok bool) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, message) == nil
}

// ServeWs upgrades the request. A ?token= query parameter authenticates the
// client at once, otherwise the first message has to be {"type":"auth"}.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		reply:  make(chan []byte, replyBufferSize),
		logger: hub.logger,
	}

	go client.writePump()

	if token := r.URL.Query().Get("token"); token != "" {
		if !client.authenticate(token) {
			close(client.reply)
			return
		}
	}

	go client.readPump()
}
