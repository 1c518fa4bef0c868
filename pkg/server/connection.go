package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/internal/auth"
	"github.com/tecu23/arena-server/pkg/messages"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

// Connection is one client socket. Identity is fixed at upgrade time; an
// anonymous connection may only watch games.
type Connection struct {
	ID       uuid.UUID
	Identity auth.Identity

	ws   *websocket.Conn
	hub  *Hub
	send chan []byte // Buffered channel of outbound messages.

	// rooms this connection watches; owned by the hub goroutine
	rooms map[string]bool

	sendMu sync.Mutex
	closed bool

	logger *zap.Logger
}

// NewConnection wraps an upgraded socket. A zero identity means anonymous.
func NewConnection(ws *websocket.Conn, hub *Hub, identity auth.Identity, logger *zap.Logger) *Connection {
	id := uuid.New()
	return &Connection{
		ID:       id,
		Identity: identity,
		ws:       ws,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		rooms:    make(map[string]bool),
		logger:   logger.With(zap.String("connection_id", id.String()), zap.String("player_id", identity.PlayerID)),
	}
}

// Authenticated reports whether the connection carries a player identity
func (c *Connection) Authenticated() bool {
	return c.Identity.PlayerID != ""
}

// ReadPump handles inbound messages from the client. Each message is
// dispatched on this goroutine, so one client's requests are handled in order.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Debug("failed to parse inbound JSON", zap.Error(err))
			c.SendError("malformed message", messages.CodeBadRequest)
			continue
		}

		c.hub.Dispatch(c, inbound)
	}
}

// WritePump handles outbound messages to the client and keeps it alive with pings
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by the hub
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON queues v for this connection. It never blocks: when the client is
// too slow to drain its buffer the message is dropped.
func (c *Connection) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return false
	}
	return c.sendRaw(data)
}

func (c *Connection) sendRaw(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

// Send wraps payload in an outbound envelope
func (c *Connection) Send(event string, payload interface{}) bool {
	return c.SendJSON(messages.OutboundMessage{Event: event, Payload: payload})
}

// SendError reports a failed request to this connection only
func (c *Connection) SendError(message, code string) bool {
	return c.Send(messages.Error, messages.ErrorPayload{Message: message, Code: code})
}

func (c *Connection) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
