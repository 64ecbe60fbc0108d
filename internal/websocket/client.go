package websocket

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Presence frames are tiny.
	maxMessageSize = 512
)

// Conn is the subset of *websocket.Conn the client uses; tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered push-channel connection. Its ID doubles as the
// registry connection ID for the lifetime of the transport session.
type Client struct {
	id       string
	userID   string
	tenantID string
	hub      *Hub
	conn     Conn
	send     chan []byte

	closed     int32 // atomic flag to track if client is closed
	sendClosed int32 // atomic flag to track if send channel is closed
}

func NewClient(hub *Hub, conn Conn, userID, tenantID string, queueSize int) *Client {
	return &Client{
		id:       uuid.New().String(),
		userID:   userID,
		tenantID: tenantID,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, queueSize),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) TenantID() string {
	return c.tenantID
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	atomic.CompareAndSwapInt32(&c.closed, 0, 1)
}

// closeSend safely closes the send channel exactly once.
func (c *Client) closeSend() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

// enqueue hands a frame to the write pump without ever blocking the caller.
// A full queue means the consumer is too slow to keep; the caller drops it.
func (c *Client) enqueue(data []byte) bool {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump applies inbound heartbeat and idle frames to the backend. The
// read deadline is refreshed by every frame; a peer that stops sending
// application pings is torn down when the deadline expires, which is what
// ultimately drives the offline transition for crashed clients.
func (c *Client) readPump() {
	defer func() {
		c.close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "userID", c.userID, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.readWait))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "userID", c.userID, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "userID", c.userID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.readWait))

		msg, err := DecodeMessage(raw)
		if err != nil {
			// Drop the frame, keep the connection.
			slog.Debug("Dropping malformed message", "clientID", c.id, "userID", c.userID, "error", err)
			c.sendError("INVALID_MESSAGE", "invalid message format")
			continue
		}

		switch msg.Type {
		case MessageTypePing:
			c.hub.backend.Ping(c.id)

		case MessageTypeIdle:
			var data IdleData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				slog.Debug("Dropping malformed idle payload", "clientID", c.id, "userID", c.userID, "error", err)
				c.sendError("INVALID_MESSAGE", "invalid idle payload")
				continue
			}
			c.hub.backend.IdleSignal(c.id, data.IsIdle)

		default:
			// Server-to-client types echoed back; drop.
			slog.Debug("Dropping unexpected message type", "clientID", c.id, "userID", c.userID, "type", msg.Type)
		}
	}
}

// writePump drains the send queue onto the wire.
func (c *Client) writePump() {
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if c.isClosed() {
			return
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			slog.Debug("Write failed", "clientID", c.id, "userID", c.userID, "error", err)
			return
		}
	}
}

func (c *Client) sendError(code, message string) {
	frame, err := EncodeError(code, message)
	if err != nil {
		return
	}
	c.enqueue(frame)
}
