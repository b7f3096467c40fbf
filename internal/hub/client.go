package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one authenticated websocket connection. A user may hold several
// connections; the hub's direct channel tracks the most recent one.
type Client struct {
	ID       string
	UserID   string
	UserName string

	hub  *Hub
	conn *websocket.Conn

	// mu guards send against enqueues racing teardown; a direct-channel
	// lookup can hand out the client right before it disconnects.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// roomID is the room this connection has joined, empty when none.
	// Only the readPump goroutine touches it.
	roomID string
}

// enqueue drops the frame if the client's buffer is full or the
// connection is already torn down, rather than blocking the hub.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("send buffer full, dropping frame",
			slog.String("user_id", c.UserID),
			slog.String("connection_id", c.ID))
	}
}

// closeSend releases the write pump and turns further enqueues into
// no-ops.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) sendMessage(t models.MessageType, payload any) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		c.hub.log.Error("marshal message", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("marshal envelope", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(text string) {
	c.sendMessage(models.TypeError, models.ErrorPayload{Error: text})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read", slog.String("user_id", c.UserID), slog.Any("error", err))
			}
			break
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn("unparseable frame", slog.String("user_id", c.UserID), slog.Any("error", err))
			continue
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
