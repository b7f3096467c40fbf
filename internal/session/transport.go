package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// ConnState is the transport lifecycle as observed by the session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// reconnectSchedule is the delay before each successive dial attempt after
// the link drops. Once exhausted the transport goes to StateClosed for good.
var reconnectSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}

var ErrNotConnected = errors.New("not connected to signaling server")

const transportWriteWait = 10 * time.Second

// transport is the websocket link to the signaling server. It owns dialing,
// the read loop and the reconnect schedule; the session layers semantics on
// top through the two callbacks.
type transport struct {
	url string
	log *slog.Logger

	onMessage func(models.Message)
	onState   func(ConnState)

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	closed bool
}

func newTransport(url string, logger *slog.Logger, onMessage func(models.Message), onState func(ConnState)) *transport {
	return &transport{
		url:       url,
		log:       logger,
		onMessage: onMessage,
		onState:   onState,
		state:     StateDisconnected,
	}
}

func (t *transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *transport) setState(s ConnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()
	if t.onState != nil {
		t.onState(s)
	}
}

// Connect dials the server and starts the read loop. Connecting while the
// link is already up is a no-op. The first dial failing is returned to the
// caller; later drops go through the reconnect schedule.
func (t *transport) Connect() error {
	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	t.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(StateConnected)

	go t.readLoop(conn)
	return nil
}

func (t *transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("unparseable frame from server", slog.Any("error", err))
			continue
		}
		if t.onMessage != nil {
			t.onMessage(msg)
		}
	}

	conn.Close()
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	shouldReconnect := !t.closed
	t.mu.Unlock()

	if !shouldReconnect {
		t.setState(StateClosed)
		return
	}
	t.setState(StateDisconnected)
	t.reconnect()
}

// reconnect walks the schedule until a dial succeeds or the schedule runs
// out, at which point the transport is closed for good.
func (t *transport) reconnect() {
	for attempt, delay := range reconnectSchedule {
		time.Sleep(delay)

		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			t.setState(StateClosed)
			return
		}

		t.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
		if err != nil {
			t.log.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			t.setState(StateDisconnected)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(StateConnected)
		go t.readLoop(conn)
		return
	}

	t.log.Error("reconnect schedule exhausted, giving up")
	t.setState(StateClosed)
}

// Send marshals and writes one frame. Writers are serialized by the mutex.
func (t *transport) Send(msg models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.state != StateConnected {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return t.conn.WriteJSON(msg)
}

// Close shuts the transport down permanently; no reconnect follows.
func (t *transport) Close() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.setState(StateClosed)
}
