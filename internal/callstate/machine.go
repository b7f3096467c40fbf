// Package callstate tracks the lifecycle of a direct call on the client.
// A Machine holds exactly one call at a time; a second call cannot start
// until the current one ends or is reset.
package callstate

import (
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Initiating
	Incoming
	WaitingForResponse
	Accepted
	Active
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case Incoming:
		return "incoming"
	case WaitingForResponse:
		return "waiting_for_response"
	case Accepted:
		return "accepted"
	case Active:
		return "active"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

type Machine struct {
	mu        sync.Mutex
	state     State
	callID    string
	roomID    string
	peerID    string
	startedAt time.Time
}

func NewMachine() *Machine {
	return &Machine{state: Idle}
}

// StartInitiating marks an outgoing call. It fails unless the machine
// is idle, which prevents overlapping calls.
func (m *Machine) StartInitiating(callID, roomID, peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return false
	}
	m.state = Initiating
	m.callID = callID
	m.roomID = roomID
	m.peerID = peerID
	return true
}

// CompleteInitiating moves an outgoing call to waiting once the
// invitation has been sent.
func (m *Machine) CompleteInitiating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initiating {
		return false
	}
	m.state = WaitingForResponse
	return true
}

// ConfirmInitiated records the server-assigned identifiers of our
// outgoing call once the hub acknowledges it. Valid while the call is
// still being set up or awaiting a response.
func (m *Machine) ConfirmInitiated(callID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initiating && m.state != WaitingForResponse {
		return false
	}
	m.callID = callID
	m.roomID = roomID
	return true
}

// StartIncoming marks a received invitation. It fails unless idle, so
// an invitation arriving mid-call is dropped by the caller.
func (m *Machine) StartIncoming(callID, roomID, peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return false
	}
	m.state = Incoming
	m.callID = callID
	m.roomID = roomID
	m.peerID = peerID
	return true
}

func (m *Machine) Accept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Incoming {
		return false
	}
	m.state = Accepted
	return true
}

// Reject declines the current invitation. Only a received invitation
// can be rejected; when the remote party declines our outgoing call the
// machine resets instead. The machine returns to idle via ForceReset or
// EndCall on the caller's next action; Rejected itself is terminal
// until reset.
func (m *Machine) Reject() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Incoming {
		return false
	}
	m.state = Rejected
	return true
}

// StartActive marks media flowing. Valid from Accepted (callee joined
// the call room) or WaitingForResponse (caller observed acceptance).
func (m *Machine) StartActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Accepted && m.state != WaitingForResponse {
		return false
	}
	m.state = Active
	m.startedAt = time.Now()
	return true
}

// EndCall returns the machine to idle from any non-idle state and
// clears the call identity.
func (m *Machine) EndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// ForceReset is EndCall for error paths: transport loss, a cancelled
// invitation, a room that ended under us.
func (m *Machine) ForceReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	m.state = Idle
	m.callID = ""
	m.roomID = ""
	m.peerID = ""
	m.startedAt = time.Time{}
}

func (m *Machine) CanInitiateCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Idle
}

func (m *Machine) CanAcceptCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Idle || m.state == Incoming
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

func (m *Machine) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *Machine) PeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerID
}

// Duration reports how long the call has been active. It is zero in
// every other state.
func (m *Machine) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active || m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt)
}
