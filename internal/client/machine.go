// ABOUTME: Pure reconnection state machine for the event stream client
// ABOUTME: Linear backoff, bounded consecutive failures, terminal stop after the budget is spent

package client

import "time"

// State is the connection lifecycle state.
type State int

const (
	// StateIdle is the initial state before the first dial.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the socket is up and events flow.
	StateOpen
	// StateWaiting means a dial or connection failed and the machine is
	// sitting out the backoff interval.
	StateWaiting
	// StateFailed is terminal: the consecutive-failure budget is spent and
	// the machine never dials again on its own.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action tells the supervisor what to do after a transition.
type Action int

const (
	// ActionNone means nothing to do.
	ActionNone Action = iota
	// ActionDial means start a connection attempt now.
	ActionDial
	// ActionProbe means send a liveness probe on the open socket.
	ActionProbe
	// ActionGiveUp means the machine went terminal; tear everything down.
	ActionGiveUp
)

// Reconnection pacing. The wait before attempt n (0-based) is
// baseInterval + n*intervalStep; after maxRetries consecutive failures the
// machine goes terminal.
const (
	baseInterval = 5 * time.Second
	intervalStep = 2 * time.Second
	maxRetries   = 5
)

// Machine is an immutable reconnection state machine. Transitions return a
// new machine value plus the action the supervisor should take; the machine
// itself never touches sockets or timers.
type Machine struct {
	State   State
	Retries int
}

// NewMachine returns the initial machine.
func NewMachine() Machine {
	return Machine{State: StateIdle}
}

// Start begins the first connection attempt.
func (m Machine) Start() (Machine, Action) {
	if m.State != StateIdle {
		return m, ActionNone
	}
	return Machine{State: StateConnecting, Retries: m.Retries}, ActionDial
}

// OnOpen records a successful dial. The consecutive-failure counter resets
// so a long-lived connection earns back the full retry budget.
func (m Machine) OnOpen() (Machine, Action) {
	if m.State != StateConnecting {
		return m, ActionNone
	}
	return Machine{State: StateOpen, Retries: 0}, ActionNone
}

// OnFailure records a failed dial or a dropped connection. The machine
// moves to Waiting until the next Tick, or to Failed once the budget is
// spent. Only failed dials are charged against the budget: a drop from an
// open connection enters the retry loop without spending an attempt, so
// every entry path gets the full maxRetries dials.
func (m Machine) OnFailure() (Machine, Action) {
	switch m.State {
	case StateOpen:
		return Machine{State: StateWaiting, Retries: m.Retries}, ActionNone
	case StateConnecting:
		retries := m.Retries + 1
		if retries >= maxRetries {
			return Machine{State: StateFailed, Retries: retries}, ActionGiveUp
		}
		return Machine{State: StateWaiting, Retries: retries}, ActionNone
	default:
		return m, ActionNone
	}
}

// Tick fires when the supervisor's timer elapses. While waiting it starts
// the next dial; while open it asks for a liveness probe. In every other
// state it is a no-op.
func (m Machine) Tick() (Machine, Action) {
	switch m.State {
	case StateWaiting:
		return Machine{State: StateConnecting, Retries: m.Retries}, ActionDial
	case StateOpen:
		return m, ActionProbe
	default:
		return m, ActionNone
	}
}

// Interval returns how long the supervisor should wait before the next
// Tick. While open this is the probe cadence; while waiting it grows
// linearly with the consecutive-failure count.
func (m Machine) Interval() time.Duration {
	return baseInterval + time.Duration(m.Retries)*intervalStep
}

// Terminal reports whether the machine has permanently given up.
func (m Machine) Terminal() bool {
	return m.State == StateFailed
}
