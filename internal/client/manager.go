// ABOUTME: Connection supervisor driving the reconnection machine with real sockets and timers
// ABOUTME: Owns the websocket, the probe/backoff timer, and dispatch into the event bus

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askbox/askbox/internal/events"
)

// Manager supervises one event stream connection. It drives the pure
// Machine with a timer and a gorilla websocket, decodes inbound frames, and
// dispatches them on the bus. All machine transitions happen under one
// mutex; the machine itself stays free of I/O.
type Manager struct {
	url    string
	token  string
	bus    *Bus
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	machine Machine
	conn    *websocket.Conn
	timer   *time.Timer
	closed  bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewManager creates a supervisor for the given stream URL. token may be
// empty for an anonymous connection.
func NewManager(url, token string, bus *Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		url:     url,
		token:   token,
		bus:     bus,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With("component", "client"),
		machine: NewMachine(),
		done:    make(chan struct{}),
	}
}

// Start begins the first connection attempt. It returns immediately; the
// supervisor runs until Close is called, ctx is cancelled, or the retry
// budget is spent.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	machine, action := m.machine.Start()
	m.machine = machine
	m.mu.Unlock()

	if action == ActionDial {
		go m.dial(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.done:
		}
	}()
}

// Done is closed when the supervisor has permanently stopped, either by
// Close or by the machine going terminal.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the current machine snapshot.
func (m *Manager) State() Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine
}

func (m *Manager) dial(ctx context.Context) {
	url := m.url
	if m.token != "" {
		url += "?token=" + m.token
	}

	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		m.logger.Warn("dial failed", "error", err)
		m.failure(ctx, nil)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	machine, _ := m.machine.OnOpen()
	m.machine = machine
	m.conn = conn
	m.scheduleLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("stream connected", "url", m.url)
	go m.readLoop(ctx, conn)
}

// readLoop decodes inbound frames and dispatches them until the connection
// dies. A dead connection counts as one failure against the retry budget.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("stream read failed", "error", err)
			m.failure(ctx, conn)
			return
		}

		ev, err := events.Decode(payload)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		m.bus.Dispatch(ev)
	}
}

// failure records one failed attempt or dropped connection and either
// schedules the next dial or goes terminal. conn identifies the connection
// the failure came from; a stale connection's death is ignored.
func (m *Manager) failure(ctx context.Context, conn *websocket.Conn) {
	m.mu.Lock()
	if m.closed || (conn != nil && conn != m.conn) {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	machine, action := m.machine.OnFailure()
	m.machine = machine

	if action == ActionGiveUp {
		m.stopTimerLocked()
		m.mu.Unlock()
		m.logger.Error("retry budget spent; stream client stopped", "retries", machine.Retries)
		m.doneOnce.Do(func() { close(m.done) })
		return
	}

	m.logger.Info("reconnecting",
		"retries", machine.Retries,
		"wait", machine.Interval())
	m.scheduleLocked(ctx)
	m.mu.Unlock()
}

// tick fires on the supervisor timer: the next dial while waiting, a
// liveness probe while open.
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	machine, action := m.machine.Tick()
	m.machine = machine

	switch action {
	case ActionDial:
		m.mu.Unlock()
		go m.dial(ctx)

	case ActionProbe:
		conn := m.conn
		m.scheduleLocked(ctx)
		m.mu.Unlock()
		if conn == nil {
			return
		}
		probe := fmt.Sprintf("mua: %d", time.Now().UnixMilli())
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(probe)); err != nil {
			m.logger.Warn("probe write failed", "error", err)
			m.failure(ctx, conn)
		}

	default:
		m.mu.Unlock()
	}
}

// scheduleLocked arms the timer for the machine's current interval. Caller
// holds the mutex.
func (m *Manager) scheduleLocked(ctx context.Context) {
	m.stopTimerLocked()
	m.timer = time.AfterFunc(m.machine.Interval(), func() { m.tick(ctx) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Close tears the supervisor down deterministically: timer stopped, socket
// closed, no further dials.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTimerLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.doneOnce.Do(func() { close(m.done) })
	return nil
}
