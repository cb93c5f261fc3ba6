// ABOUTME: WebSocket gateway fanning broker events out to connected clients
// ABOUTME: One subscription per connection, filtered by the event's audience handle

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/askbox/askbox/internal/auth"
	"github.com/askbox/askbox/internal/broker"
	"github.com/askbox/askbox/internal/events"
)

const (
	// writeTimeout bounds a single frame write to a client.
	writeTimeout = 10 * time.Second

	// maxInboundSize bounds client frames. Clients only ever send small
	// liveness probes; anything larger is misbehaving.
	maxInboundSize = 512
)

// Gateway upgrades HTTP requests to WebSocket connections and streams
// domain events to them. Identity is optional: authenticated connections
// additionally receive events scoped to their handle, anonymous ones get
// only the public stream.
type Gateway struct {
	broker    broker.Broker
	verifier  auth.TokenVerifier
	keepAlive time.Duration
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]context.CancelFunc
}

// New creates a gateway. keepAlive is the idle interval after which a
// keep-alive frame is emitted on an otherwise quiet connection.
func New(br broker.Broker, verifier auth.TokenVerifier, keepAlive time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		broker:    br,
		verifier:  verifier,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browsers connect from the app origin; same-host checks are
			// the reverse proxy's job.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "gateway"),
		conns:  make(map[string]context.CancelFunc),
	}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handle, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())

	g.mu.Lock()
	g.conns[connID] = cancel
	g.mu.Unlock()

	g.logger.Info("client connected", "conn_id", connID, "handle", handle)

	defer func() {
		cancel()
		g.mu.Lock()
		delete(g.conns, connID)
		g.mu.Unlock()
		conn.Close()
		g.logger.Info("client disconnected", "conn_id", connID)
	}()

	sub, err := g.broker.Subscribe(ctx, events.Topics...)
	if err != nil {
		g.logger.Error("broker subscribe failed", "conn_id", connID, "error", err)
		return
	}
	defer sub.Close()

	go g.readLoop(conn, cancel)
	g.writeLoop(ctx, conn, sub, handle, connID)
}

// authenticate extracts the optional session token. No token means an
// anonymous connection; a present but invalid token is rejected.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie("jwtToken"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return "", nil
	}
	return g.verifier.Verify(r.Context(), token)
}

// readLoop drains inbound frames until the connection dies. Clients send
// opaque liveness probes on their own schedule; their only significance is
// that reading them keeps close detection working.
func (g *Gateway) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxInboundSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop forwards subscribed events the connection is allowed to see and
// emits a keep-alive frame whenever the connection has been idle for the
// keep-alive interval. Any event write resets the idle timer.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, sub broker.Subscription, handle, connID string) {
	idle := time.NewTimer(g.keepAlive)
	defer idle.Stop()

	keepAliveFrame, err := events.Encode(events.KeepAlive{})
	if err != nil {
		g.logger.Error("encoding keep-alive failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			if !g.audienceAllows(msg.Payload, handle, connID) {
				continue
			}
			if err := g.write(conn, msg.Payload); err != nil {
				g.logger.Debug("write failed", "conn_id", connID, "error", err)
				return
			}
			resetTimer(idle, g.keepAlive)

		case <-idle.C:
			if err := g.write(conn, keepAliveFrame); err != nil {
				g.logger.Debug("keep-alive write failed", "conn_id", connID, "error", err)
				return
			}
			idle.Reset(g.keepAlive)
		}
	}
}

// audienceAllows reports whether this connection may see the event. Public
// events go to everyone; scoped events only to their owner's connections.
func (g *Gateway) audienceAllows(payload []byte, handle, connID string) bool {
	ev, err := events.Decode(payload)
	if err != nil {
		g.logger.Warn("dropping undecodable event", "conn_id", connID, "error", err)
		return false
	}
	owner, scoped := events.Audience(ev)
	if !scoped {
		return true
	}
	return handle != "" && owner == handle
}

func (g *Gateway) write(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Close tears down every open connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(g.conns))
	for _, cancel := range g.conns {
		cancels = append(cancels, cancel)
	}
	g.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// resetTimer drains and resets a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
