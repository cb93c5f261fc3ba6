// ABOUTME: In-process event bus dispatching decoded stream events to handlers
// ABOUTME: Handlers are keyed by event kind; dispatch is synchronous and in registration order

package client

import (
	"log/slog"
	"sync"

	"github.com/askbox/askbox/internal/events"
)

// Handler consumes one decoded event.
type Handler func(ev events.Event)

// Bus routes decoded events to registered handlers. Multiple handlers may
// subscribe to the same kind; they run synchronously in registration order
// on the dispatching goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for an event kind.
func (b *Bus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Dispatch routes one event. Events nobody subscribed to are dropped with a
// debug log.
func (b *Bus) Dispatch(ev events.Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Kind()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handler for event", "kind", ev.Kind())
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}
