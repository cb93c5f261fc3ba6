// ABOUTME: In-memory fan-out Broker for single-process deployments
// ABOUTME: Non-blocking publish; events are dropped for slow subscribers

package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// MemoryBroker provides in-process topic pub/sub. Subscribers register for
// one or more topics and receive payloads as they are published. Safe for
// concurrent subscribe/unsubscribe/publish.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*memorySub // topic -> subID -> sub
	closed bool
	logger *slog.Logger
}

type memorySub struct {
	id     string
	broker *MemoryBroker
	topics []string
	ch     chan Message
	once   sync.Once
}

// NewMemoryBroker creates a broker. Pass nil logger for default.
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subs:   make(map[string]map[string]*memorySub),
		logger: logger.With("component", "broker"),
	}
}

// Publish sends the payload to every subscriber of the topic. Non-blocking:
// the payload is dropped for subscribers whose channels are full.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := b.subs[topic]

	// Copy targets under read lock to avoid holding it during sends
	targets := make([]*memorySub, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range targets {
		select {
		case s.ch <- msg:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"sub_id", s.id)
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given topics. The subscription
// is automatically closed when ctx is cancelled.
func (b *MemoryBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &memorySub{
		id:     uuid.New().String(),
		broker: b,
		topics: topics,
		ch:     make(chan Message, subscriberBufferSize),
	}

	b.mu.Lock()
	for _, topic := range topics {
		if _, ok := b.subs[topic]; !ok {
			b.subs[topic] = make(map[string]*memorySub)
		}
		b.subs[topic][sub.id] = sub
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", sub.id, "topics", topics)

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Close shuts down the broker and closes all subscriber channels.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	seen := make(map[string]*memorySub)
	for _, subs := range b.subs {
		for id, s := range subs {
			seen[id] = s
		}
	}
	b.subs = make(map[string]map[string]*memorySub)
	b.mu.Unlock()

	for _, s := range seen {
		s.once.Do(func() { close(s.ch) })
	}

	b.logger.Debug("broker closed")
	return nil
}

func (s *memorySub) Events() <-chan Message {
	return s.ch
}

func (s *memorySub) Close() error {
	b := s.broker

	b.mu.Lock()
	removed := false
	for _, topic := range s.topics {
		subs, ok := b.subs[topic]
		if !ok {
			continue
		}
		if _, exists := subs[s.id]; exists {
			delete(subs, s.id)
			removed = true
		}
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()

	if removed {
		s.once.Do(func() { close(s.ch) })
		b.logger.Debug("subscriber removed", "sub_id", s.id)
	}
	return nil
}
