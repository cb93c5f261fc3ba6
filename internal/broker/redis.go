// ABOUTME: Redis pub/sub Broker for multi-process deployments
// ABOUTME: Every gateway instance subscribed to a topic delivers independently to its own clients

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker backs the Broker interface with Redis channels so several
// server processes can fan out the same event stream.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroker connects to Redis at the given URL or host:port address
// and verifies the connection.
func NewRedisBroker(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		logger: logger.With("component", "broker"),
	}, nil
}

// Publish sends the payload to the Redis channel named after the topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription for the given topics. The
// subscription is automatically closed when ctx is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topics...)

	// Force the subscription to be established before returning so callers
	// never publish into a not-yet-subscribed channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %v: %w", topics, err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan Message, subscriberBufferSize),
		logger: b.logger,
	}

	go sub.pump(pubsub.Channel())
	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Close closes the Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan Message
	logger *slog.Logger
	once   sync.Once
}

// pump converts Redis messages into broker Messages until the underlying
// channel closes. The send never blocks: a subscriber that stops draining
// loses events, and the pump stays free to observe the closed source
// channel once Close runs.
func (s *redisSub) pump(src <-chan *redis.Message) {
	defer s.once.Do(func() { close(s.ch) })

	for msg := range src {
		select {
		case s.ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			s.logger.Debug("dropped event for slow subscriber",
				"topic", msg.Channel)
		}
	}
}

func (s *redisSub) Events() <-chan Message {
	return s.ch
}

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}
