// ABOUTME: Topic-based publish/subscribe interface decoupling producers from gateways
// ABOUTME: Publish is fire-and-forget; delivery is best-effort to currently connected subscribers

package broker

import "context"

// Message is one published payload with the topic it arrived on.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live feed of messages for a set of topics.
type Subscription interface {
	// Events yields messages until the subscription is closed. Per topic,
	// a single producer's sequential publishes arrive in order; no ordering
	// holds across topics.
	Events() <-chan Message

	// Close tears the subscription down and closes the Events channel.
	Close() error
}

// Broker is a topic-based pub/sub service. Publish never blocks on delivery
// and never guarantees delivery to subscribers that are not connected: there
// is no durable queue and no redelivery. Missed events are recovered by
// clients through full refetch on reconnect.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}
