// Package broker provides topic-based publish/subscribe between the
// publication pipeline and the WebSocket gateways.
//
// # Semantics
//
// Publish is fire-and-forget: producers never block on delivery and no
// subscriber state is kept for disconnected consumers. Per topic, one
// producer's sequential publishes reach a given subscriber in order;
// nothing is guaranteed across topics.
//
// # Implementations
//
// MemoryBroker fans out inside a single process. RedisBroker maps topics to
// Redis channels so multiple server processes can each deliver to their own
// connected clients. The server selects one via config (broker.kind).
package broker
