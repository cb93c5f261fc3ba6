// Package events defines the domain event vocabulary shared by the server
// and the stream client, and the single codec for its wire envelope.
//
// Every event is a value object named by its ev_name; the name doubles as
// the broker topic. Mutation events carry the authoritative post-mutation
// state (full records, replacement counters), never deltas, so consumers
// can fold them idempotently.
package events
