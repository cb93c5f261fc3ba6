// Package client consumes the server's event stream: a reconnecting
// websocket supervisor, an in-process event bus, and session state folded
// from events.
//
// The reconnection logic is a pure state machine (Machine) driven by the
// Manager, which owns the socket and the single timer. Backoff grows
// linearly with consecutive failures and the client stops for good once
// the retry budget is spent; a successful connection earns the budget
// back. State reducers are idempotent, so a reconnect that replays events
// cannot corrupt the fold.
package client
