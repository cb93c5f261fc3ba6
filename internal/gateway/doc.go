// Package gateway bridges the event broker to WebSocket clients.
//
// Each connection gets its own broker subscription covering every topic.
// Scoped events (pending questions, notifications) are filtered per
// connection against the authenticated handle; public events go to all.
// Delivery is best effort: a client that falls behind or disconnects simply
// misses events and reconciles by refetching after reconnect.
package gateway
