// Package store provides persistence for askbox entities.
//
// # Entities
//
//   - Question: a pending question owned by its questionee
//   - Answer: an immutable denormalized snapshot created when a question is answered
//   - Identity: the user's federated account, including the jwt_index revocation counter
//   - Profile: display data and answering preferences
//   - Notification: per-user notification records, correlated to answers for pruning
//
// # Implementations
//
// SQLiteStore is the production implementation backed by modernc.org/sqlite
// with schema auto-creation, WAL mode, and foreign keys. MockStore is an
// in-memory implementation for tests.
//
// # Invariants
//
// A question and an answer derived from it never coexist: the publication
// pipeline deletes the question in the same operation that finalizes the
// answer. IncrementJWTIndex is a single atomic UPDATE so the counter never
// loses increments and only ever grows.
package store
