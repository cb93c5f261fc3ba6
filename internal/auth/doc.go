// Package auth verifies session tokens and carries the authenticated handle
// through request contexts.
//
// Sessions are HS256 JWTs with two required claims: the user's handle and
// the jwt index the token was issued against. The index is compared to the
// one stored on the identity at every verification, so incrementing the
// stored index revokes all outstanding sessions in one write. There is no
// per-token revocation list.
package auth
