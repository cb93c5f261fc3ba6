// Package fediverse mirrors published answers to the user's federated
// social instance.
//
// Two instance kinds are supported: misskey-family (notes, app-scoped
// request token, native home visibility) and mastodon (statuses, bearer
// token, home folded to unlisted). Both truncate over-long content warnings
// to the target's limit instead of failing.
//
// Outcomes are three-valued: success (nil), ErrCredentialRevoked for
// authorization-class responses, and ErrRejected for everything else
// including transport errors. The caller decides what each outcome means
// for the publication pipeline.
package fediverse
