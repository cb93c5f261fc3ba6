// ABOUTME: PostAdapter interface and shared types for mirroring answers to federated instances
// ABOUTME: One adapter per instance software kind; selection happens by the identity's instanceKind

package fediverse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/askbox/askbox/internal/store"
)

// Adapter outcomes. An authorization-class response means the user revoked
// the access token on their instance; anything else that isn't a 2xx,
// including transport failure, is a plain rejection.
var (
	ErrCredentialRevoked = errors.New("federated credential revoked")
	ErrRejected          = errors.New("federated post rejected")
)

// Visibility is the local three-valued visibility vocabulary. Each adapter
// maps it to the target service's own terms.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityHome      Visibility = "home"
	VisibilityFollowers Visibility = "followers"
)

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityHome, VisibilityFollowers:
		return true
	}
	return false
}

// Post is the composed note to mirror: a content-warning title and a body.
type Post struct {
	Title      string
	Body       string
	Visibility Visibility
}

// PostAdapter posts a note/status on the user's federated instance.
// Returns nil on success, ErrCredentialRevoked when the instance reports an
// authorization failure, and ErrRejected for any other failure.
type PostAdapter interface {
	PostAnswer(ctx context.Context, ident *store.Identity, post Post) error
}

// Registry maps instance kinds to their adapters.
type Registry map[string]PostAdapter

// NewRegistry builds the default adapter set. appSecret is the shared
// application secret misskey-family instances derive the request token from.
func NewRegistry(httpClient *http.Client, appSecret string) Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return Registry{
		store.InstanceKindMisskey:  NewMisskeyAdapter(httpClient, appSecret),
		store.InstanceKindMastodon: NewMastodonAdapter(httpClient),
	}
}

// For returns the adapter for an instance kind.
func (r Registry) For(instanceKind string) (PostAdapter, error) {
	a, ok := r[instanceKind]
	if !ok {
		return nil, fmt.Errorf("no adapter for instance kind %q", instanceKind)
	}
	return a, nil
}

// truncateWarning trims a content warning to the target's length limit,
// keeping the first keep runes and an ellipsis, rather than failing the post.
func truncateWarning(title string, limit, keep int) string {
	runes := []rune(title)
	if len(runes) <= limit {
		return title
	}
	return string(runes[:keep]) + "....."
}
