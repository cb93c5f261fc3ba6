// ABOUTME: Mastodon adapter posting answers as statuses via /api/v1/statuses
// ABOUTME: Folds the local "home" visibility to unlisted, its nearest broader-than-private option

package fediverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/askbox/askbox/internal/store"
)

// mastodonSpoilerLimit bounds the spoiler text; longer warnings are
// truncated rather than failing the post.
const (
	mastodonSpoilerLimit = 500
	mastodonSpoilerKeep  = 490
)

// MastodonAdapter posts statuses to mastodon instances using the user's
// access token directly.
type MastodonAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger

	// BaseURL overrides the https://<hostName> target. Tests only.
	BaseURL string
}

// NewMastodonAdapter creates a mastodon adapter.
func NewMastodonAdapter(httpClient *http.Client) *MastodonAdapter {
	return &MastodonAdapter{
		httpClient: httpClient,
		logger:     slog.Default().With("component", "fediverse", "kind", store.InstanceKindMastodon),
	}
}

type mastodonStatus struct {
	SpoilerText string `json:"spoiler_text"`
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
}

// PostAnswer creates a status on the user's instance. Mastodon has no
// direct equivalent of home visibility, so it folds to unlisted.
func (a *MastodonAdapter) PostAnswer(ctx context.Context, ident *store.Identity, post Post) error {
	status := mastodonStatus{
		SpoilerText: truncateWarning(post.Title, mastodonSpoilerLimit, mastodonSpoilerKeep),
		Status:      post.Body,
		Visibility:  mastodonVisibility(post.Visibility),
	}

	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("%w: marshaling status: %v", ErrRejected, err)
	}

	url := a.BaseURL
	if url == "" {
		url = "https://" + ident.HostName
	}
	url += "/api/v1/statuses"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrRejected, err)
	}
	req.Header.Set("Authorization", "Bearer "+ident.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		a.logger.Warn("instance revoked access token",
			"host", ident.HostName,
			"status", resp.StatusCode,
			"detail", string(detail))
		return ErrCredentialRevoked
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
	}

	a.logger.Info("status created", "host", ident.HostName)
	return nil
}

// mastodonVisibility maps the local vocabulary to mastodon's.
func mastodonVisibility(v Visibility) string {
	switch v {
	case VisibilityPublic:
		return "public"
	case VisibilityHome:
		return "unlisted"
	case VisibilityFollowers:
		return "private"
	default:
		return "public"
	}
}
