// ABOUTME: Misskey-family adapter posting answers as notes via /api/notes/create
// ABOUTME: Derives the request token from the user token and app secret; truncates long CWs

package fediverse

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/askbox/askbox/internal/store"
)

// misskeyCWLimit is the content-warning length limit; longer warnings are
// truncated to misskeyCWKeep runes plus an ellipsis.
const (
	misskeyCWLimit = 100
	misskeyCWKeep  = 90
)

// MisskeyAdapter posts notes to misskey-family instances. The instance
// expects the app-scoped token `i`: sha256(accessToken + appSecret) hex.
type MisskeyAdapter struct {
	httpClient *http.Client
	appSecret  string
	logger     *slog.Logger

	// BaseURL overrides the https://<hostName> target. Tests only.
	BaseURL string
}

// NewMisskeyAdapter creates a misskey-family adapter.
func NewMisskeyAdapter(httpClient *http.Client, appSecret string) *MisskeyAdapter {
	return &MisskeyAdapter{
		httpClient: httpClient,
		appSecret:  appSecret,
		logger:     slog.Default().With("component", "fediverse", "kind", store.InstanceKindMisskey),
	}
}

type misskeyNote struct {
	I          string `json:"i"`
	CW         string `json:"cw"`
	Text       string `json:"text"`
	Visibility string `json:"visibility"`
}

// PostAnswer creates a note on the user's instance. Misskey has a native
// home visibility, so the local vocabulary maps through unchanged.
func (a *MisskeyAdapter) PostAnswer(ctx context.Context, ident *store.Identity, post Post) error {
	token := a.requestToken(ident.AccessToken)

	note := misskeyNote{
		I:          token,
		CW:         truncateWarning(post.Title, misskeyCWLimit, misskeyCWKeep),
		Text:       post.Body,
		Visibility: string(post.Visibility),
	}

	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("%w: marshaling note: %v", ErrRejected, err)
	}

	url := a.BaseURL
	if url == "" {
		url = "https://" + ident.HostName
	}
	url += "/api/notes/create"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrRejected, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
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

	a.logger.Info("note created", "host", ident.HostName)
	return nil
}

// requestToken derives the app-scoped `i` token from the user token.
func (a *MisskeyAdapter) requestToken(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken + a.appSecret))
	return hex.EncodeToString(sum[:])
}
