// ABOUTME: Tests for the HTTP API surface
// ABOUTME: Covers auth middleware, error mapping, and the request/response shapes end to end

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbox/askbox/internal/answer"
	"github.com/askbox/askbox/internal/auth"
	"github.com/askbox/askbox/internal/broker"
	"github.com/askbox/askbox/internal/fediverse"
	"github.com/askbox/askbox/internal/store"
)

type fakeAdapter struct {
	err error
}

func (f *fakeAdapter) PostAnswer(ctx context.Context, ident *store.Identity, post fediverse.Post) error {
	return f.err
}

type testAPI struct {
	store    *store.MockStore
	adapter  *fakeAdapter
	verifier *auth.JWTVerifier
	router   http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st := store.NewMockStore()
	br := broker.NewMemoryBroker(nil)
	t.Cleanup(func() { br.Close() })

	adapter := &fakeAdapter{}
	registry := fediverse.Registry{
		store.InstanceKindMisskey:  adapter,
		store.InstanceKindMastodon: adapter,
	}
	svc := answer.NewService(st, br, registry, "https://ask.example.com", "#askbox", nil)
	verifier := auth.NewJWTVerifier([]byte("test-secret"), st)

	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	h := NewHandler(svc, st, verifier, gateway, nil)
	return &testAPI{store: st, adapter: adapter, verifier: verifier, router: NewRouter(h)}
}

func (a *testAPI) seedUser(t *testing.T, handle string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.store.CreateIdentity(ctx, &store.Identity{
		Handle:       handle,
		HostName:     "example.social",
		InstanceKind: store.InstanceKindMisskey,
		AccessToken:  "token",
	}))
	require.NoError(t, a.store.UpsertProfile(ctx, &store.Profile{Handle: handle, Name: "Bob"}))

	token, err := a.verifier.Generate(ctx, handle, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateQuestion(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "favorite color?",
		"questioneeHandle": "@bob@example.social",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var q store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.NotZero(t, q.ID)
	assert.Equal(t, "favorite color?", q.Body)
}

func TestCreateQuestion_Failures(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "hi",
		"questioneeHandle": "@nobody@example.social",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "",
		"questioneeHandle": "@bob@example.social",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/questions", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	// No token
	rec := api.do(t, http.MethodGet, "/api/questions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token
	rec = api.do(t, http.MethodGet, "/api/questions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token
	rec = api.do(t, http.MethodGet, "/api/questions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cookie works too
	req := httptest.NewRequest(http.MethodGet, "/api/questions", nil)
	req.AddCookie(&http.Cookie{Name: "jwtToken", Value: token})
	cookieRec := httptest.NewRecorder()
	api.router.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)
}

func TestAuthMiddleware_RevokedAfterIndexBump(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodGet, "/api/questions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := api.store.IncrementJWTIndex(context.Background(), "@bob@example.social")
	require.NoError(t, err)

	rec = api.do(t, http.MethodGet, "/api/questions", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishAnswer_EndToEnd(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "favorite color?",
		"questioneeHandle": "@bob@example.social",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var q store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/questions/%d/answer", q.ID), token, map[string]any{
		"answer":     "green",
		"visibility": "public",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var a store.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.NotEmpty(t, a.ID)

	// Inbox is now empty
	rec = api.do(t, http.MethodGet, "/api/questions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var questions []store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &questions))
	assert.Empty(t, questions)

	// Answer shows in the public feed
	rec = api.do(t, http.MethodGet, "/api/answers?handle=@bob@example.social", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var answers []store.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answers))
	require.Len(t, answers, 1)
	assert.Equal(t, a.ID, answers[0].ID)
}

func TestPublishAnswer_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	bobToken := api.seedUser(t, "@bob@example.social")
	api.seedUser(t, "@alice@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "for alice",
		"questioneeHandle": "@alice@example.social",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var q store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))

	// Bob answering alice's question is forbidden
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/questions/%d/answer", q.ID), bobToken, map[string]any{
		"answer": "mine now",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown question
	rec = api.do(t, http.MethodPost, "/api/questions/99999/answer", bobToken, map[string]any{
		"answer": "a",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Non-numeric id
	rec = api.do(t, http.MethodPost, "/api/questions/abc/answer", bobToken, map[string]any{
		"answer": "a",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishAnswer_ExternalFailureIsBadGateway(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "q?",
		"questioneeHandle": "@bob@example.social",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var q store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))

	api.adapter.err = fediverse.ErrRejected

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/questions/%d/answer", q.ID), token, map[string]any{
		"answer": "a",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeleteEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodPost, "/api/questions", "", map[string]any{
		"question":         "q?",
		"questioneeHandle": "@bob@example.social",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var q store.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/questions/%d", q.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/questions/%d", q.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/answers/no-such-answer", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")

	rec := api.do(t, http.MethodGet, "/api/users/@bob@example.social/profile", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/profile", token, map[string]any{
		"handle":         "@mallory@example.social",
		"name":           "Bob Prime",
		"stopPostAnswer": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Handle in the body is ignored; the session owns the profile
	p, err := api.store.GetProfile(context.Background(), "@bob@example.social")
	require.NoError(t, err)
	assert.Equal(t, "Bob Prime", p.Name)
	assert.True(t, p.StopPostAnswer)
}

func TestNotificationEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser(t, "@bob@example.social")
	require.NoError(t, api.store.CreateNotification(context.Background(), &store.Notification{
		Handle:   "@bob@example.social",
		Name:     store.NotificationAnswerOnMyQuestion,
		AnswerID: "ans-1",
	}))

	rec := api.do(t, http.MethodGet, "/api/notifications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifications []store.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifications))
	require.Len(t, notifications, 1)

	rec = api.do(t, http.MethodPost, "/api/notifications/read-all", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/notifications", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/notifications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notifications = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifications))
	assert.Empty(t, notifications)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
