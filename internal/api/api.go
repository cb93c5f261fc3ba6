// ABOUTME: HTTP API surface: chi router, auth middleware, and error mapping
// ABOUTME: JSON in, JSON out; the answer service owns all business rules

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/askbox/askbox/internal/answer"
	"github.com/askbox/askbox/internal/auth"
	"github.com/askbox/askbox/internal/store"
)

// Handler is the HTTP adapter over the answer service and the store.
type Handler struct {
	svc      *answer.Service
	store    store.Store
	verifier auth.TokenVerifier
	gateway  http.Handler
	logger   *slog.Logger
}

// NewHandler constructs the HTTP handler.
func NewHandler(svc *answer.Service, st store.Store, verifier auth.TokenVerifier, gateway http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      svc,
		store:    st,
		verifier: verifier,
		gateway:  gateway,
		logger:   logger.With("component", "api"),
	}
}

// NewRouter registers all routes and the middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/api/websocket", h.websocket)

	r.Route("/api", func(r chi.Router) {
		// Public surface
		r.Post("/questions", h.createQuestion)
		r.Get("/answers", h.listAnswers)
		r.Get("/users/{handle}/profile", h.getProfile)

		// Authenticated surface
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)
			r.Get("/questions", h.listQuestions)
			r.Post("/questions/{id}/answer", h.publishAnswer)
			r.Delete("/questions/{id}", h.deleteQuestion)
			r.Delete("/answers/{id}", h.deleteAnswer)
			r.Put("/profile", h.updateProfile)
			r.Get("/notifications", h.listNotifications)
			r.Post("/notifications/read-all", h.readAllNotifications)
			r.Delete("/notifications", h.clearNotifications)
		})
	})

	return r
}

// authMiddleware requires a valid session token, via Authorization: Bearer
// or the jwtToken cookie, and puts the handle on the request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie("jwtToken"); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		handle, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			h.logger.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithHandle(r.Context(), handle)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// decodeBody parses a single JSON value from the request body.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeMappedError translates service errors to HTTP statuses.
func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, answer.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, answer.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, answer.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, answer.ErrExternalPostFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "operation", operation, "error", err)
		writeError(w, status, "internal error")
		return
	}

	h.logger.Debug("request rejected", "operation", operation, "status", status, "error", err)
	writeError(w, status, err.Error())
}
