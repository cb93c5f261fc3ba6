// ABOUTME: HTTP handlers for questions, answers, profiles, and notifications
// ABOUTME: Thin adapters: decode, delegate to the service or store, encode

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/askbox/askbox/internal/answer"
	"github.com/askbox/askbox/internal/auth"
	"github.com/askbox/askbox/internal/store"
)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// websocket hands the request to the gateway. Auth is handled there since
// gateway connections may be anonymous.
func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	h.gateway.ServeHTTP(w, r)
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req answer.CreateQuestionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q, err := h.svc.CreateQuestion(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "create_question", err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())

	questions, err := h.store.ListQuestions(r.Context(), handle)
	if err != nil {
		h.writeMappedError(r.Context(), w, "list_questions", err)
		return
	}
	if questions == nil {
		questions = []*store.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) publishAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	var req answer.CreateAnswerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	handle := auth.HandleFromContext(r.Context())
	a, err := h.svc.PublishAnswer(r.Context(), handle, questionID, req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "publish_answer", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	handle := auth.HandleFromContext(r.Context())
	if err := h.svc.DeleteQuestion(r.Context(), handle, questionID); err != nil {
		h.writeMappedError(r.Context(), w, "delete_question", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteAnswer(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())
	if err := h.svc.DeleteAnswer(r.Context(), handle, chi.URLParam(r, "id")); err != nil {
		h.writeMappedError(r.Context(), w, "delete_answer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAnswers(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "handle query parameter is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	answers, err := h.store.ListAnswers(r.Context(), handle, limit)
	if err != nil {
		h.writeMappedError(r.Context(), w, "list_answers", err)
		return
	}
	if answers == nil {
		answers = []*store.Answer{}
	}
	writeJSON(w, http.StatusOK, answers)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.GetProfile(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeMappedError(r.Context(), w, "get_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req store.Profile
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The handle comes from the session, never from the body
	req.Handle = auth.HandleFromContext(r.Context())
	if err := h.store.UpsertProfile(r.Context(), &req); err != nil {
		h.writeMappedError(r.Context(), w, "update_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())

	notifications, err := h.store.ListNotifications(r.Context(), handle)
	if err != nil {
		h.writeMappedError(r.Context(), w, "list_notifications", err)
		return
	}
	if notifications == nil {
		notifications = []*store.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) readAllNotifications(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())
	if err := h.svc.ReadAllNotifications(r.Context(), handle); err != nil {
		h.writeMappedError(r.Context(), w, "read_all_notifications", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearNotifications(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())
	if err := h.svc.ClearNotifications(r.Context(), handle); err != nil {
		h.writeMappedError(r.Context(), w, "clear_notifications", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
