// ABOUTME: Answer publication pipeline: create answer, mirror to the fediverse, delete question, emit events
// ABOUTME: Compensates by deleting the provisional answer when the external post fails

package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askbox/askbox/internal/broker"
	"github.com/askbox/askbox/internal/events"
	"github.com/askbox/askbox/internal/fediverse"
	"github.com/askbox/askbox/internal/store"
)

// Service errors. All are terminal for the request; nothing is retried here.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("invalid request")
	ErrExternalPostFailed = errors.New("posting to the federated instance failed")
)

// maxAnswerLength bounds answer bodies; matches the longest status the
// supported instance kinds accept by default.
const maxAnswerLength = 3000

// maxQuestionLength bounds incoming question bodies.
const maxQuestionLength = 1000

// Service orchestrates the answer publication pipeline and the other
// question/answer mutations that emit realtime events.
type Service struct {
	store    store.Store
	broker   broker.Broker
	adapters fediverse.Registry
	baseURL  string
	hashtag  string
	logger   *slog.Logger
}

// NewService creates the publication service. baseURL is the canonical web
// URL answers are linked under; hashtag is appended to mirrored posts.
func NewService(st store.Store, br broker.Broker, adapters fediverse.Registry, baseURL, hashtag string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		broker:   br,
		adapters: adapters,
		baseURL:  strings.TrimRight(baseURL, "/"),
		hashtag:  hashtag,
		logger:   logger.With("component", "answer"),
	}
}

// CreateAnswerRequest is the caller-supplied content for a new answer.
type CreateAnswerRequest struct {
	Body       string               `json:"answer"`
	NSFW       bool                 `json:"nsfwedAnswer"`
	Visibility fediverse.Visibility `json:"visibility"`
}

// PublishAnswer runs the pipeline for one question:
//
//  1. load and authorize the question
//  2. insert the provisional answer
//  3. mirror it to the user's federated instance (unless disabled)
//  4. delete the question
//  5. recompute the open-question count
//  6. publish question-deleted then answer-created
//
// Any failure of step 3 deletes the provisional answer before returning, so
// no answer row ever survives a failed external post. A credential
// revocation additionally bumps the user's jwt index, invalidating every
// session bound to the old value.
func (s *Service) PublishAnswer(ctx context.Context, caller string, questionID int64, req CreateAnswerRequest) (*store.Answer, error) {
	if err := validateAnswer(&req); err != nil {
		return nil, err
	}

	q, err := s.store.GetQuestion(ctx, questionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: question %d", ErrNotFound, questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading question: %w", err)
	}
	if q.QuestioneeHandle != caller {
		return nil, fmt.Errorf("%w: question %d is not addressed to you", ErrForbidden, questionID)
	}

	profile, err := s.store.GetProfile(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	ident, err := s.store.GetIdentity(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	a := &store.Answer{
		Question:             q.Body,
		Questioner:           q.Questioner,
		Body:                 req.Body,
		AnsweredPersonHandle: caller,
		NSFW:                 req.NSFW,
	}
	if err := s.store.CreateAnswer(ctx, a); err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}

	if !profile.StopPostAnswer {
		if err := s.mirrorAnswer(ctx, ident, q, a, resolveVisibility(req.Visibility, profile)); err != nil {
			// Compensating delete: the provisional answer must not outlive
			// a failed external post.
			if delErr := s.store.DeleteAnswer(ctx, a.ID); delErr != nil {
				s.logger.Error("compensating delete failed",
					"answer_id", a.ID,
					"error", delErr)
			}
			return nil, err
		}
	}

	if err := s.store.DeleteQuestion(ctx, q.ID); err != nil {
		return nil, fmt.Errorf("deleting question: %w", err)
	}

	count, err := s.store.CountQuestions(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("counting questions: %w", err)
	}

	// question-deleted before answer-created, so consumers drop the pending
	// question before the answer lands in any feed.
	s.publish(ctx, events.QuestionDeleted{
		DeletedID:       q.ID,
		Handle:          caller,
		QuestionNumbers: count,
	})
	s.publish(ctx, events.AnswerCreated{
		Answer:         *a,
		AnsweredPerson: *profile,
		HideFromMain:   profile.HideFromMain,
	})

	s.notifyQuestioner(ctx, q, a)

	s.logger.Info("answer published",
		"answer_id", a.ID,
		"question_id", q.ID,
		"handle", caller)
	return a, nil
}

// mirrorAnswer posts the composed note to the user's instance, translating
// adapter outcomes into pipeline errors.
func (s *Service) mirrorAnswer(ctx context.Context, ident *store.Identity, q *store.Question, a *store.Answer, visibility fediverse.Visibility) error {
	adapter, err := s.adapters.For(ident.InstanceKind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalPostFailed, err)
	}

	post := s.composePost(q, a)
	post.Visibility = visibility

	err = adapter.PostAnswer(ctx, ident, post)
	if err == nil {
		return nil
	}

	if errors.Is(err, fediverse.ErrCredentialRevoked) {
		// The user revoked our token on their instance: invalidate every
		// session issued against the old jwt index.
		if _, incErr := s.store.IncrementJWTIndex(ctx, ident.Handle); incErr != nil {
			s.logger.Error("jwt index increment failed",
				"handle", ident.Handle,
				"error", incErr)
		} else {
			s.logger.Warn("sessions revoked after credential failure",
				"handle", ident.Handle)
		}
	}

	return fmt.Errorf("%w: %v", ErrExternalPostFailed, err)
}

// composePost builds the mirrored post's content warning and body.
func (s *Service) composePost(q *store.Question, a *store.Answer) fediverse.Post {
	answerURL := fmt.Sprintf("%s/user/%s/%s", s.baseURL, a.AnsweredPersonHandle, a.ID)

	var title string
	var lines []string
	if a.NSFW {
		title = "⚠️ This question is NSFW! " + s.hashtag
		if q.Questioner != "" {
			lines = append(lines, "Asked by: "+q.Questioner)
		}
		lines = append(lines, "Q: "+q.Body)
	} else {
		title = "Q: " + q.Body + " " + s.hashtag
		if q.Questioner != "" {
			lines = append(lines, "Asked by: "+q.Questioner)
		}
	}
	lines = append(lines, "A: "+a.Body)
	lines = append(lines, s.hashtag+" "+answerURL)

	return fediverse.Post{
		Title: title,
		Body:  strings.Join(lines, "\n"),
	}
}

// notifyQuestioner records and announces an answer-on-my-question
// notification when the questioner is a registered user. Anonymous or
// free-text questioners get nothing.
func (s *Service) notifyQuestioner(ctx context.Context, q *store.Question, a *store.Answer) {
	if q.Questioner == "" || q.Questioner == q.QuestioneeHandle {
		return
	}
	if _, err := s.store.GetIdentity(ctx, q.Questioner); err != nil {
		return
	}

	n := &store.Notification{
		Handle:   q.Questioner,
		Name:     store.NotificationAnswerOnMyQuestion,
		AnswerID: a.ID,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Error("creating notification failed",
			"handle", q.Questioner,
			"error", err)
		return
	}

	s.publish(ctx, events.Notification{
		Handle:   n.Handle,
		Name:     n.Name,
		AnswerID: n.AnswerID,
	})
}

// CreateQuestionRequest is the intake form for a new question.
type CreateQuestionRequest struct {
	Questioner       string `json:"questioner,omitempty"`
	Body             string `json:"question"`
	QuestioneeHandle string `json:"questioneeHandle"`
}

// CreateQuestion stores a question for its questionee and announces it with
// the authoritative post-mutation count.
func (s *Service) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*store.Question, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: question text is required", ErrValidation)
	}
	if len([]rune(body)) > maxQuestionLength {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrValidation, maxQuestionLength)
	}

	if _, err := s.store.GetIdentity(ctx, req.QuestioneeHandle); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, req.QuestioneeHandle)
		}
		return nil, fmt.Errorf("loading questionee: %w", err)
	}

	q := &store.Question{
		Questioner:       strings.TrimSpace(req.Questioner),
		Body:             body,
		QuestioneeHandle: req.QuestioneeHandle,
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("creating question: %w", err)
	}

	count, err := s.store.CountQuestions(ctx, req.QuestioneeHandle)
	if err != nil {
		return nil, fmt.Errorf("counting questions: %w", err)
	}

	s.publish(ctx, events.QuestionCreated{
		Question:        *q,
		QuestionNumbers: count,
	})

	s.logger.Info("question created",
		"question_id", q.ID,
		"questionee", q.QuestioneeHandle)
	return q, nil
}

// DeleteQuestion removes an open question from the caller's inbox and
// announces the new count.
func (s *Service) DeleteQuestion(ctx context.Context, caller string, questionID int64) error {
	q, err := s.store.GetQuestion(ctx, questionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: question %d", ErrNotFound, questionID)
	}
	if err != nil {
		return fmt.Errorf("loading question: %w", err)
	}
	if q.QuestioneeHandle != caller {
		return fmt.Errorf("%w: question %d is not yours to delete", ErrForbidden, questionID)
	}

	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("deleting question: %w", err)
	}

	count, err := s.store.CountQuestions(ctx, caller)
	if err != nil {
		return fmt.Errorf("counting questions: %w", err)
	}

	s.publish(ctx, events.QuestionDeleted{
		DeletedID:       questionID,
		Handle:          caller,
		QuestionNumbers: count,
	})
	return nil
}

// DeleteAnswer removes one of the caller's answers, prunes notification
// records referencing it, and announces the deletion.
func (s *Service) DeleteAnswer(ctx context.Context, caller string, answerID string) error {
	a, err := s.store.GetAnswer(ctx, answerID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: answer %s", ErrNotFound, answerID)
	}
	if err != nil {
		return fmt.Errorf("loading answer: %w", err)
	}
	if a.AnsweredPersonHandle != caller {
		return fmt.Errorf("%w: answer %s is not yours to delete", ErrForbidden, answerID)
	}

	if err := s.store.DeleteAnswer(ctx, answerID); err != nil {
		return fmt.Errorf("deleting answer: %w", err)
	}
	if err := s.store.DeleteNotificationsByAnswer(ctx, answerID); err != nil {
		s.logger.Error("pruning notifications failed",
			"answer_id", answerID,
			"error", err)
	}

	s.publish(ctx, events.AnswerDeleted{DeletedID: answerID})
	return nil
}

// ReadAllNotifications announces that the caller's notification box was read.
func (s *Service) ReadAllNotifications(ctx context.Context, caller string) error {
	s.publish(ctx, events.Notification{
		Handle: caller,
		Name:   store.NotificationReadAll,
	})
	return nil
}

// ClearNotifications deletes the caller's notification records and
// announces the wipe.
func (s *Service) ClearNotifications(ctx context.Context, caller string) error {
	if err := s.store.ClearNotifications(ctx, caller); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	s.publish(ctx, events.Notification{
		Handle: caller,
		Name:   store.NotificationDeleteAll,
	})
	return nil
}

// publish encodes and publishes one event. A broker failure is logged and
// swallowed: the datastore mutation is the source of truth and clients
// reconcile missed events by refetching on reconnect.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		s.logger.Error("encoding event failed", "kind", ev.Kind(), "error", err)
		return
	}
	if err := s.broker.Publish(ctx, ev.Kind(), payload); err != nil {
		s.logger.Warn("broker unavailable; realtime delivery degraded",
			"kind", ev.Kind(),
			"error", err)
	}
}

// validateAnswer normalizes and checks answer content before any mutation.
func validateAnswer(req *CreateAnswerRequest) error {
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		return fmt.Errorf("%w: answer text is required", ErrValidation)
	}
	if len([]rune(req.Body)) > maxAnswerLength {
		return fmt.Errorf("%w: answer exceeds %d characters", ErrValidation, maxAnswerLength)
	}
	if req.Visibility != "" && !req.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrValidation, req.Visibility)
	}
	return nil
}

// resolveVisibility picks the effective post visibility: explicit request
// value, then the profile default, then public.
func resolveVisibility(requested fediverse.Visibility, profile *store.Profile) fediverse.Visibility {
	if requested != "" {
		return requested
	}
	if v := fediverse.Visibility(profile.DefaultVisibility); v.Valid() {
		return v
	}
	return fediverse.VisibilityPublic
}
