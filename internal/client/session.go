// ABOUTME: Client-side session state folded from the event stream
// ABOUTME: Counters are replaced from payloads, deletions filter by id, so replays are harmless

package client

import (
	"sync"

	"github.com/askbox/askbox/internal/events"
	"github.com/askbox/askbox/internal/store"
)

// SessionState is the client's view of its user's data, maintained purely
// by folding stream events. Every reducer is idempotent: counters are
// replaced from the authoritative payload value and deletions filter by id,
// so duplicated or replayed events cannot drift the state.
type SessionState struct {
	mu sync.RWMutex

	handle        string
	questions     []store.Question
	questionCount int
	answers       []events.AnswerCreated
	notifications []events.Notification
}

// NewSessionState creates session state for the given handle. An empty
// handle folds only the public stream.
func NewSessionState(handle string) *SessionState {
	return &SessionState{handle: handle}
}

// Register subscribes the state's reducers on the bus.
func (s *SessionState) Register(bus *Bus) {
	bus.Subscribe(events.KindQuestionCreated, s.apply)
	bus.Subscribe(events.KindQuestionDeleted, s.apply)
	bus.Subscribe(events.KindAnswerCreated, s.apply)
	bus.Subscribe(events.KindAnswerDeleted, s.apply)
	bus.Subscribe(events.KindNotification, s.apply)
}

func (s *SessionState) apply(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case events.QuestionCreated:
		if e.QuestioneeHandle != s.handle {
			return
		}
		// Replace-by-id keeps a replayed create from duplicating the entry
		s.questions = filterQuestions(s.questions, e.Question.ID)
		s.questions = append([]store.Question{e.Question}, s.questions...)
		s.questionCount = e.QuestionNumbers

	case events.QuestionDeleted:
		if e.Handle != s.handle {
			return
		}
		s.questions = filterQuestions(s.questions, e.DeletedID)
		s.questionCount = e.QuestionNumbers

	case events.AnswerCreated:
		if e.HideFromMain && e.AnsweredPersonHandle != s.handle {
			return
		}
		s.answers = filterAnswers(s.answers, e.Answer.ID)
		s.answers = append([]events.AnswerCreated{e}, s.answers...)

	case events.AnswerDeleted:
		s.answers = filterAnswers(s.answers, e.DeletedID)
		// Notifications pointing at the deleted answer are stale
		kept := s.notifications[:0]
		for _, n := range s.notifications {
			if n.AnswerID != e.DeletedID {
				kept = append(kept, n)
			}
		}
		s.notifications = kept

	case events.Notification:
		if e.Handle != s.handle {
			return
		}
		switch e.Name {
		case store.NotificationReadAll:
			// Read state lives server side; nothing to fold locally
		case store.NotificationDeleteAll:
			s.notifications = nil
		default:
			s.notifications = append([]events.Notification{e}, s.notifications...)
		}
	}
}

// Questions returns the pending questions, newest first.
func (s *SessionState) Questions() []store.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// QuestionCount returns the last authoritative open-question count.
func (s *SessionState) QuestionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionCount
}

// Answers returns the visible answer feed, newest first.
func (s *SessionState) Answers() []events.AnswerCreated {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.AnswerCreated, len(s.answers))
	copy(out, s.answers)
	return out
}

// Notifications returns the folded notification list, newest first.
func (s *SessionState) Notifications() []events.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func filterQuestions(in []store.Question, id int64) []store.Question {
	out := in[:0]
	for _, q := range in {
		if q.ID != id {
			out = append(out, q)
		}
	}
	return out
}

func filterAnswers(in []events.AnswerCreated, id string) []events.AnswerCreated {
	out := in[:0]
	for _, a := range in {
		if a.Answer.ID != id {
			out = append(out, a)
		}
	}
	return out
}
