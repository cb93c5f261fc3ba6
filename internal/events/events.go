// ABOUTME: Domain event types and the tagged wire envelope shared by server and client
// ABOUTME: A closed set of variants with a single decode step at the socket boundary

package events

import (
	"encoding/json"
	"fmt"

	"github.com/askbox/askbox/internal/store"
)

// Event names. The name doubles as the broker topic and as the ev_name
// field of the wire envelope.
const (
	KindQuestionCreated = "question-created-event"
	KindQuestionDeleted = "question-deleted-event"
	KindAnswerCreated   = "answer-created-event"
	KindAnswerDeleted   = "answer-deleted-event"
	KindNotification    = "notification-event"
	KindKeepAlive       = "keep-alive"
)

// Topics lists every broker topic a gateway instance subscribes to.
// keep-alive is generated per connection and never crosses the broker.
var Topics = []string{
	KindQuestionCreated,
	KindQuestionDeleted,
	KindAnswerCreated,
	KindAnswerDeleted,
	KindNotification,
}

// Event is the closed union of domain events. Payloads are immutable value
// objects; an event is transient and owned by nobody once emitted.
type Event interface {
	Kind() string
}

// QuestionCreated announces a new pending question to its questionee.
// QuestionNumbers is the authoritative post-mutation open-question count so
// receivers replace their counter instead of incrementing it.
type QuestionCreated struct {
	store.Question
	QuestionNumbers int `json:"question_numbers"`
}

func (QuestionCreated) Kind() string { return KindQuestionCreated }

// QuestionDeleted announces that a question left its questionee's inbox,
// whether answered or explicitly deleted.
type QuestionDeleted struct {
	DeletedID       int64  `json:"deleted_id"`
	Handle          string `json:"handle"`
	QuestionNumbers int    `json:"question_numbers"`
}

func (QuestionDeleted) Kind() string { return KindQuestionDeleted }

// AnswerCreated carries the full answer plus a denormalized author profile
// for feed rendering without a follow-up fetch.
type AnswerCreated struct {
	store.Answer
	AnsweredPerson store.Profile `json:"answeredPerson"`
	HideFromMain   bool          `json:"hideFromMain"`
}

func (AnswerCreated) Kind() string { return KindAnswerCreated }

// AnswerDeleted announces removal of an answer from public feeds.
type AnswerDeleted struct {
	DeletedID string `json:"deleted_id"`
}

func (AnswerDeleted) Kind() string { return KindAnswerDeleted }

// Notification delivers a notification record to its owner's stream.
type Notification struct {
	Handle   string `json:"handle"`
	Name     string `json:"notification_name"`
	AnswerID string `json:"answer_id,omitempty"`
}

func (Notification) Kind() string { return KindNotification }

// KeepAlive is the gateway's idle-timer heartbeat. It carries no data.
type KeepAlive struct{}

func (KeepAlive) Kind() string { return KindKeepAlive }

// Envelope is the wire form: { "ev_name": ..., "data": ... }, one per message.
type Envelope struct {
	EvName string          `json:"ev_name"`
	Data   json.RawMessage `json:"data"`
}

// Encode wraps an event in its envelope and marshals it for the wire
// or for broker transport.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{EvName: ev.Kind(), Data: data})
}

// Decode parses an envelope into its typed event. This is the single place
// the ev_name tag is inspected; everything downstream switches on the
// concrete type.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	switch env.EvName {
	case KindQuestionCreated:
		var ev QuestionCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", env.EvName, err)
		}
		return ev, nil
	case KindQuestionDeleted:
		var ev QuestionDeleted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", env.EvName, err)
		}
		return ev, nil
	case KindAnswerCreated:
		var ev AnswerCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", env.EvName, err)
		}
		return ev, nil
	case KindAnswerDeleted:
		var ev AnswerDeleted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", env.EvName, err)
		}
		return ev, nil
	case KindNotification:
		var ev Notification
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", env.EvName, err)
		}
		return ev, nil
	case KindKeepAlive:
		return KeepAlive{}, nil
	default:
		return nil, fmt.Errorf("unknown event name %q", env.EvName)
	}
}

// Audience returns the handle an event is scoped to, or ok=false when the
// event is public and goes to every connection.
func Audience(ev Event) (handle string, ok bool) {
	switch e := ev.(type) {
	case QuestionCreated:
		return e.QuestioneeHandle, true
	case QuestionDeleted:
		return e.Handle, true
	case Notification:
		return e.Handle, true
	default:
		return "", false
	}
}
