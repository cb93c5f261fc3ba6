// ABOUTME: Store interface and data types for askbox persistence
// ABOUTME: Defines Question, Answer, Identity, Profile, Notification and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when creating an identity whose handle is taken
var ErrDuplicateIdentity = errors.New("identity already exists")

// Instance kinds for federated identities
const (
	InstanceKindMisskey  = "misskey"
	InstanceKindMastodon = "mastodon"
)

// Notification names
const (
	NotificationAnswerOnMyQuestion = "answer-on-my-question"
	NotificationReadAll            = "read-all"
	NotificationDeleteAll          = "delete-all"
)

// Question is a pending question owned by the questionee. It is destroyed
// atomically when an Answer is published for it, or on explicit delete.
type Question struct {
	ID               int64     `json:"id"`
	Questioner       string    `json:"questioner,omitempty"` // display name; empty means anonymous
	Body             string    `json:"question"`
	QuestioneeHandle string    `json:"questioneeHandle"`
	QuestionedAt     time.Time `json:"questionedAt"`
}

// Answer is an immutable snapshot created by the publication pipeline.
// Question and Questioner are denormalized at answer time so later deletion
// of the source never alters the record.
type Answer struct {
	ID                   string    `json:"id"`
	Question             string    `json:"question"`
	Questioner           string    `json:"questioner,omitempty"`
	Body                 string    `json:"answer"`
	AnsweredPersonHandle string    `json:"answeredPersonHandle"`
	NSFW                 bool      `json:"nsfwedAnswer"`
	AnsweredAt           time.Time `json:"answeredAt"`
}

// Identity is a user's federated account. JWTIndex is a monotonic counter;
// incrementing it invalidates every session token bound to the old index.
type Identity struct {
	Handle       string `json:"handle"`
	HostName     string `json:"hostName"`
	InstanceKind string `json:"instanceKind"`
	AccessToken  string `json:"-"`
	JWTIndex     int64  `json:"-"`
}

// Profile holds per-user display data and answering preferences.
type Profile struct {
	Handle            string `json:"handle"`
	Name              string `json:"name"`
	AvatarURL         string `json:"avatarUrl,omitempty"`
	StopPostAnswer    bool   `json:"stopPostAnswer"`
	DefaultVisibility string `json:"defaultVisibility,omitempty"`
	HideFromMain      bool   `json:"hideFromMain"`
}

// Notification is a per-user notification record. AnswerID correlates
// answer-on-my-question entries with answer-deleted events so a deleted
// answer's notification can be pruned.
type Notification struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Name      string    `json:"notification_name"`
	AnswerID  string    `json:"answer_id,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store defines the persistence operations used by the server.
type Store interface {
	// Questions
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id int64) (*Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
	ListQuestions(ctx context.Context, questioneeHandle string) ([]*Question, error)
	CountQuestions(ctx context.Context, questioneeHandle string) (int, error)

	// Answers
	CreateAnswer(ctx context.Context, a *Answer) error
	GetAnswer(ctx context.Context, id string) (*Answer, error)
	DeleteAnswer(ctx context.Context, id string) error
	ListAnswers(ctx context.Context, answeredPersonHandle string, limit int) ([]*Answer, error)

	// Identities
	CreateIdentity(ctx context.Context, ident *Identity) error
	GetIdentity(ctx context.Context, handle string) (*Identity, error)
	// IncrementJWTIndex atomically bumps the identity's jwt index and returns
	// the new value. The counter only ever increases.
	IncrementJWTIndex(ctx context.Context, handle string) (int64, error)

	// Profiles
	UpsertProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, handle string) (*Profile, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, handle string) ([]*Notification, error)
	DeleteNotificationsByAnswer(ctx context.Context, answerID string) error
	ClearNotifications(ctx context.Context, handle string) error

	Close() error
}
