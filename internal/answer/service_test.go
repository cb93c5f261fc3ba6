// ABOUTME: Tests for the answer publication pipeline
// ABOUTME: Covers the happy path, compensation on external failure, credential revocation, and event ordering

package answer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbox/askbox/internal/broker"
	"github.com/askbox/askbox/internal/events"
	"github.com/askbox/askbox/internal/fediverse"
	"github.com/askbox/askbox/internal/store"
)

// fakeAdapter records posts and returns a scripted error.
type fakeAdapter struct {
	err   error
	posts []fediverse.Post
}

func (f *fakeAdapter) PostAnswer(ctx context.Context, ident *store.Identity, post fediverse.Post) error {
	f.posts = append(f.posts, post)
	return f.err
}

type fixture struct {
	store   *store.MockStore
	broker  *broker.MemoryBroker
	adapter *fakeAdapter
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMockStore()
	br := broker.NewMemoryBroker(nil)
	t.Cleanup(func() { br.Close() })

	adapter := &fakeAdapter{}
	registry := fediverse.Registry{
		store.InstanceKindMisskey:  adapter,
		store.InstanceKindMastodon: adapter,
	}

	svc := NewService(st, br, registry, "https://ask.example.com", "#askbox", nil)
	return &fixture{store: st, broker: br, adapter: adapter, svc: svc}
}

func (f *fixture) seedUser(t *testing.T, handle string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateIdentity(ctx, &store.Identity{
		Handle:       handle,
		HostName:     "example.social",
		InstanceKind: store.InstanceKindMisskey,
		AccessToken:  "token",
	}))
	require.NoError(t, f.store.UpsertProfile(ctx, &store.Profile{
		Handle: handle,
		Name:   "Bob",
	}))
}

func (f *fixture) seedQuestion(t *testing.T, questionee, questioner, body string) *store.Question {
	t.Helper()
	q := &store.Question{
		Questioner:       questioner,
		Body:             body,
		QuestioneeHandle: questionee,
	}
	require.NoError(t, f.store.CreateQuestion(context.Background(), q))
	return q
}

// collect drains messages from a subscription until n arrive or the
// timeout hits.
func collect(t *testing.T, sub broker.Subscription, n int) []broker.Message {
	t.Helper()
	var out []broker.Message
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d messages", len(out), n)
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestPublishAnswer_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "favorite color?")

	sub, err := f.broker.Subscribe(ctx, events.KindQuestionDeleted, events.KindAnswerCreated)
	require.NoError(t, err)
	defer sub.Close()

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{
		Body:       "green",
		Visibility: fediverse.VisibilityHome,
	})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	// Answer persisted, question gone
	stored, err := f.store.GetAnswer(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "favorite color?", stored.Question)
	_, err = f.store.GetQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Mirrored with the requested visibility
	require.Len(t, f.adapter.posts, 1)
	assert.Equal(t, fediverse.VisibilityHome, f.adapter.posts[0].Visibility)
	assert.Contains(t, f.adapter.posts[0].Title, "favorite color?")
	assert.Contains(t, f.adapter.posts[0].Body, "https://ask.example.com/user/@bob@example.social/"+a.ID)

	// question-deleted arrives before answer-created
	msgs := collect(t, sub, 2)
	assert.Equal(t, events.KindQuestionDeleted, msgs[0].Topic)
	assert.Equal(t, events.KindAnswerCreated, msgs[1].Topic)

	ev, err := events.Decode(msgs[0].Payload)
	require.NoError(t, err)
	qd := ev.(events.QuestionDeleted)
	assert.Equal(t, q.ID, qd.DeletedID)
	assert.Equal(t, 0, qd.QuestionNumbers)

	ev, err = events.Decode(msgs[1].Payload)
	require.NoError(t, err)
	ac := ev.(events.AnswerCreated)
	assert.Equal(t, a.ID, ac.Answer.ID)
	assert.Equal(t, "Bob", ac.AnsweredPerson.Name)
}

func TestPublishAnswer_ExternalFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	f.adapter.err = fediverse.ErrRejected

	_, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	assert.ErrorIs(t, err, ErrExternalPostFailed)

	// Provisional answer rolled back, question untouched
	answers, listErr := f.store.ListAnswers(ctx, "@bob@example.social", 0)
	require.NoError(t, listErr)
	assert.Empty(t, answers)
	_, getErr := f.store.GetQuestion(ctx, q.ID)
	assert.NoError(t, getErr)
}

func TestPublishAnswer_CredentialRevokedBumpsJWTIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	f.adapter.err = fediverse.ErrCredentialRevoked

	_, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	assert.ErrorIs(t, err, ErrExternalPostFailed)

	ident, err := f.store.GetIdentity(ctx, "@bob@example.social")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ident.JWTIndex)

	answers, err := f.store.ListAnswers(ctx, "@bob@example.social", 0)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestPublishAnswer_StopPostAnswerSkipsMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	require.NoError(t, f.store.UpsertProfile(ctx, &store.Profile{
		Handle:         "@bob@example.social",
		Name:           "Bob",
		StopPostAnswer: true,
	}))
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	// Even a broken adapter cannot fail the pipeline when mirroring is off
	f.adapter.err = fediverse.ErrRejected

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)
	assert.Empty(t, f.adapter.posts)

	_, err = f.store.GetAnswer(ctx, a.ID)
	assert.NoError(t, err)
}

func TestPublishAnswer_ProfileDefaultVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	require.NoError(t, f.store.UpsertProfile(ctx, &store.Profile{
		Handle:            "@bob@example.social",
		Name:              "Bob",
		DefaultVisibility: "followers",
	}))
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	// No visibility on the request: the profile default wins
	_, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	require.Len(t, f.adapter.posts, 1)
	assert.Equal(t, fediverse.VisibilityFollowers, f.adapter.posts[0].Visibility)
}

func TestPublishAnswer_AuthorizationAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	_, err := f.svc.PublishAnswer(ctx, "@mallory@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.PublishAnswer(ctx, "@bob@example.social", 9999, CreateAnswerRequest{Body: "a"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{
		Body:       "a",
		Visibility: "direct",
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Nothing was mutated by the failed attempts
	_, err = f.store.GetQuestion(ctx, q.ID)
	assert.NoError(t, err)
}

func TestPublishAnswer_NotifiesRegisteredQuestioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	f.seedUser(t, "@alice@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "@alice@example.social", "q?")

	sub, err := f.broker.Subscribe(ctx, events.KindNotification)
	require.NoError(t, err)
	defer sub.Close()

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	msgs := collect(t, sub, 1)
	ev, err := events.Decode(msgs[0].Payload)
	require.NoError(t, err)
	n := ev.(events.Notification)
	assert.Equal(t, "@alice@example.social", n.Handle)
	assert.Equal(t, store.NotificationAnswerOnMyQuestion, n.Name)
	assert.Equal(t, a.ID, n.AnswerID)

	recorded, err := f.store.ListNotifications(ctx, "@alice@example.social")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, a.ID, recorded[0].AnswerID)
}

func TestPublishAnswer_AnonymousQuestionerGetsNoNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "a passerby", "q?")

	_, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	recorded, err := f.store.ListNotifications(ctx, "a passerby")
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestCreateQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")

	sub, err := f.broker.Subscribe(ctx, events.KindQuestionCreated)
	require.NoError(t, err)
	defer sub.Close()

	q, err := f.svc.CreateQuestion(ctx, CreateQuestionRequest{
		Body:             "what now?",
		QuestioneeHandle: "@bob@example.social",
	})
	require.NoError(t, err)
	require.NotZero(t, q.ID)

	msgs := collect(t, sub, 1)
	ev, err := events.Decode(msgs[0].Payload)
	require.NoError(t, err)
	qc := ev.(events.QuestionCreated)
	assert.Equal(t, q.ID, qc.Question.ID)
	assert.Equal(t, 1, qc.QuestionNumbers)
}

func TestCreateQuestion_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")

	_, err := f.svc.CreateQuestion(ctx, CreateQuestionRequest{
		Body:             "hi",
		QuestioneeHandle: "@nobody@example.social",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateQuestion(ctx, CreateQuestionRequest{
		Body:             "  ",
		QuestioneeHandle: "@bob@example.social",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")
	f.seedQuestion(t, "@bob@example.social", "", "another?")

	sub, err := f.broker.Subscribe(ctx, events.KindQuestionDeleted)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.svc.DeleteQuestion(ctx, "@bob@example.social", q.ID))

	msgs := collect(t, sub, 1)
	ev, err := events.Decode(msgs[0].Payload)
	require.NoError(t, err)
	qd := ev.(events.QuestionDeleted)
	assert.Equal(t, q.ID, qd.DeletedID)
	assert.Equal(t, 1, qd.QuestionNumbers)

	err = f.svc.DeleteQuestion(ctx, "@mallory@example.social", qd.DeletedID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAnswer_PrunesNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	f.seedUser(t, "@alice@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "@alice@example.social", "q?")

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	sub, err := f.broker.Subscribe(ctx, events.KindAnswerDeleted)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.svc.DeleteAnswer(ctx, "@bob@example.social", a.ID))

	_, err = f.store.GetAnswer(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	recorded, err := f.store.ListNotifications(ctx, "@alice@example.social")
	require.NoError(t, err)
	assert.Empty(t, recorded)

	msgs := collect(t, sub, 1)
	ev, err := events.Decode(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, a.ID, ev.(events.AnswerDeleted).DeletedID)
}

func TestDeleteAnswer_OwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	err = f.svc.DeleteAnswer(ctx, "@mallory@example.social", a.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestNotificationBoxOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@alice@example.social")
	require.NoError(t, f.store.CreateNotification(ctx, &store.Notification{
		Handle:   "@alice@example.social",
		Name:     store.NotificationAnswerOnMyQuestion,
		AnswerID: "ans-1",
	}))

	sub, err := f.broker.Subscribe(ctx, events.KindNotification)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.svc.ReadAllNotifications(ctx, "@alice@example.social"))
	require.NoError(t, f.svc.ClearNotifications(ctx, "@alice@example.social"))

	msgs := collect(t, sub, 2)
	var names []string
	for _, m := range msgs {
		ev, decErr := events.Decode(m.Payload)
		require.NoError(t, decErr)
		names = append(names, ev.(events.Notification).Name)
	}
	assert.Equal(t, []string{store.NotificationReadAll, store.NotificationDeleteAll}, names)

	recorded, err := f.store.ListNotifications(ctx, "@alice@example.social")
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestComposePost_NSFW(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "curious cat", "spicy?")

	_, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{
		Body: "very",
		NSFW: true,
	})
	require.NoError(t, err)

	require.Len(t, f.adapter.posts, 1)
	post := f.adapter.posts[0]
	assert.Contains(t, post.Title, "NSFW")
	assert.NotContains(t, post.Title, "spicy?")
	assert.Contains(t, post.Body, "Q: spicy?")
	assert.Contains(t, post.Body, "Asked by: curious cat")
	assert.Contains(t, post.Body, "A: very")
}

func TestPublish_BrokerErrorsAreNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	f.svc.broker = failingBroker{}

	a, err := f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)
	_, err = f.store.GetAnswer(ctx, a.ID)
	assert.NoError(t, err)
}

type failingBroker struct{}

func (failingBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return assert.AnError
}

func (failingBroker) Subscribe(ctx context.Context, topics ...string) (broker.Subscription, error) {
	return nil, assert.AnError
}

func (failingBroker) Close() error { return nil }

func TestAnswerCreatedEnvelopeShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "@bob@example.social")
	q := f.seedQuestion(t, "@bob@example.social", "", "q?")

	sub, err := f.broker.Subscribe(ctx, events.KindAnswerCreated)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.svc.PublishAnswer(ctx, "@bob@example.social", q.ID, CreateAnswerRequest{Body: "a"})
	require.NoError(t, err)

	msgs := collect(t, sub, 1)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &env))
	assert.Contains(t, env, "ev_name")
	assert.Contains(t, env, "data")
}
