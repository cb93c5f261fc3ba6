// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	nextQID       int64
	questions     map[int64]*Question
	answers       map[string]*Answer
	identities    map[string]*Identity
	profiles      map[string]*Profile
	notifications map[string]*Notification
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		questions:     make(map[int64]*Question),
		answers:       make(map[string]*Answer),
		identities:    make(map[string]*Identity),
		profiles:      make(map[string]*Profile),
		notifications: make(map[string]*Notification),
	}
}

// CreateQuestion stores a new question and assigns an ID.
func (m *MockStore) CreateQuestion(ctx context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextQID++
	q.ID = m.nextQID
	if q.QuestionedAt.IsZero() {
		q.QuestionedAt = time.Now().UTC()
	}

	// Copy to avoid external modification
	qq := *q
	m.questions[qq.ID] = &qq
	return nil
}

// GetQuestion retrieves a question by ID.
func (m *MockStore) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	qq := *q
	return &qq, nil
}

// DeleteQuestion removes a question.
func (m *MockStore) DeleteQuestion(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.questions[id]; !ok {
		return ErrNotFound
	}
	delete(m.questions, id)
	return nil
}

// ListQuestions returns a questionee's open questions, newest first.
func (m *MockStore) ListQuestions(ctx context.Context, questioneeHandle string) ([]*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Question
	for _, q := range m.questions {
		if q.QuestioneeHandle == questioneeHandle {
			qq := *q
			out = append(out, &qq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// CountQuestions counts a questionee's open questions.
func (m *MockStore) CountQuestions(ctx context.Context, questioneeHandle string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, q := range m.questions {
		if q.QuestioneeHandle == questioneeHandle {
			n++
		}
	}
	return n, nil
}

// CreateAnswer stores a new answer.
func (m *MockStore) CreateAnswer(ctx context.Context, a *Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now().UTC()
	}

	aa := *a
	m.answers[aa.ID] = &aa
	return nil
}

// GetAnswer retrieves an answer by ID.
func (m *MockStore) GetAnswer(ctx context.Context, id string) (*Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.answers[id]
	if !ok {
		return nil, ErrNotFound
	}
	aa := *a
	return &aa, nil
}

// DeleteAnswer removes an answer.
func (m *MockStore) DeleteAnswer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.answers[id]; !ok {
		return ErrNotFound
	}
	delete(m.answers, id)
	return nil
}

// ListAnswers returns a user's answers, newest first, up to limit (0 = all).
func (m *MockStore) ListAnswers(ctx context.Context, answeredPersonHandle string, limit int) ([]*Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Answer
	for _, a := range m.answers {
		if a.AnsweredPersonHandle == answeredPersonHandle {
			aa := *a
			out = append(out, &aa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnsweredAt.After(out[j].AnsweredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateIdentity stores a federated identity.
func (m *MockStore) CreateIdentity(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[ident.Handle]; ok {
		return ErrDuplicateIdentity
	}
	ii := *ident
	m.identities[ii.Handle] = &ii
	return nil
}

// GetIdentity retrieves an identity by handle.
func (m *MockStore) GetIdentity(ctx context.Context, handle string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.identities[handle]
	if !ok {
		return nil, ErrNotFound
	}
	ii := *ident
	return &ii, nil
}

// IncrementJWTIndex bumps and returns the identity's jwt index.
func (m *MockStore) IncrementJWTIndex(ctx context.Context, handle string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[handle]
	if !ok {
		return 0, ErrNotFound
	}
	ident.JWTIndex++
	return ident.JWTIndex, nil
}

// UpsertProfile stores a profile.
func (m *MockStore) UpsertProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pp := *p
	m.profiles[pp.Handle] = &pp
	return nil
}

// GetProfile retrieves a profile by handle.
func (m *MockStore) GetProfile(ctx context.Context, handle string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[handle]
	if !ok {
		return nil, ErrNotFound
	}
	pp := *p
	return &pp, nil
}

// CreateNotification stores a notification record.
func (m *MockStore) CreateNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	nn := *n
	m.notifications[nn.ID] = &nn
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (m *MockStore) ListNotifications(ctx context.Context, handle string) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.notifications {
		if n.Handle == handle {
			nn := *n
			out = append(out, &nn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteNotificationsByAnswer prunes notifications referencing an answer.
func (m *MockStore) DeleteNotificationsByAnswer(ctx context.Context, answerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, n := range m.notifications {
		if n.AnswerID == answerID {
			delete(m.notifications, id)
		}
	}
	return nil
}

// ClearNotifications removes all of a user's notifications.
func (m *MockStore) ClearNotifications(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, n := range m.notifications {
		if n.Handle == handle {
			delete(m.notifications, id)
		}
	}
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
