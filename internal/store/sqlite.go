// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides question/answer/identity persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			handle TEXT PRIMARY KEY,
			host_name TEXT NOT NULL,
			instance_kind TEXT NOT NULL,
			access_token TEXT NOT NULL,
			jwt_index INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS profiles (
			handle TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			stop_post_answer INTEGER NOT NULL DEFAULT 0,
			default_visibility TEXT NOT NULL DEFAULT 'public',
			hide_from_main INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (handle) REFERENCES identities(handle)
		);

		CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			questioner TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			questionee_handle TEXT NOT NULL,
			questioned_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_questions_questionee
			ON questions(questionee_handle);

		CREATE TABLE IF NOT EXISTS answers (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			questioner TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			answered_person_handle TEXT NOT NULL,
			nsfw INTEGER NOT NULL DEFAULT 0,
			answered_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_answers_person_answered
			ON answers(answered_person_handle, answered_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			handle TEXT NOT NULL,
			name TEXT NOT NULL,
			answer_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_handle
			ON notifications(handle, created_at);

		CREATE INDEX IF NOT EXISTS idx_notifications_answer
			ON notifications(answer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateQuestion inserts a new question and fills in its generated ID.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *Question) error {
	if q.QuestionedAt.IsZero() {
		q.QuestionedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (questioner, body, questionee_handle, questioned_at)
		 VALUES (?, ?, ?, ?)`,
		q.Questioner, q.Body, q.QuestioneeHandle, q.QuestionedAt)
	if err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading question id: %w", err)
	}
	q.ID = id
	return nil
}

// GetQuestion fetches a question by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	var q Question
	err := s.db.QueryRowContext(ctx,
		`SELECT id, questioner, body, questionee_handle, questioned_at
		 FROM questions WHERE id = ?`, id).
		Scan(&q.ID, &q.Questioner, &q.Body, &q.QuestioneeHandle, &q.QuestionedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying question: %w", err)
	}
	return &q, nil
}

// DeleteQuestion removes a question. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListQuestions returns all open questions for a questionee, newest first.
func (s *SQLiteStore) ListQuestions(ctx context.Context, questioneeHandle string) ([]*Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, questioner, body, questionee_handle, questioned_at
		 FROM questions WHERE questionee_handle = ?
		 ORDER BY questioned_at DESC, id DESC`, questioneeHandle)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var out []*Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Questioner, &q.Body, &q.QuestioneeHandle, &q.QuestionedAt); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// CountQuestions returns the authoritative open-question count for a questionee.
func (s *SQLiteStore) CountQuestions(ctx context.Context, questioneeHandle string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE questionee_handle = ?`, questioneeHandle).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	return n, nil
}

// CreateAnswer inserts an answer row. Generates an ID if not set.
func (s *SQLiteStore) CreateAnswer(ctx context.Context, a *Answer) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (id, question, questioner, body, answered_person_handle, nsfw, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Question, a.Questioner, a.Body, a.AnsweredPersonHandle, a.NSFW, a.AnsweredAt)
	if err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}
	return nil
}

// GetAnswer fetches an answer by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAnswer(ctx context.Context, id string) (*Answer, error) {
	var a Answer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, questioner, body, answered_person_handle, nsfw, answered_at
		 FROM answers WHERE id = ?`, id).
		Scan(&a.ID, &a.Question, &a.Questioner, &a.Body, &a.AnsweredPersonHandle, &a.NSFW, &a.AnsweredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying answer: %w", err)
	}
	return &a, nil
}

// DeleteAnswer removes an answer. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteAnswer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAnswers returns a user's answers, newest first, up to limit (0 = all).
func (s *SQLiteStore) ListAnswers(ctx context.Context, answeredPersonHandle string, limit int) ([]*Answer, error) {
	query := `SELECT id, question, questioner, body, answered_person_handle, nsfw, answered_at
		 FROM answers WHERE answered_person_handle = ?
		 ORDER BY answered_at DESC`
	args := []any{answeredPersonHandle}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	var out []*Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.Question, &a.Questioner, &a.Body, &a.AnsweredPersonHandle, &a.NSFW, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CreateIdentity inserts a federated identity.
// Returns ErrDuplicateIdentity if the handle is already registered.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, ident *Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (handle, host_name, instance_kind, access_token, jwt_index)
		 VALUES (?, ?, ?, ?, ?)`,
		ident.Handle, ident.HostName, ident.InstanceKind, ident.AccessToken, ident.JWTIndex)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// GetIdentity fetches an identity by handle. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetIdentity(ctx context.Context, handle string) (*Identity, error) {
	var ident Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT handle, host_name, instance_kind, access_token, jwt_index
		 FROM identities WHERE handle = ?`, handle).
		Scan(&ident.Handle, &ident.HostName, &ident.InstanceKind, &ident.AccessToken, &ident.JWTIndex)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return &ident, nil
}

// IncrementJWTIndex atomically bumps the identity's jwt index.
// A single UPDATE so concurrent revocations for the same user never lose
// an increment; the counter only moves forward.
func (s *SQLiteStore) IncrementJWTIndex(ctx context.Context, handle string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET jwt_index = jwt_index + 1 WHERE handle = ?`, handle)
	if err != nil {
		return 0, fmt.Errorf("incrementing jwt index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var idx int64
	err = s.db.QueryRowContext(ctx,
		`SELECT jwt_index FROM identities WHERE handle = ?`, handle).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("reading jwt index: %w", err)
	}
	return idx, nil
}

// UpsertProfile inserts or replaces a user's profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (handle, name, avatar_url, stop_post_answer, default_visibility, hide_from_main)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			stop_post_answer = excluded.stop_post_answer,
			default_visibility = excluded.default_visibility,
			hide_from_main = excluded.hide_from_main`,
		p.Handle, p.Name, p.AvatarURL, p.StopPostAnswer, p.DefaultVisibility, p.HideFromMain)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile fetches a profile by handle. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetProfile(ctx context.Context, handle string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT handle, name, avatar_url, stop_post_answer, default_visibility, hide_from_main
		 FROM profiles WHERE handle = ?`, handle).
		Scan(&p.Handle, &p.Name, &p.AvatarURL, &p.StopPostAnswer, &p.DefaultVisibility, &p.HideFromMain)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return &p, nil
}

// CreateNotification inserts a notification record. Generates an ID if not set.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, handle, name, answer_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Handle, n.Name, n.AnswerID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, handle string) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, name, answer_id, created_at
		 FROM notifications WHERE handle = ?
		 ORDER BY created_at DESC`, handle)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Handle, &n.Name, &n.AnswerID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// DeleteNotificationsByAnswer prunes notifications referencing a deleted answer.
// Deleting zero rows is not an error; the operation is idempotent.
func (s *SQLiteStore) DeleteNotificationsByAnswer(ctx context.Context, answerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE answer_id = ?`, answerID)
	if err != nil {
		return fmt.Errorf("pruning notifications: %w", err)
	}
	return nil
}

// ClearNotifications removes all of a user's notifications.
func (s *SQLiteStore) ClearNotifications(ctx context.Context, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
