// Package sqlite is a SQLite-backed persistence service. The dev
// gateway uses it as its message and notification store; tests use it
// in-memory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/motormarket/realtime/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	recipient_id    TEXT NOT NULL,
	content         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'sent',
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	related_id TEXT,
	is_read    BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
`

// Store implements store.Service on SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database file and ensures the schema exists.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FetchConversation returns the conversation history in deterministic
// order: created_at, ties broken by id.
func (s *Store) FetchConversation(ctx context.Context, conversationID string) ([]store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, recipient_id, content, status, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SendMessage persists a message with a fresh server id.
func (s *Store) SendMessage(ctx context.Context, req store.SendRequest) (store.SendResult, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, id, req.ConversationID, req.SenderID, req.RecipientID, req.Content, store.StatusSent, now)
	if err != nil {
		return store.SendResult{}, fmt.Errorf("insert message: %w", err)
	}
	return store.SendResult{ServerID: id, CreatedAt: now}, nil
}

// MarkDelivered advances messages to delivered. Monotonic: rows
// already delivered or read are untouched.
func (s *Store) MarkDelivered(ctx context.Context, conversationID string, messageIDs []string) error {
	return s.advanceStatus(ctx, conversationID, messageIDs, store.StatusDelivered, []string{store.StatusSent})
}

// MarkRead advances messages to read. Monotonic and idempotent.
func (s *Store) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return s.advanceStatus(ctx, conversationID, messageIDs, store.StatusRead, []string{store.StatusSent, store.StatusDelivered})
}

func (s *Store) advanceStatus(ctx context.Context, conversationID string, messageIDs []string, to string, from []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	query := `UPDATE messages SET status = ? WHERE conversation_id = ? AND id IN (` + placeholders(len(messageIDs)) + `) AND status IN (` + placeholders(len(from)) + `)`
	args := make([]any, 0, 2+len(messageIDs)+len(from))
	args = append(args, to, conversationID)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	for _, st := range from {
		args = append(args, st)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("advance status to %s: %w", to, err)
	}
	return nil
}

// FetchNotifications returns notifications for a user, newest first.
func (s *Store) FetchNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error) {
	query := `
		SELECT id, type, title, content, COALESCE(related_id, ''), is_read, created_at
		FROM notifications
		WHERE user_id = ?
	`
	args := []any{filter.UserID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	defer rows.Close()

	var out []store.Notification
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Content, &n.RelatedID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertNotification stores a notification for a user. The gateway
// calls it before pushing the event.
func (s *Store) InsertNotification(ctx context.Context, userID string, n store.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, content, related_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, n.ID, userID, n.Type, n.Title, n.Content, n.RelatedID, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// MarkNotificationsRead marks the given notifications read. Idempotent.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, 1+len(ids))
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
