package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to seed data right after opening.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; in-memory databases require it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewMemory opens a migrated in-memory store.
func NewMemory() (*SQLiteStore, error) {
	return NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// Migrate applies the schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a user profile.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *store.User) error {
	query := `
		INSERT INTO users (id, name, email, online, last_seen, push_token)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Online, nullTime(u.LastSeen), u.PushToken); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, name, email, online, last_seen, push_token
		FROM users
		WHERE id = ?
	`
	var (
		user     store.User
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Online,
		&lastSeen,
		&user.PushToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeen = &t
	}

	return &user, nil
}

// SetPresence stores the online flag and last-seen timestamp.
func (s *SQLiteStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET online = ?, last_seen = ? WHERE id = ?`,
		online, nullTime(lastSeen), userID,
	)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return requireRow(result, "user", userID)
}

// TouchLastSeen refreshes last-seen of an online user.
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = ? WHERE id = ? AND online = 1`,
		at.UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// SetPushToken stores the device push token for a user.
func (s *SQLiteStore) SetPushToken(ctx context.Context, userID, token string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET push_token = ? WHERE id = ?`, token, userID)
	if err != nil {
		return fmt.Errorf("update push token: %w", err)
	}
	return requireRow(result, "user", userID)
}

// ==== ChatStore implementation ====

// CreateChat inserts a chat together with its participants and admins.
func (s *SQLiteStore) CreateChat(ctx context.Context, c *store.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, is_group, name) VALUES (?, ?, ?)`,
		c.ID, c.IsGroup, c.Name,
	); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	admins := make(map[string]struct{}, len(c.Admins))
	for _, a := range c.Admins {
		admins[a] = struct{}{}
	}
	for _, p := range c.Participants {
		_, isAdmin := admins[p]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, is_admin) VALUES (?, ?, ?)`,
			c.ID, p, isAdmin,
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var (
		chat        store.Chat
		lastMessage sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_group, name, last_message, updated_at FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &chat.IsGroup, &chat.Name, &lastMessage, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	if lastMessage.Valid && lastMessage.String != "" {
		var lm store.LastMessage
		if err := json.Unmarshal([]byte(lastMessage.String), &lm); err != nil {
			return nil, fmt.Errorf("decode last message: %w", err)
		}
		chat.LastMessage = &lm
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, is_admin FROM chat_participants WHERE chat_id = ? ORDER BY rowid`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID  string
			isAdmin bool
		)
		if err := rows.Scan(&userID, &isAdmin); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		chat.Participants = append(chat.Participants, userID)
		if isAdmin {
			chat.Admins = append(chat.Admins, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return &chat, nil
}

// UpdateLastMessage replaces the chat's last-message summary.
func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, chatID string, summary store.LastMessage) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode last message: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET last_message = ?, updated_at = ? WHERE id = ?`,
		string(data), summary.Timestamp.UTC(), chatID,
	)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return requireRow(result, "chat", chatID)
}

// ==== MessageStore implementation ====

// CreateMessage persists a new message and its initial read-by set.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO messages (id, chat_id, sender_id, sender_name, type, content, image_url, created_at, edited, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, string(msg.Type),
		msg.Content, msg.ImageURL, msg.Timestamp.UTC(), msg.Edited, msg.Deleted,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, userID := range msg.ReadBy {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)`,
			msg.ID, userID,
		); err != nil {
			return fmt.Errorf("insert read receipt: %w", err)
		}
	}

	return tx.Commit()
}

// GetMessage retrieves a message with its read-by set and reactions.
func (s *SQLiteStore) GetMessage(ctx context.Context, chatID, messageID string) (*store.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, sender_name, type, content, image_url, created_at, edited, deleted
		FROM messages
		WHERE id = ? AND chat_id = ?
	`
	var (
		msg     store.Message
		msgType string
	)
	err := s.db.QueryRowContext(ctx, query, messageID, chatID).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.SenderName,
		&msgType,
		&msg.Content,
		&msg.ImageURL,
		&msg.Timestamp,
		&msg.Edited,
		&msg.Deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.Type = store.MessageType(msgType)

	readBy, err := s.listReaders(ctx, s.db, messageID)
	if err != nil {
		return nil, err
	}
	msg.ReadBy = readBy

	reactions, err := s.listReactions(ctx, s.db, messageID)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions

	return &msg, nil
}

// MarkRead adds userID to the read-by set of a message.
func (s *SQLiteStore) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	if err := s.requireMessage(ctx, s.db, chatID, messageID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)`,
		messageID, userID,
	); err != nil {
		return fmt.Errorf("insert read receipt: %w", err)
	}
	return nil
}

// ToggleReaction adds or removes a user's reaction and returns the resulting map.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, chatID, messageID, emoji, userID string) (map[string][]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.requireMessage(ctx, tx, chatID, messageID); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = ? AND emoji = ? AND user_id = ?`,
		messageID, emoji, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	if removed, _ := result.RowsAffected(); removed == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_reactions (message_id, emoji, user_id) VALUES (?, ?, ?)`,
			messageID, emoji, userID,
		); err != nil {
			return nil, fmt.Errorf("add reaction: %w", err)
		}
	}

	reactions, err := s.listReactions(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return reactions, nil
}

// EditMessage replaces content and marks the message as edited.
func (s *SQLiteStore) EditMessage(ctx context.Context, chatID, messageID, senderID, content string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1
		 WHERE id = ? AND chat_id = ? AND sender_id = ? AND deleted = 0`,
		content, messageID, chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return requireRow(result, "message", messageID)
}

// DeleteMessage tombstones a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, chatID, messageID, senderID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, image_url = '', deleted = 1
		 WHERE id = ? AND chat_id = ? AND sender_id = ? AND deleted = 0`,
		store.DeletedContent, messageID, chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(result, "message", messageID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) requireMessage(ctx context.Context, q querier, chatID, messageID string) error {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
		}
		return fmt.Errorf("query message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) listReaders(ctx context.Context, q querier, messageID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY read_at, rowid`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query readers: %w", err)
	}
	defer rows.Close()

	readers := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan reader: %w", err)
		}
		readers = append(readers, userID)
	}
	return readers, rows.Err()
}

func (s *SQLiteStore) listReactions(ctx context.Context, q querier, messageID string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT emoji, user_id FROM message_reactions WHERE message_id = ? ORDER BY created_at, rowid`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	reactions := map[string][]string{}
	for rows.Next() {
		var emoji, userID string
		if err := rows.Scan(&emoji, &userID); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions[emoji] = append(reactions[emoji], userID)
	}
	return reactions, rows.Err()
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
