// Package postgres implements store.Store on PostgreSQL, matching the schema a
// Supabase project exposes for the chat tables.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

//go:embed schema.sql
var schema string

// PostgresStore implements store.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to the database at dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser inserts a user profile.
func (s *PostgresStore) CreateUser(ctx context.Context, u *store.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, online, last_seen, push_token) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, u.Email, u.Online, u.LastSeen, u.PushToken,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	var user store.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, online, last_seen, push_token FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Online, &user.LastSeen, &user.PushToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// SetPresence stores the online flag and last-seen timestamp.
func (s *PostgresStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET online = $1, last_seen = $2 WHERE id = $3`, online, lastSeen, userID,
	)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return requireRow(tag, "user", userID)
}

// TouchLastSeen refreshes last-seen of an online user.
func (s *PostgresStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_seen = $1 WHERE id = $2 AND online`, at, userID,
	)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// CreateChat inserts a chat together with its participants and admins.
func (s *PostgresStore) CreateChat(ctx context.Context, c *store.Chat) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, is_group, name) VALUES ($1, $2, $3)`, c.ID, c.IsGroup, c.Name,
		); err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range c.Participants {
			batch.Queue(
				`INSERT INTO chat_participants (chat_id, user_id, is_admin) VALUES ($1, $2, $3)`,
				c.ID, p, contains(c.Admins, p),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var (
		chat        store.Chat
		lastMessage []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, is_group, name, last_message, updated_at FROM chats WHERE id = $1`, id,
	).Scan(&chat.ID, &chat.IsGroup, &chat.Name, &lastMessage, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	if len(lastMessage) > 0 {
		var lm store.LastMessage
		if err := json.Unmarshal(lastMessage, &lm); err != nil {
			return nil, fmt.Errorf("decode last message: %w", err)
		}
		chat.LastMessage = &lm
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, is_admin FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at, user_id`, id,
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
func (s *PostgresStore) UpdateLastMessage(ctx context.Context, chatID string, summary store.LastMessage) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode last message: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET last_message = $1, updated_at = $2 WHERE id = $3`, data, summary.Timestamp, chatID,
	)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return requireRow(tag, "chat", chatID)
}

// CreateMessage persists a new message and its initial read-by set.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, sender_name, type, content, image_url, created_at, edited, deleted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, string(msg.Type),
			msg.Content, msg.ImageURL, msg.Timestamp, msg.Edited, msg.Deleted,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		for _, userID := range msg.ReadBy {
			if _, err := tx.Exec(ctx,
				`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				msg.ID, userID,
			); err != nil {
				return fmt.Errorf("insert read receipt: %w", err)
			}
		}
		return nil
	})
}

// GetMessage retrieves a message with its read-by set and reactions.
func (s *PostgresStore) GetMessage(ctx context.Context, chatID, messageID string) (*store.Message, error) {
	var (
		msg     store.Message
		msgType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, sender_name, type, content, image_url, created_at, edited, deleted
		FROM messages WHERE id = $1 AND chat_id = $2`, messageID, chatID,
	).Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.SenderName, &msgType,
		&msg.Content, &msg.ImageURL, &msg.Timestamp, &msg.Edited, &msg.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.Type = store.MessageType(msgType)

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM message_reads WHERE message_id = $1 ORDER BY read_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query readers: %w", err)
	}
	readBy, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect readers: %w", err)
	}
	msg.ReadBy = readBy

	reactions, err := listReactions(ctx, s.pool, messageID)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions

	return &msg, nil
}

// MarkRead adds userID to the read-by set of a message.
func (s *PostgresStore) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		SELECT id, $3 FROM messages WHERE id = $1 AND chat_id = $2
		ON CONFLICT DO NOTHING`, messageID, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("insert read receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already read or no such message; only the latter is an error.
		if _, err := s.GetMessage(ctx, chatID, messageID); err != nil {
			return err
		}
	}
	return nil
}

// ToggleReaction adds or removes a user's reaction and returns the resulting map.
func (s *PostgresStore) ToggleReaction(ctx context.Context, chatID, messageID, emoji, userID string) (map[string][]string, error) {
	var reactions map[string][]string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx,
			`SELECT 1 FROM messages WHERE id = $1 AND chat_id = $2 FOR UPDATE`, messageID, chatID,
		).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
			}
			return fmt.Errorf("lock message: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND emoji = $2 AND user_id = $3`,
			messageID, emoji, userID,
		)
		if err != nil {
			return fmt.Errorf("remove reaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO message_reactions (message_id, emoji, user_id) VALUES ($1, $2, $3)`,
				messageID, emoji, userID,
			); err != nil {
				return fmt.Errorf("add reaction: %w", err)
			}
		}

		reactions, err = listReactions(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

// EditMessage replaces content and marks the message as edited.
func (s *PostgresStore) EditMessage(ctx context.Context, chatID, messageID, senderID, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $1, edited = TRUE
		 WHERE id = $2 AND chat_id = $3 AND sender_id = $4 AND NOT deleted`,
		content, messageID, chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return requireRow(tag, "message", messageID)
}

// DeleteMessage tombstones a message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, chatID, messageID, senderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $1, image_url = '', deleted = TRUE
		 WHERE id = $2 AND chat_id = $3 AND sender_id = $4 AND NOT deleted`,
		store.DeletedContent, messageID, chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(tag, "message", messageID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listReactions(ctx context.Context, q querier, messageID string) (map[string][]string, error) {
	rows, err := q.Query(ctx,
		`SELECT emoji, user_id FROM message_reactions WHERE message_id = $1 ORDER BY created_at`, messageID,
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

func requireRow(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
