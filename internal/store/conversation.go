package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertConversation inserts or updates a conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	parts, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (id, participants, is_group, is_support, support_state,
			support_position, unread_count, muted, pinned_by_me, created_at,
			last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participants = excluded.participants,
			is_group = excluded.is_group,
			is_support = excluded.is_support,
			support_state = excluded.support_state,
			support_position = excluded.support_position,
			unread_count = excluded.unread_count,
			muted = excluded.muted,
			pinned_by_me = excluded.pinned_by_me,
			created_at = excluded.created_at,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, string(parts), c.IsGroup, c.IsSupport, c.SupportState,
		c.SupportPosition, c.UnreadCount, c.Muted, c.PinnedByMe, c.CreatedAt,
		c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListConversations returns cached conversations newest-activity first.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, participants, is_group, is_support, support_state, support_position,
			unread_count, muted, pinned_by_me, created_at, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by ID, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT id, participants, is_group, is_support, support_state, support_position,
			unread_count, muted, pinned_by_me, created_at, last_message_at, last_message_preview
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var parts string
	if err := r.Scan(&c.ID, &parts, &c.IsGroup, &c.IsSupport, &c.SupportState,
		&c.SupportPosition, &c.UnreadCount, &c.Muted, &c.PinnedByMe,
		&c.CreatedAt, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
		return nil, err
	}
	if parts != "" {
		if err := json.Unmarshal([]byte(parts), &c.Participants); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
