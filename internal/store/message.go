package store

import "time"

// UpsertMessage inserts or updates a message, idempotent on
// (conversation_id, dedup_key). Redelivery after a reconnect lands on the
// same row instead of duplicating it.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, dedup_key, server_id, client_nonce, event_id,
			sender_id, sent_at, content, kind, status, pinned,
			call_id, call_status, call_direction, call_duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, dedup_key) DO UPDATE SET
			server_id = excluded.server_id,
			event_id = excluded.event_id,
			sent_at = excluded.sent_at,
			content = excluded.content,
			status = excluded.status,
			pinned = excluded.pinned`,
		m.ConversationID, m.DedupKey, m.ServerID, m.ClientNonce, m.EventID,
		m.SenderID, m.SentAt, m.Content, m.Kind, m.Status, m.Pinned,
		m.CallID, m.CallStatus, m.CallDirection, m.CallDuration, now)
	return err
}

// RekeyMessage moves a row to a new dedup key. Used when reconciliation
// upgrades an optimistic entry's identity from client nonce to server ID.
func (db *DB) RekeyMessage(conversationID, oldKey, newKey string) error {
	// The new key may already exist if the server echo was stored before the
	// rekey; in that case the optimistic row is the duplicate and goes away.
	_, err := db.Exec(`
		DELETE FROM messages
		WHERE conversation_id = ? AND dedup_key = ?
			AND EXISTS (SELECT 1 FROM messages WHERE conversation_id = ? AND dedup_key = ?)`,
		conversationID, oldKey, conversationID, newKey)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		UPDATE messages SET dedup_key = ?
		WHERE conversation_id = ? AND dedup_key = ?`,
		newKey, conversationID, oldKey)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by sent_at, newest first.
func (db *DB) ListMessages(conversationID string, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, dedup_key, server_id, client_nonce, event_id,
			sender_id, sent_at, content, kind, status, pinned,
			call_id, call_status, call_direction, call_duration
		FROM messages
		WHERE conversation_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, conversationID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.DedupKey, &m.ServerID,
			&m.ClientNonce, &m.EventID, &m.SenderID, &m.SentAt, &m.Content,
			&m.Kind, &m.Status, &m.Pinned,
			&m.CallID, &m.CallStatus, &m.CallDirection, &m.CallDuration); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
