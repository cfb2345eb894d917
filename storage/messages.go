package storage

import (
	"errors"
	"fmt"
)

// SaveMessage inserts or replaces one reconciled message row.
func (s *Store) SaveMessage(message Message) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	if message.SenderID == "" {
		return errors.New("message sender id is required")
	}
	if message.ReceiverID == "" {
		return errors.New("message receiver id is required")
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	encrypted := 0
	if message.Encrypted {
		encrypted = 1
	}
	isRead := 0
	if message.IsRead {
		isRead = 1
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO messages (
			id,
			sender_id,
			receiver_id,
			content,
			content_id,
			timestamp,
			encrypted,
			is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.SenderID,
		message.ReceiverID,
		message.Content,
		message.ContentID,
		message.Timestamp,
		encrypted,
		isRead,
	)
	if err != nil {
		return fmt.Errorf("save message %q: %w", message.ID, err)
	}

	return nil
}

// GetConversation returns the cached messages between the local user and one
// contact ordered by timestamp.
func (s *Store) GetConversation(selfID, contactID string) ([]Message, error) {
	if selfID == "" {
		return nil, errors.New("self id is required")
	}
	if contactID == "" {
		return nil, errors.New("contact id is required")
	}

	rows, err := s.db.Query(
		`SELECT id, sender_id, receiver_id, content, content_id, timestamp, encrypted, is_read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC, id ASC`,
		selfID, contactID,
		contactID, selfID,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation with %q: %w", contactID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var message Message
		var encrypted, isRead int
		if err := rows.Scan(
			&message.ID,
			&message.SenderID,
			&message.ReceiverID,
			&message.Content,
			&message.ContentID,
			&message.Timestamp,
			&encrypted,
			&isRead,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		message.Encrypted = encrypted != 0
		message.IsRead = isRead != 0
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// MarkRead flags a cached message as read.
func (s *Store) MarkRead(messageID string) error {
	if messageID == "" {
		return errors.New("message id is required")
	}

	res, err := s.db.Exec(
		`UPDATE messages SET is_read = 1 WHERE id = ?`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("mark read for message %q: %w", messageID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for mark read %q: %w", messageID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
