package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertContact inserts or replaces a contact row. Existing last-activity
// metadata is preserved when the incoming contact carries none.
func (s *Store) UpsertContact(contact Contact) error {
	if contact.ID == "" {
		return errors.New("contact id is required")
	}
	if contact.Username == "" {
		return errors.New("contact username is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO contacts (id, username, public_key, last_message, last_message_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			public_key = excluded.public_key,
			last_message = CASE WHEN excluded.last_message_time > 0 THEN excluded.last_message ELSE contacts.last_message END,
			last_message_time = MAX(contacts.last_message_time, excluded.last_message_time)`,
		contact.ID,
		contact.Username,
		contact.PublicKey,
		contact.LastMessage,
		contact.LastMessageTime,
	)
	if err != nil {
		return fmt.Errorf("upsert contact %q: %w", contact.ID, err)
	}

	return nil
}

// GetContact fetches a contact by id.
func (s *Store) GetContact(id string) (*Contact, error) {
	row := s.db.QueryRow(
		`SELECT id, username, public_key, last_message, last_message_time
		FROM contacts
		WHERE id = ?`,
		id,
	)

	var contact Contact
	err := row.Scan(&contact.ID, &contact.Username, &contact.PublicKey, &contact.LastMessage, &contact.LastMessageTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %q: %w", id, err)
	}

	return &contact, nil
}

// ListContacts returns all contacts ordered by most recent activity first;
// contacts without messages sort last, ties broken by id.
func (s *Store) ListContacts() ([]Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, username, public_key, last_message, last_message_time
		FROM contacts
		ORDER BY last_message_time DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		var contact Contact
		if err := rows.Scan(&contact.ID, &contact.Username, &contact.PublicKey, &contact.LastMessage, &contact.LastMessageTime); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}

	return contacts, nil
}

// TouchContactActivity updates a contact's last-message preview and
// timestamp.
func (s *Store) TouchContactActivity(id, preview string, timestamp int64) error {
	if id == "" {
		return errors.New("contact id is required")
	}
	if timestamp == 0 {
		timestamp = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`UPDATE contacts
		SET last_message = ?, last_message_time = ?
		WHERE id = ?`,
		preview,
		timestamp,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch contact %q: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for touch contact %q: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
