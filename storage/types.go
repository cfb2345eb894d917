package storage

import (
	"errors"
	"time"
)

// ErrNotFound indicates a requested row does not exist.
var ErrNotFound = errors.New("storage: record not found")

// Contact is the SQLite representation of a known contact. LastMessageTime is
// zero for contacts with no messages yet.
type Contact struct {
	ID              string
	Username        string
	PublicKey       string
	LastMessage     string
	LastMessageTime int64
}

// Message is the SQLite representation of the client's reconciled view of one
// message: plaintext for anything successfully decrypted or locally composed,
// the placeholder text otherwise.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	ContentID  string
	Timestamp  int64
	Encrypted  bool
	IsRead     bool
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
