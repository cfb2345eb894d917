package models

// Message is one chat message as exchanged with the persistence API and the
// real-time transport.
//
// Content carries the wire-level ciphertext until the message has been
// decrypted for local display; after that Encrypted is false and Content holds
// the plaintext (or the undecryptable placeholder). A message composed locally
// is kept with its original plaintext and is never round-tripped through
// decryption.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ContentID  string `json:"contentId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Encrypted  bool   `json:"encrypted"`
	IsRead     bool   `json:"isRead"`
}
