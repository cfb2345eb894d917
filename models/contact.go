package models

// Contact is a known remote identity: a username plus the public key messages
// to them are encrypted under. Preview and timestamp track the latest message
// in the conversation for contact-list ordering.
type Contact struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	PublicKey            string `json:"publicKey"`
	LastMessagePreview   string `json:"lastMessage,omitempty"`
	LastMessageTimestamp int64  `json:"lastMessageTime,omitempty"`
}
