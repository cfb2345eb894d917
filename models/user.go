package models

// User is the persistence API's view of a registered account. Only the public
// key is ever published; the private half stays with the client.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}
