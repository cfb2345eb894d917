// Package restapi is the client boundary to the message-persistence API: an
// external REST collaborator that stores users, contacts, and ciphertext
// message records. Every call is plain request/response; non-2xx responses
// surface as a typed RequestError carrying status and body text.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"decsecmsg/models"
)

// DefaultRequestTimeout bounds one persistence API round trip.
const DefaultRequestTimeout = 30 * time.Second

// RequestError is returned for any non-2xx persistence API response.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("restapi: request failed: status %d: %s", e.StatusCode, e.Body)
}

// NewMessage is the payload for creating a persisted message record. Content
// is the wire-level ciphertext; ContentID optionally references the same
// ciphertext in the content-addressed store.
type NewMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ContentID  string `json:"contentId,omitempty"`
}

// NewContact is the payload for adding a contact by username and public key.
type NewContact struct {
	Username      string `json:"username"`
	PublicKey     string `json:"publicKey"`
	CurrentUserID string `json:"currentUserId"`
}

// NewUser is the registration payload: a username plus the public half of
// the identity key. The private key is never part of any request.
type NewUser struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

// Client talks to one persistence API base URL.
type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a Client for the given base URL. A nil http client gets a
// default with DefaultRequestTimeout.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// CreateMessage persists an outbound message and returns the stored record
// with its server-assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, message NewMessage) (*models.Message, error) {
	if message.SenderID == "" {
		return nil, errors.New("restapi: sender id is required")
	}
	if message.ReceiverID == "" {
		return nil, errors.New("restapi: receiver id is required")
	}

	var created models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", message, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// ListMessages returns the full persisted history between a user and one
// contact.
func (c *Client) ListMessages(ctx context.Context, contactID, userID string) ([]models.Message, error) {
	if contactID == "" {
		return nil, errors.New("restapi: contact id is required")
	}

	path := "/api/messages/" + url.PathEscape(contactID) + "?userId=" + url.QueryEscape(userID)

	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// ListContacts returns the user's contacts with last-message metadata.
func (c *Client) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	path := "/api/contacts?userId=" + url.QueryEscape(userID)

	var contacts []models.Contact
	if err := c.do(ctx, http.MethodGet, path, nil, &contacts); err != nil {
		return nil, err
	}

	return contacts, nil
}

// CreateContact adds a contact. Username and public key are validated before
// any request is made.
func (c *Client) CreateContact(ctx context.Context, contact NewContact) (*models.Contact, error) {
	if contact.Username == "" {
		return nil, errors.New("restapi: contact username is required")
	}
	if contact.PublicKey == "" {
		return nil, errors.New("restapi: contact public key is required")
	}

	var created models.Contact
	if err := c.do(ctx, http.MethodPost, "/api/contacts", contact, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, user NewUser) (*models.User, error) {
	if user.Username == "" {
		return nil, errors.New("restapi: username is required")
	}
	if user.PublicKey == "" {
		return nil, errors.New("restapi: public key is required")
	}

	var created models.User
	if err := c.do(ctx, http.MethodPost, "/api/users", user, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// MarkMessageRead flags a persisted message as read.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("restapi: message id is required")
	}

	path := "/api/messages/" + url.PathEscape(messageID) + "/read"
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		return &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}

	return nil
}
