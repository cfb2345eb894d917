// Package engine drives conversation state for the client: it encrypts
// outbound messages per recipient, decrypts or placeholders inbound ones,
// reconciles server history with the local cache, and keeps the currently
// open conversation's transcript.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"decsecmsg/contentstore"
	"decsecmsg/crypto"
	"decsecmsg/models"
	"decsecmsg/restapi"
	"decsecmsg/storage"
)

// UndecryptablePlaceholder replaces the content of any message that cannot be
// decrypted with the local private key. The ciphertext stays on the server;
// only the local display text is substituted.
const UndecryptablePlaceholder = "[Encrypted message - cannot decrypt]"

// PersistenceAPI is the subset of the REST client the engine needs. Satisfied
// by *restapi.Client.
type PersistenceAPI interface {
	CreateMessage(ctx context.Context, message restapi.NewMessage) (*models.Message, error)
	ListMessages(ctx context.Context, contactID, userID string) ([]models.Message, error)
	ListContacts(ctx context.Context, userID string) ([]models.Contact, error)
	CreateContact(ctx context.Context, contact restapi.NewContact) (*models.Contact, error)
	CreateUser(ctx context.Context, user restapi.NewUser) (*models.User, error)
	MarkMessageRead(ctx context.Context, messageID string) error
}

// BlobStore is the content-addressed store the engine mirrors ciphertext
// into. Satisfied by *contentstore.Store.
type BlobStore interface {
	Put(ctx context.Context, content []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// Options configures an Engine. Session, API, Blobs, and Cache are required;
// Inbound is the real-time message feed and may be nil for an offline engine.
type Options struct {
	Session *Session
	API     PersistenceAPI
	Blobs   BlobStore
	Cache   *storage.Store
	Inbound <-chan models.Message

	// OnUpdate is invoked after any state change a UI would want to
	// re-render for. Called from engine goroutines; must not block.
	OnUpdate func()
}

// Engine is the conversation core. All exported methods are safe for
// concurrent use.
type Engine struct {
	session  *Session
	api      PersistenceAPI
	blobs    BlobStore
	cache    *storage.Store
	inbound  <-chan models.Message
	onUpdate func()

	mu            sync.Mutex
	openContactID string
	transcript    []models.Message
}

// New validates options and returns an Engine.
func New(options Options) (*Engine, error) {
	if options.Session == nil {
		return nil, errors.New("engine: session is required")
	}
	if options.API == nil {
		return nil, errors.New("engine: persistence api is required")
	}
	if options.Blobs == nil {
		return nil, errors.New("engine: blob store is required")
	}
	if options.Cache == nil {
		return nil, errors.New("engine: local cache is required")
	}

	return &Engine{
		session:  options.Session,
		api:      options.API,
		blobs:    options.Blobs,
		cache:    options.Cache,
		inbound:  options.Inbound,
		onUpdate: options.OnUpdate,
	}, nil
}

// Session returns the engine's identity.
func (e *Engine) Session() *Session {
	return e.session
}

// Run consumes the inbound message feed until the context is cancelled or
// the feed closes. Intended to run on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	if e.inbound == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-e.inbound:
			if !ok {
				return
			}
			e.handleInbound(ctx, message)
		}
	}
}

// SendTo encrypts plaintext for the contact, mirrors the ciphertext into the
// blob store, persists it through the API, and records the local plaintext
// copy. The returned message carries the server-assigned id and timestamp but
// the original plaintext content.
func (e *Engine) SendTo(ctx context.Context, contactID, plaintext string) (*models.Message, error) {
	if contactID == "" {
		return nil, errors.New("engine: contact id is required")
	}

	contact, err := e.cache.GetContact(contactID)
	if err != nil {
		return nil, fmt.Errorf("look up contact %q: %w", contactID, err)
	}

	recipientKey, err := crypto.ParsePublicJWK(contact.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key for contact %q: %w", contactID, err)
	}

	ciphertext, err := crypto.Encrypt([]byte(plaintext), recipientKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt message for contact %q: %w", contactID, err)
	}

	// The blob mirror is best effort. The API record carries the full
	// ciphertext either way.
	contentID, err := e.blobs.Put(ctx, []byte(ciphertext))
	if err != nil {
		log.Printf("engine: content store put failed: %v", err)
		contentID = ""
	}

	created, err := e.api.CreateMessage(ctx, restapi.NewMessage{
		SenderID:   e.session.UserID,
		ReceiverID: contactID,
		Content:    ciphertext,
		ContentID:  contentID,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message to contact %q: %w", contactID, err)
	}

	// Keep the plaintext locally. The server copy is encrypted to the
	// recipient and cannot be recovered with our own key.
	local := *created
	local.Content = plaintext
	local.Encrypted = false

	if err := e.cache.SaveMessage(toCacheMessage(local)); err != nil {
		log.Printf("engine: cache sent message: %v", err)
	}
	if err := e.cache.TouchContactActivity(contactID, plaintext, local.Timestamp); err != nil {
		log.Printf("engine: touch contact %q: %v", contactID, err)
	}

	e.mu.Lock()
	if e.openContactID == contactID {
		e.appendLocked(local)
	}
	e.mu.Unlock()

	e.notify()
	return &local, nil
}

// OpenConversation loads the persisted history with one contact, reconciles
// it against the local cache, decrypts what it can, and makes the contact the
// open conversation.
func (e *Engine) OpenConversation(ctx context.Context, contactID string) ([]models.Message, error) {
	if contactID == "" {
		return nil, errors.New("engine: contact id is required")
	}

	history, err := e.api.ListMessages(ctx, contactID, e.session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load history with contact %q: %w", contactID, err)
	}

	cached, err := e.cache.GetConversation(e.session.UserID, contactID)
	if err != nil {
		return nil, fmt.Errorf("load cached conversation with %q: %w", contactID, err)
	}
	plainByID := make(map[string]storage.Message, len(cached))
	for _, row := range cached {
		if !row.Encrypted {
			plainByID[row.ID] = row
		}
	}

	transcript := make([]models.Message, 0, len(history))
	for _, message := range history {
		if message.SenderID == e.session.UserID {
			// Our own ciphertext is encrypted to the recipient; the
			// cache is the only source of its plaintext.
			if row, ok := plainByID[message.ID]; ok {
				message.Content = row.Content
			} else if message.Encrypted {
				message.Content = UndecryptablePlaceholder
			}
			message.Encrypted = false
		} else {
			message = e.reveal(ctx, message)
		}

		if err := e.cache.SaveMessage(toCacheMessage(message)); err != nil {
			log.Printf("engine: cache reconciled message %q: %v", message.ID, err)
		}
		transcript = append(transcript, message)
	}

	e.mu.Lock()
	e.openContactID = contactID
	e.transcript = transcript
	result := append([]models.Message(nil), transcript...)
	e.mu.Unlock()

	e.notify()
	return result, nil
}

// CloseConversation clears the open conversation.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	e.openContactID = ""
	e.transcript = nil
	e.mu.Unlock()
}

// OpenContactID returns the id of the open conversation's contact, or empty.
func (e *Engine) OpenContactID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openContactID
}

// Transcript returns a copy of the open conversation's messages in arrival
// order.
func (e *Engine) Transcript() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Message(nil), e.transcript...)
}

// Contacts returns the cached contact list ordered by most recent activity
// first; contacts with no messages sort last.
func (e *Engine) Contacts() ([]models.Contact, error) {
	rows, err := e.cache.ListContacts()
	if err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(rows))
	for _, row := range rows {
		contacts = append(contacts, models.Contact{
			ID:                   row.ID,
			Username:             row.Username,
			PublicKey:            row.PublicKey,
			LastMessagePreview:   row.LastMessage,
			LastMessageTimestamp: row.LastMessageTime,
		})
	}

	return contacts, nil
}

// RefreshContacts pulls the contact list from the persistence API and merges
// it into the local cache, preserving newer local activity metadata.
func (e *Engine) RefreshContacts(ctx context.Context) ([]models.Contact, error) {
	remote, err := e.api.ListContacts(ctx, e.session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	for _, contact := range remote {
		err := e.cache.UpsertContact(storage.Contact{
			ID:              contact.ID,
			Username:        contact.Username,
			PublicKey:       contact.PublicKey,
			LastMessage:     contact.LastMessagePreview,
			LastMessageTime: contact.LastMessageTimestamp,
		})
		if err != nil {
			log.Printf("engine: cache contact %q: %v", contact.ID, err)
		}
	}

	e.notify()
	return e.Contacts()
}

// AddContact registers a contact by username and public key. The key must be
// a parseable public JWK before any request is made.
func (e *Engine) AddContact(ctx context.Context, username, publicKey string) (*models.Contact, error) {
	if _, err := crypto.ParsePublicJWK(publicKey); err != nil {
		return nil, fmt.Errorf("validate public key for %q: %w", username, err)
	}

	created, err := e.api.CreateContact(ctx, restapi.NewContact{
		Username:      username,
		PublicKey:     publicKey,
		CurrentUserID: e.session.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("add contact %q: %w", username, err)
	}

	err = e.cache.UpsertContact(storage.Contact{
		ID:        created.ID,
		Username:  created.Username,
		PublicKey: created.PublicKey,
	})
	if err != nil {
		log.Printf("engine: cache new contact %q: %v", created.ID, err)
	}

	e.notify()
	return created, nil
}

// MarkRead flags a message as read on the server, in the cache, and in the
// open transcript.
func (e *Engine) MarkRead(ctx context.Context, messageID string) error {
	if err := e.api.MarkMessageRead(ctx, messageID); err != nil {
		return fmt.Errorf("mark message %q read: %w", messageID, err)
	}

	if err := e.cache.MarkRead(messageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("engine: cache mark read %q: %v", messageID, err)
	}

	e.mu.Lock()
	for i := range e.transcript {
		if e.transcript[i].ID == messageID {
			e.transcript[i].IsRead = true
			break
		}
	}
	e.mu.Unlock()

	e.notify()
	return nil
}

// handleInbound processes one real-time message: decrypt or placeholder,
// cache, update contact activity, and append to the transcript when the
// sender's conversation is open.
func (e *Engine) handleInbound(ctx context.Context, message models.Message) {
	if message.ID == "" || message.SenderID == "" {
		log.Printf("engine: dropping inbound message without identity fields")
		return
	}
	if message.SenderID == e.session.UserID {
		// Echo of our own send; the plaintext copy was recorded at
		// send time.
		return
	}

	message = e.reveal(ctx, message)

	if err := e.cache.SaveMessage(toCacheMessage(message)); err != nil {
		log.Printf("engine: cache inbound message %q: %v", message.ID, err)
	}
	if err := e.cache.TouchContactActivity(message.SenderID, message.Content, message.Timestamp); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("engine: touch contact %q: %v", message.SenderID, err)
		}
	}

	e.mu.Lock()
	if e.openContactID == message.SenderID {
		e.appendLocked(message)
	}
	e.mu.Unlock()

	e.notify()
}

// reveal turns an encrypted message into its displayable form: the decrypted
// plaintext, or the placeholder when decryption is impossible. Either way the
// result is no longer flagged encrypted; the ciphertext stays on the server
// and is never re-displayed. Ciphertext stored only in the blob store is
// fetched by content id first.
func (e *Engine) reveal(ctx context.Context, message models.Message) models.Message {
	if !message.Encrypted && message.Content != "" {
		return message
	}
	message.Encrypted = false

	ciphertext := message.Content
	if ciphertext == "" && message.ContentID != "" {
		raw, err := e.blobs.Get(ctx, message.ContentID)
		if err != nil {
			log.Printf("engine: fetch content %q: %v", message.ContentID, err)
			message.Content = UndecryptablePlaceholder
			return message
		}
		if contentstore.Digest(raw) != message.ContentID {
			log.Printf("engine: content %q failed digest verification", message.ContentID)
			message.Content = UndecryptablePlaceholder
			return message
		}
		ciphertext = string(raw)
	}

	plaintext, err := crypto.Decrypt(ciphertext, e.session.Keys.Private)
	if err != nil {
		message.Content = UndecryptablePlaceholder
		return message
	}

	message.Content = string(plaintext)
	return message
}

// appendLocked adds a message to the transcript in arrival order, skipping
// ids already present. Caller holds e.mu.
func (e *Engine) appendLocked(message models.Message) {
	for _, existing := range e.transcript {
		if existing.ID == message.ID {
			return
		}
	}
	e.transcript = append(e.transcript, message)
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}

func toCacheMessage(message models.Message) storage.Message {
	return storage.Message{
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		ContentID:  message.ContentID,
		Timestamp:  message.Timestamp,
		Encrypted:  message.Encrypted,
		IsRead:     message.IsRead,
	}
}
