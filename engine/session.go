package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"decsecmsg/crypto"
	"decsecmsg/restapi"
)

// Session is an authenticated local identity: the server-assigned user id,
// the chosen username, and the identity key pair.
type Session struct {
	UserID   string
	Username string
	Keys     *crypto.KeyPair
}

// NewSession rebuilds a session from previously persisted identity data.
func NewSession(userID, username string, keys *crypto.KeyPair) (*Session, error) {
	if userID == "" {
		return nil, errors.New("engine: user id is required")
	}
	if username == "" {
		return nil, errors.New("engine: username is required")
	}
	if keys == nil || keys.Private == nil || keys.Public == nil {
		return nil, errors.New("engine: identity key pair is required")
	}

	return &Session{UserID: userID, Username: username, Keys: keys}, nil
}

// Register creates a new account on the persistence API, publishing only the
// public half of the identity key, and returns the resulting session.
func Register(ctx context.Context, api PersistenceAPI, username string, keys *crypto.KeyPair) (*Session, error) {
	if api == nil {
		return nil, errors.New("engine: persistence api is required")
	}
	if keys == nil || keys.Private == nil || keys.Public == nil {
		return nil, errors.New("engine: identity key pair is required")
	}

	publicJWK, err := crypto.MarshalPublicJWK(keys.Public)
	if err != nil {
		return nil, fmt.Errorf("serialize public key: %w", err)
	}

	user, err := api.CreateUser(ctx, restapi.NewUser{Username: username, PublicKey: publicJWK})
	if err != nil {
		return nil, fmt.Errorf("register user %q: %w", username, err)
	}

	return &Session{UserID: user.ID, Username: user.Username, Keys: keys}, nil
}

// SessionStore persists session identifiers between uses. Key material never
// goes through this boundary; only the identifiers needed to resume.
type SessionStore interface {
	SaveSession(userID, username string) error
	LoadSession() (userID, username string, ok bool)
	ClearSession() error
}

// MemorySessionStore keeps session identifiers in process memory. Clearing it
// is the logout path: once discarded there is no recovery.
type MemorySessionStore struct {
	mu       sync.Mutex
	userID   string
	username string
	present  bool
}

func (m *MemorySessionStore) SaveSession(userID, username string) error {
	if userID == "" {
		return errors.New("engine: user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.username = username
	m.present = true
	return nil
}

func (m *MemorySessionStore) LoadSession() (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.username, m.present
}

func (m *MemorySessionStore) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = ""
	m.username = ""
	m.present = false
	return nil
}

// ResumeSession rebuilds a session from stored identifiers and the local key
// pair. ok is false when no session is stored.
func ResumeSession(store SessionStore, keys *crypto.KeyPair) (*Session, bool, error) {
	if store == nil {
		return nil, false, errors.New("engine: session store is required")
	}

	userID, username, ok := store.LoadSession()
	if !ok {
		return nil, false, nil
	}

	session, err := NewSession(userID, username, keys)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}
