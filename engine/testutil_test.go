package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"decsecmsg/contentstore"
	"decsecmsg/crypto"
	"decsecmsg/models"
	"decsecmsg/restapi"
	"decsecmsg/storage"
)

var (
	keyOnce   sync.Once
	keyErr    error
	selfKeys  *crypto.KeyPair
	otherKeys *crypto.KeyPair
)

// testKeyPairs returns two cached RSA key pairs so each test does not pay for
// key generation.
func testKeyPairs(t *testing.T) (*crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()

	keyOnce.Do(func() {
		selfKeys, keyErr = crypto.GenerateKeyPair()
		if keyErr != nil {
			return
		}
		otherKeys, keyErr = crypto.GenerateKeyPair()
	})
	if keyErr != nil {
		t.Fatalf("generate test key pairs: %v", keyErr)
	}

	return selfKeys, otherKeys
}

// fakeAPI is an in-memory persistence API that records requests and serves
// canned responses.
type fakeAPI struct {
	mu       sync.Mutex
	messages []restapi.NewMessage
	history  []models.Message
	contacts []models.Contact
	readIDs  []string

	nextMessageID int
}

func (f *fakeAPI) CreateMessage(_ context.Context, message restapi.NewMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, message)
	f.nextMessageID++

	created := models.Message{
		ID:         fmt.Sprintf("srv-%d", f.nextMessageID),
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		ContentID:  message.ContentID,
		Timestamp:  int64(1000 * f.nextMessageID),
		Encrypted:  true,
	}
	f.history = append(f.history, created)
	return &created, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, contactID, userID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Message
	for _, message := range f.history {
		if (message.SenderID == userID && message.ReceiverID == contactID) ||
			(message.SenderID == contactID && message.ReceiverID == userID) {
			result = append(result, message)
		}
	}
	return result, nil
}

func (f *fakeAPI) ListContacts(_ context.Context, _ string) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Contact(nil), f.contacts...), nil
}

func (f *fakeAPI) CreateContact(_ context.Context, contact restapi.NewContact) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	created := models.Contact{
		ID:        "contact-" + contact.Username,
		Username:  contact.Username,
		PublicKey: contact.PublicKey,
	}
	f.contacts = append(f.contacts, created)
	return &created, nil
}

func (f *fakeAPI) CreateUser(_ context.Context, user restapi.NewUser) (*models.User, error) {
	return &models.User{ID: "user-" + user.Username, Username: user.Username, PublicKey: user.PublicKey}, nil
}

func (f *fakeAPI) MarkMessageRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readIDs = append(f.readIDs, messageID)
	return nil
}

func (f *fakeAPI) sentMessages() []restapi.NewMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]restapi.NewMessage(nil), f.messages...)
}

// fakeBlobs is an in-memory content-addressed store.
type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := contentstore.Digest(content)
	f.blobs[id] = append([]byte(nil), content...)
	return id, nil
}

func (f *fakeBlobs) Get(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.blobs[id]
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

// testHarness bundles an engine with its collaborators and a registered
// contact whose key pair the tests control.
type testHarness struct {
	engine  *Engine
	api     *fakeAPI
	blobs   *fakeBlobs
	cache   *storage.Store
	inbound chan models.Message
	updates chan struct{}

	self    *crypto.KeyPair
	contact *crypto.KeyPair
}

const (
	testSelfID    = "user-self"
	testContactID = "contact-peer"
)

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	self, contact := testKeyPairs(t)

	cache, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() {
		if err := cache.Close(); err != nil {
			t.Fatalf("close cache: %v", err)
		}
	})

	contactJWK, err := crypto.MarshalPublicJWK(contact.Public)
	if err != nil {
		t.Fatalf("marshal contact key: %v", err)
	}
	err = cache.UpsertContact(storage.Contact{ID: testContactID, Username: "peer", PublicKey: contactJWK})
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	session, err := NewSession(testSelfID, "self", self)
	if err != nil {
		t.Fatalf("build session: %v", err)
	}

	api := &fakeAPI{}
	blobs := newFakeBlobs()
	inbound := make(chan models.Message, 8)
	updates := make(chan struct{}, 32)

	eng, err := New(Options{
		Session: session,
		API:     api,
		Blobs:   blobs,
		Cache:   cache,
		Inbound: inbound,
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	return &testHarness{
		engine:  eng,
		api:     api,
		blobs:   blobs,
		cache:   cache,
		inbound: inbound,
		updates: updates,
		self:    self,
		contact: contact,
	}
}

// encryptForSelf builds the ciphertext a remote peer would send to the local
// user.
func (h *testHarness) encryptForSelf(t *testing.T, plaintext string) string {
	t.Helper()

	ciphertext, err := crypto.Encrypt([]byte(plaintext), h.self.Public)
	if err != nil {
		t.Fatalf("encrypt for self: %v", err)
	}
	return ciphertext
}
