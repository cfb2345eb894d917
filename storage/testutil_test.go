package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustUpsertContact(t *testing.T, store *Store, id, username string) {
	t.Helper()

	err := store.UpsertContact(Contact{
		ID:        id,
		Username:  username,
		PublicKey: "jwk-public-key-" + id,
	})
	if err != nil {
		t.Fatalf("upsert contact %q: %v", id, err)
	}
}
