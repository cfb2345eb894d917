package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"decsecmsg/models"
)

func TestCreateMessagePostsAndDecodesRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var in NewMessage
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if in.SenderID != "u1" || in.ReceiverID != "c1" {
			t.Errorf("unexpected payload %+v", in)
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Message{
			ID:         "m1",
			SenderID:   in.SenderID,
			ReceiverID: in.ReceiverID,
			Content:    in.Content,
			ContentID:  in.ContentID,
			Timestamp:  1700000000000,
			Encrypted:  true,
		})
	}))
	t.Cleanup(server.Close)

	client := New(server.URL, nil)
	created, err := client.CreateMessage(context.Background(), NewMessage{
		SenderID:   "u1",
		ReceiverID: "c1",
		Content:    "ciphertext",
		ContentID:  "blob-id",
	})
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if created.ID != "m1" || created.Timestamp != 1700000000000 {
		t.Fatalf("unexpected created record %+v", created)
	}
}

func TestListMessagesBuildsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/c1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("userId"); got != "u1" {
			t.Errorf("unexpected userId %q", got)
		}

		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m1", SenderID: "c1", ReceiverID: "u1", Content: "ct", Encrypted: true},
		})
	}))
	t.Cleanup(server.Close)

	client := New(server.URL, nil)
	messages, err := client.ListMessages(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Fatalf("unexpected messages %+v", messages)
	}
}

func TestNon2xxSurfacesRequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Username already taken"))
	}))
	t.Cleanup(server.Close)

	client := New(server.URL, nil)
	_, err := client.CreateUser(context.Background(), NewUser{Username: "alice", PublicKey: "jwk"})

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", reqErr.StatusCode)
	}
	if reqErr.Body != "Username already taken" {
		t.Fatalf("unexpected body %q", reqErr.Body)
	}
}

func TestCreateContactValidatesBeforeRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(server.Close)

	client := New(server.URL, nil)
	if _, err := client.CreateContact(context.Background(), NewContact{Username: "bob"}); err == nil {
		t.Fatalf("expected error for missing public key")
	}
	if _, err := client.CreateContact(context.Background(), NewContact{PublicKey: "jwk"}); err == nil {
		t.Fatalf("expected error for missing username")
	}
	if requests != 0 {
		t.Fatalf("expected no requests for invalid contacts, got %d", requests)
	}
}

func TestMarkMessageRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/messages/m1/read" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := New(server.URL, nil)
	if err := client.MarkMessageRead(context.Background(), "m1"); err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}
}
