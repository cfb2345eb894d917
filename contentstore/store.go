// Package contentstore addresses byte payloads by content hash and stores
// them in an external HTTP blob store. The backend is a thin collaborator:
// PUT /<id> stores raw bytes, GET /<id> returns them verbatim. Only the
// put/get contract is relied upon, so the backend is swappable.
package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the backing store has no content under an id.
	ErrNotFound = errors.New("contentstore: content not found")
	// ErrRetrieval indicates a transport failure talking to the store on read.
	ErrRetrieval = errors.New("contentstore: retrieval failed")
	// ErrAddressing indicates storing content under its address failed.
	ErrAddressing = errors.New("contentstore: addressing failed")
)

// DefaultRequestTimeout bounds one blob store round trip.
const DefaultRequestTimeout = 30 * time.Second

// Digest computes the content identifier for a payload: lowercase SHA-256
// hex. Identical content always yields the same identifier.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store is an adapter over one HTTP blob store endpoint.
type Store struct {
	baseURL string
	client  *http.Client
}

// New returns a Store for the given base URL. A nil client gets a default
// with DefaultRequestTimeout.
func New(baseURL string, client *http.Client) *Store {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Put stores content under its digest and returns the identifier. Any input
// size is accepted, including empty payloads.
func (s *Store) Put(ctx context.Context, content []byte) (string, error) {
	id := Digest(content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentURL(id), bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrAddressing, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAddressing, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrAddressing, resp.StatusCode)
	}

	return id, nil
}

// Get retrieves the content stored under id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty content id", ErrRetrieval)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRetrieval, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrRetrieval, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRetrieval, err)
	}

	return content, nil
}

func (s *Store) contentURL(id string) string {
	return s.baseURL + "/" + url.PathEscape(id)
}
