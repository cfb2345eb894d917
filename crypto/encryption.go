package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	contentSeedSize = 32

	contentKeyInfo = "decsecmsg content key v1"
)

var (
	// ErrEncrypt indicates encryption failed (malformed recipient key or
	// provider failure).
	ErrEncrypt = errors.New("crypto: encryption failed")
	// ErrDecrypt indicates the ciphertext was not produced for this key, is
	// corrupted, or the key is malformed.
	ErrDecrypt = errors.New("crypto: decryption failed")
)

// Encrypt encrypts plaintext for a recipient public key and returns a single
// base64 string safe to place on any text transport.
//
// The scheme is hybrid: a random 32-byte seed is wrapped under RSA-OAEP with
// SHA-256, an AES-256-GCM content key is derived from the seed with
// HKDF-SHA256, and the plaintext is sealed under that key. This removes the
// direct-OAEP payload size limit, so plaintext length is bounded only by the
// transport.
func Encrypt(plaintext []byte, recipient *rsa.PublicKey) (string, error) {
	if recipient == nil {
		return "", fmt.Errorf("%w: recipient public key is required", ErrEncrypt)
	}

	seed := make([]byte, contentSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("%w: generate content seed: %v", ErrEncrypt, err)
	}

	contentKey, err := deriveContentKey(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	aead, err := newContentAEAD(contentKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrEncrypt, err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, seed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrap content seed: %v", ErrEncrypt, err)
	}

	buf := make([]byte, 0, 2+len(wrapped)+len(nonce)+len(sealed))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(wrapped)))
	buf = append(buf, wrapped...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt inverts Encrypt using the holder's private key. Every failure mode
// (encoding, framing, seed unwrap, authentication) wraps ErrDecrypt so callers
// can recover uniformly; decryption never panics.
func Decrypt(encoded string, holder *rsa.PrivateKey) ([]byte, error) {
	if holder == nil {
		return nil, fmt.Errorf("%w: holder private key is required", ErrDecrypt)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext base64: %v", ErrDecrypt, err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrDecrypt)
	}

	wrappedLen := int(binary.BigEndian.Uint16(raw))
	rest := raw[2:]
	if wrappedLen == 0 || len(rest) < wrappedLen {
		return nil, fmt.Errorf("%w: invalid wrapped seed length %d", ErrDecrypt, wrappedLen)
	}
	wrapped := rest[:wrappedLen]
	rest = rest[wrappedLen:]

	seed, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, holder, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap content seed: %v", ErrDecrypt, err)
	}
	if len(seed) != contentSeedSize {
		return nil, fmt.Errorf("%w: invalid content seed length %d", ErrDecrypt, len(seed))
	}

	contentKey, err := deriveContentKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	aead, err := newContentAEAD(contentKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: truncated nonce", ErrDecrypt)
	}
	nonce := rest[:aead.NonceSize()]
	sealed := rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open ciphertext: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}

func deriveContentKey(seed []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(contentKeyInfo))

	key := make([]byte, contentSeedSize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}

	return key, nil
}

func newContentAEAD(contentKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
