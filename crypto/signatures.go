package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrSign indicates a signing failure (malformed key or provider failure).
var ErrSign = errors.New("crypto: signing failed")

// Sign signs a message with RSASSA-PKCS1-v1_5/SHA-256 and returns the
// signature as a base64 string.
func Sign(message []byte, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("%w: private key is required", ErrSign)
	}

	digest := sha256.Sum256(message)
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSign, err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify reports whether signature is a valid RSASSA-PKCS1-v1_5/SHA-256
// signature of message under publicKey. Any malformed input yields false;
// Verify never returns an error.
func Verify(message []byte, signature string, publicKey *rsa.PublicKey) bool {
	if publicKey == nil {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], raw) == nil
}
