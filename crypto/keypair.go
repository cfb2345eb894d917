package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	rsaKeyBits = 2048

	rsaPrivatePEMType = "PRIVATE KEY"
	rsaPublicPEMType  = "PUBLIC KEY"
)

// ErrKeyGeneration indicates the underlying cryptographic provider failed to
// produce a key pair.
var ErrKeyGeneration = errors.New("crypto: key generation failed")

// KeyPair holds one RSA identity used for both confidentiality (OAEP) and
// integrity (PKCS1v15 signatures). The private half never leaves the process
// except through explicit serialization chosen by the caller.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair produces a fresh 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate RSA key: %v", ErrKeyGeneration, err)
	}

	return &KeyPair{Private: private, Public: &private.PublicKey}, nil
}

// EnsureKeyPair loads an RSA keypair from disk, generating it on first run.
func EnsureKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	private, err := LoadPrivateKey(privatePath)
	if err == nil {
		pair := &KeyPair{Private: private, Public: &private.PublicKey}

		storedPublic, pubErr := LoadPublicKey(publicPath)
		if pubErr != nil || !storedPublic.Equal(pair.Public) {
			if err := SavePublicKey(publicPath, pair.Public); err != nil {
				return nil, err
			}
		}

		return pair, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	pair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := SavePrivateKey(privatePath, pair.Private); err != nil {
		return nil, err
	}
	if err := SavePublicKey(publicPath, pair.Public); err != nil {
		return nil, err
	}

	return pair, nil
}

// LoadPrivateKey loads an RSA private key from a PKCS#8 PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read RSA private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode RSA private PEM: no PEM block")
	}
	if block.Type != rsaPrivatePEMType {
		return nil, fmt.Errorf("decode RSA private PEM: unexpected type %q", block.Type)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse PKCS#8 private key: not an RSA key")
	}

	return private, nil
}

// LoadPublicKey loads an RSA public key from a PKIX PEM file.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read RSA public key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode RSA public PEM: no PEM block")
	}
	if block.Type != rsaPublicPEMType {
		return nil, fmt.Errorf("decode RSA public PEM: unexpected type %q", block.Type)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	public, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parse PKIX public key: not an RSA key")
	}

	return public, nil
}

// SavePrivateKey writes an RSA private key PEM file with 0600 permissions.
func SavePrivateKey(path string, key *rsa.PrivateKey) error {
	if key == nil {
		return errors.New("save RSA private key: key is required")
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal PKCS#8 private key: %w", err)
	}

	block := &pem.Block{
		Type:  rsaPrivatePEMType,
		Bytes: der,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write RSA private key: %w", err)
	}

	return nil
}

// SavePublicKey writes an RSA public key PEM file.
func SavePublicKey(path string, key *rsa.PublicKey) error {
	if key == nil {
		return errors.New("save RSA public key: key is required")
	}

	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return fmt.Errorf("marshal PKIX public key: %w", err)
	}

	block := &pem.Block{
		Type:  rsaPublicPEMType,
		Bytes: der,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o644); err != nil {
		return fmt.Errorf("write RSA public key: %w", err)
	}

	return nil
}

// Fingerprint returns the truncated SHA-256 hex fingerprint of a public key.
func Fingerprint(publicKey *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
