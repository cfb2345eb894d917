package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// Two textual key encodings are supported so keys round-trip with either
// representation a contact may publish: JSON Web Key documents (the contact
// exchange format) and base64 DER (SPKI for public, PKCS#8 for private). The
// *rsa types are the only internal representation; conversion happens here at
// the boundary.

// MarshalPublicSPKI encodes a public key as base64 PKIX/SPKI DER.
func MarshalPublicSPKI(key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("marshal SPKI: key is required")
	}

	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal SPKI: %w", err)
	}

	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePublicSPKI decodes a base64 PKIX/SPKI DER public key.
func ParsePublicSPKI(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode SPKI base64: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parse SPKI: not an RSA key")
	}

	return key, nil
}

// MarshalPrivatePKCS8 encodes a private key as base64 PKCS#8 DER.
func MarshalPrivatePKCS8(key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("marshal PKCS#8: key is required")
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal PKCS#8: %w", err)
	}

	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePrivatePKCS8 decodes a base64 PKCS#8 DER private key.
func ParsePrivatePKCS8(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#8 base64: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse PKCS#8: not an RSA key")
	}

	return key, nil
}

// jsonWebKey is the subset of RFC 7518 RSA key parameters this client uses.
type jsonWebKey struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
	Dp  string `json:"dp,omitempty"`
	Dq  string `json:"dq,omitempty"`
	Qi  string `json:"qi,omitempty"`
}

// MarshalPublicJWK encodes a public key as a JSON Web Key document.
func MarshalPublicJWK(key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("marshal public JWK: key is required")
	}

	doc := jsonWebKey{
		Kty: "RSA",
		N:   encodeJWKInt(key.N),
		E:   encodeJWKInt(big.NewInt(int64(key.E))),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal public JWK: %w", err)
	}

	return string(raw), nil
}

// ParsePublicJWK decodes a JSON Web Key document into a public key.
func ParsePublicJWK(document string) (*rsa.PublicKey, error) {
	var doc jsonWebKey
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("parse public JWK: %w", err)
	}
	if doc.Kty != "RSA" {
		return nil, fmt.Errorf("parse public JWK: unexpected key type %q", doc.Kty)
	}

	n, err := decodeJWKInt(doc.N)
	if err != nil {
		return nil, fmt.Errorf("parse public JWK modulus: %w", err)
	}
	e, err := decodeJWKInt(doc.E)
	if err != nil {
		return nil, fmt.Errorf("parse public JWK exponent: %w", err)
	}
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 1 {
		return nil, fmt.Errorf("parse public JWK: invalid key parameters")
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// MarshalPrivateJWK encodes a private key as a JSON Web Key document.
func MarshalPrivateJWK(key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("marshal private JWK: key is required")
	}
	if len(key.Primes) != 2 {
		return "", fmt.Errorf("marshal private JWK: expected two primes, got %d", len(key.Primes))
	}

	key.Precompute()
	doc := jsonWebKey{
		Kty: "RSA",
		N:   encodeJWKInt(key.N),
		E:   encodeJWKInt(big.NewInt(int64(key.E))),
		D:   encodeJWKInt(key.D),
		P:   encodeJWKInt(key.Primes[0]),
		Q:   encodeJWKInt(key.Primes[1]),
		Dp:  encodeJWKInt(key.Precomputed.Dp),
		Dq:  encodeJWKInt(key.Precomputed.Dq),
		Qi:  encodeJWKInt(key.Precomputed.Qinv),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal private JWK: %w", err)
	}

	return string(raw), nil
}

// ParsePrivateJWK decodes a JSON Web Key document into a private key.
func ParsePrivateJWK(document string) (*rsa.PrivateKey, error) {
	var doc jsonWebKey
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("parse private JWK: %w", err)
	}
	if doc.Kty != "RSA" {
		return nil, fmt.Errorf("parse private JWK: unexpected key type %q", doc.Kty)
	}
	if doc.D == "" || doc.P == "" || doc.Q == "" {
		return nil, fmt.Errorf("parse private JWK: missing private parameters")
	}

	n, err := decodeJWKInt(doc.N)
	if err != nil {
		return nil, fmt.Errorf("parse private JWK modulus: %w", err)
	}
	e, err := decodeJWKInt(doc.E)
	if err != nil {
		return nil, fmt.Errorf("parse private JWK exponent: %w", err)
	}
	d, err := decodeJWKInt(doc.D)
	if err != nil {
		return nil, fmt.Errorf("parse private JWK exponent d: %w", err)
	}
	p, err := decodeJWKInt(doc.P)
	if err != nil {
		return nil, fmt.Errorf("parse private JWK prime p: %w", err)
	}
	q, err := decodeJWKInt(doc.Q)
	if err != nil {
		return nil, fmt.Errorf("parse private JWK prime q: %w", err)
	}
	if !e.IsInt64() || e.Int64() <= 1 {
		return nil, fmt.Errorf("parse private JWK: invalid public exponent")
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	key.Precompute()
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("validate private JWK: %w", err)
	}

	return key, nil
}

func encodeJWKInt(value *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(value.Bytes())
}

func decodeJWKInt(encoded string) (*big.Int, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty value")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(raw), nil
}
