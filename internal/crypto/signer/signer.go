// Package signer wraps the asymmetric key material for the election core.
//
// Every other component signs through this package: ballot tokens, vote
// payload receipts, and audit ledger entries. The private key stays inside
// the server process; the public key may be exported for independent audit
// verification.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	dErrors "ballotcore/pkg/domain-errors"
)

// KeyBits is the required modulus size for the election signing key.
const KeyBits = 4096

// DefaultMaxPayload bounds payloads accepted for signing. Oversize input is
// refused rather than truncated.
const DefaultMaxPayload = 1 << 20

var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       crypto.SHA256,
}

// Signer produces and verifies RSA-PSS signatures over byte payloads.
type Signer struct {
	key        *rsa.PrivateKey
	maxPayload int
}

// Option tunes Signer construction.
type Option func(*Signer)

// WithMaxPayload overrides the payload size bound.
func WithMaxPayload(n int) Option {
	return func(s *Signer) { s.maxPayload = n }
}

// New wraps an existing private key.
func New(key *rsa.PrivateKey, opts ...Option) *Signer {
	s := &Signer{key: key, maxPayload: DefaultMaxPayload}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate creates a fresh RSA-4096 key pair. Intended for dev and tests;
// production keys arrive via LoadKey.
func Generate(opts ...Option) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return New(key, opts...), nil
}

// LoadKey reads a PEM-encoded private key (PKCS#1 or PKCS#8) from path.
func LoadKey(path string, opts ...Option) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "signing key unreadable")
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable, "signing key is not PEM encoded")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*rsa.PrivateKey); !ok {
				return nil, dErrors.New(dErrors.CodeKeyUnavailable, "signing key is not RSA")
			}
		}
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "parse signing key")
	}
	if key.N.BitLen() < KeyBits {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable,
			fmt.Sprintf("signing key must be at least %d bits", KeyBits))
	}

	return New(key, opts...), nil
}

// Sign produces an RSA-PSS signature over payload.
//
// Errors: CodeKeyUnavailable when no private key is loaded,
// CodePayloadTooLarge when payload exceeds the configured bound.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable, "private signing key unavailable")
	}
	if len(payload) > s.maxPayload {
		return nil, dErrors.New(dErrors.CodePayloadTooLarge,
			fmt.Sprintf("payload exceeds %d bytes", s.maxPayload))
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign payload")
	}
	return sig, nil
}

// Verify checks signature over payload against pub. It never returns an
// error: any malformed input verifies as false.
func (s *Signer) Verify(payload, signature []byte, pub *rsa.PublicKey) bool {
	return Verify(payload, signature, pub)
}

// Verify is the standalone verification used by independent auditors who
// hold only the public key.
func Verify(payload, signature []byte, pub *rsa.PublicKey) bool {
	if pub == nil || len(signature) == 0 {
		return false
	}
	digest := sha256.Sum256(payload)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, pssOptions) == nil
}

// PublicKey returns the verification half of the key pair.
func (s *Signer) PublicKey() *rsa.PublicKey {
	if s == nil || s.key == nil {
		return nil
	}
	return &s.key.PublicKey
}

// PublicKeyPEM exports the public key for distribution to auditors.
func (s *Signer) PublicKeyPEM() ([]byte, error) {
	pub := s.PublicKey()
	if pub == nil {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable, "no public key available")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
