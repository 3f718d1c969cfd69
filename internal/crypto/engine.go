// Package crypto implements authenticated, per-record encryption of
// sensitive PII fields before they are written to the event log.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// tokenPrefix marks a value as an encrypted token in the stable ENC:v1 format.
	tokenPrefix = "ENC:v1:"

	saltSize = 32 // 256-bit HKDF salt
	ivSize   = 12 // 96-bit GCM nonce
	dekSize  = 32 // 256-bit derived data-encryption key

	hkdfInfo = "ai-sentinel/pii-event-field/v1"
)

// EncryptionError is returned for any encrypt/decrypt failure: bad token
// format, length mismatch, or a failed GCM authentication tag check.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

func newEncryptionError(op string, err error) *EncryptionError {
	return &EncryptionError{Op: op, Err: err}
}

// Metadata is the additional authenticated data bound to a ciphertext: the
// PII type and the span it was detected at in the normalized source text.
// It is serialized as "type|begin|end" and never itself encrypted.
type Metadata struct {
	PiiType        string
	PositionBegin  int
	PositionEnd    int
}

func (m Metadata) aad() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", strings.TrimSpace(m.PiiType), m.PositionBegin, m.PositionEnd))
}

// Service encrypts and decrypts sensitive event fields with AES-256-GCM
// using an HKDF-SHA256-derived, per-record data-encryption key.
//
// The long-lived master key (KEK) is supplied once at construction time,
// typically unwrapped from a KeyManager (see keymanager.go) at process
// startup. Service never talks to the key provisioning system itself.
type Service struct {
	kek  []byte
	pool *bufferPool
}

// NewService constructs a Service from a 256-bit KEK. It panics if kek is
// not exactly 32 bytes, since that indicates a misconfigured caller rather
// than a recoverable runtime condition.
func NewService(kek []byte) *Service {
	if len(kek) != dekSize {
		panic(fmt.Sprintf("crypto: KEK must be %d bytes, got %d", dekSize, len(kek)))
	}
	owned := make([]byte, dekSize)
	copy(owned, kek)
	return &Service{kek: owned, pool: newBufferPool()}
}

// Zero overwrites the in-memory KEK copy. Callers should defer it on every
// exit path of the process that constructed the Service.
func (s *Service) Zero() {
	zero(s.kek)
}

// Encrypt seals plaintext under a fresh salt/IV pair, binding metadata as
// AAD, and returns a token of the form ENC:v1:<salt>:<iv>:<ciphertext+tag>.
func (s *Service) Encrypt(plaintext string, metadata Metadata) (string, error) {
	salt := s.pool.get(saltSize)
	defer s.pool.put(salt)
	if _, err := rand.Read(salt); err != nil {
		return "", newEncryptionError("encrypt", fmt.Errorf("generate salt: %w", err))
	}

	iv := s.pool.get(ivSize)
	defer s.pool.put(iv)
	if _, err := rand.Read(iv); err != nil {
		return "", newEncryptionError("encrypt", fmt.Errorf("generate iv: %w", err))
	}

	aead, err := s.aeadFor(salt)
	if err != nil {
		return "", newEncryptionError("encrypt", err)
	}

	ciphertext := aead.Seal(nil, iv, []byte(plaintext), metadata.aad())

	return tokenPrefix + strings.Join([]string{
		encodeBase64(salt),
		encodeBase64(iv),
		encodeBase64(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any tampering with token or metadata surfaces
// as an *EncryptionError because the GCM tag fails to authenticate.
func (s *Service) Decrypt(token string, metadata Metadata) (string, error) {
	salt, iv, ciphertext, err := parseToken(token)
	if err != nil {
		return "", newEncryptionError("decrypt", err)
	}

	aead, err := s.aeadFor(salt)
	if err != nil {
		return "", newEncryptionError("decrypt", err)
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, metadata.aad())
	if err != nil {
		return "", newEncryptionError("decrypt", fmt.Errorf("authentication failed: %w", err))
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether token carries the stable ENC:v1: prefix.
func IsEncrypted(token string) bool {
	return strings.HasPrefix(token, tokenPrefix) && len(token) > len(tokenPrefix)
}

func (s *Service) aeadFor(salt []byte) (cipher.AEAD, error) {
	dek := make([]byte, dekSize)
	kdf := hkdf.New(newSHA256, s.kek, salt, []byte(hkdfInfo))
	if _, err := kdf.Read(dek); err != nil {
		return nil, fmt.Errorf("derive dek: %w", err)
	}
	defer zero(dek)

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

func parseToken(token string) (salt, iv, ciphertext []byte, err error) {
	if !IsEncrypted(token) {
		return nil, nil, nil, fmt.Errorf("missing %s prefix", tokenPrefix)
	}
	parts := strings.Split(strings.TrimPrefix(token, tokenPrefix), ":")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("expected 3 segments, got %d", len(parts))
	}

	salt, err = decodeBase64(parts[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, nil, nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}

	iv, err = decodeBase64(parts[1])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("iv: %w", err)
	}
	if len(iv) != ivSize {
		return nil, nil, nil, fmt.Errorf("iv must be %d bytes, got %d", ivSize, len(iv))
	}

	ciphertext, err = decodeBase64(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ciphertext: %w", err)
	}
	return salt, iv, ciphertext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
