package crypto

import "context"

// KeyManager abstracts the external Key Management System that wraps and
// unwraps the service's master key-encryption-key (KEK). The KEK itself is
// only ever held in plaintext, in memory, for the duration of the Service
// that derives per-record DEKs from it (see engine.go).
//
// Implementations must never expose the plaintext KEK anywhere outside the
// process and must ensure that the unwrap operation happens inside the KMS
// (for example via KMIP, AWS KMS, Vault Transit, etc).
//
// Current implementations:
//   - Cosmian KMIP: fully implemented (see kmip.go)
//
// Planned implementations:
//   - AWS KMS: deferred pending cloud provider access for integration testing
//   - HashiCorp Vault Transit: deferred pending Enterprise license access
type KeyManager interface {
	// Provider returns a short identifier (e.g. "cosmian-kmip") used for diagnostics and metadata.
	Provider() string

	// WrapKey encrypts the provided plaintext KEK and returns an envelope suitable for
	// persisting in the service's own configuration store.
	WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error)

	// UnwrapKey decrypts the ciphertext contained in the given envelope and returns the plaintext KEK.
	UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error)

	// ActiveKeyVersion returns the version identifier of the primary wrapping key.
	ActiveKeyVersion(ctx context.Context) (int, error)

	// HealthCheck verifies that the KMS is accessible and operational.
	// Returns an error if the KMS is unavailable or unhealthy.
	// This should be a lightweight operation that doesn't perform actual encryption/decryption.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying resources.
	Close(ctx context.Context) error
}

// KeyEnvelope captures the information required to unwrap the KEK.
type KeyEnvelope struct {
	KeyID      string
	KeyVersion int
	Provider   string
	Ciphertext []byte
}

// MetaKeyVersion is the config key recording which wrapping key version
// protected the persisted KEK envelope.
const (
	MetaKeyVersion = "pii-scan-engine-kek-version"
)
