package crypto

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names one wrapping key version known to the KMIP server.
// The highest Version in CosmianKMIPOptions.Keys is treated as active.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// CosmianKMIPOptions configures a KeyManager backed by a Cosmian KMS (or any
// KMIP 2.x-compliant server) reached over TLS.
type CosmianKMIPOptions struct {
	Endpoint string
	Keys     []KMIPKeyReference

	TLSConfig *tls.Config
	Timeout   time.Duration

	// Provider is the diagnostic identifier returned from Provider().
	Provider string

	// DualReadWindow is how many key versions below the active one
	// UnwrapKey still accepts, so a key rotation can roll forward without
	// invalidating envelopes wrapped moments before the cut-over.
	DualReadWindow int
}

// cosmianKMIPManager implements KeyManager against github.com/ovh/kmip-go.
type cosmianKMIPManager struct {
	opts   CosmianKMIPOptions
	client *kmip.Client

	mu     sync.RWMutex
	closed bool
}

// NewCosmianKMIPManager dials the configured KMIP endpoint and returns a
// ready-to-use KeyManager. The connection is held open for the manager's
// lifetime; callers must call Close when done.
func NewCosmianKMIPManager(opts CosmianKMIPOptions) (*cosmianKMIPManager, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("kmip: endpoint is required")
	}
	if len(opts.Keys) == 0 {
		return nil, errors.New("kmip: at least one key reference is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = "cosmian-kmip"
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	client, err := kmip.Dial(dialCtx, opts.Endpoint, opts.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("kmip: dial %s: %w", opts.Endpoint, err)
	}

	return &cosmianKMIPManager{opts: opts, client: client}, nil
}

func (m *cosmianKMIPManager) Provider() string {
	return m.opts.Provider
}

// WrapKey encrypts plaintext under the active key version. The resulting
// envelope carries the key ID and version so UnwrapKey can route back to
// the exact key that produced it, with a version-number fallback for
// envelopes whose key ID was stripped before persistence.
func (m *cosmianKMIPManager) WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error) {
	key, err := m.activeKey()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	resp, err := m.client.Encrypt(ctx, &payloads.EncryptRequestPayload{
		UniqueIdentifier: key.ID,
		Data:             plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kmip: encrypt with key %q: %w", key.ID, err)
	}

	return &KeyEnvelope{
		KeyID:      key.ID,
		KeyVersion: key.Version,
		Provider:   m.opts.Provider,
		Ciphertext: resp.Data,
	}, nil
}

// UnwrapKey decrypts envelope.Ciphertext. If the envelope's KeyID is empty
// (an older envelope format, or one trimmed before storage) it resolves
// the key by version instead, accepting versions within DualReadWindow of
// the currently active one.
func (m *cosmianKMIPManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error) {
	if envelope == nil {
		return nil, errors.New("kmip: envelope is nil")
	}

	keyID := envelope.KeyID
	if keyID == "" {
		key, err := m.keyByVersion(envelope.KeyVersion)
		if err != nil {
			return nil, err
		}
		keyID = key.ID
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	resp, err := m.client.Decrypt(ctx, &payloads.DecryptRequestPayload{
		UniqueIdentifier: keyID,
		Data:             envelope.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kmip: decrypt with key %q: %w", keyID, err)
	}
	return resp.Data, nil
}

// ActiveKeyVersion returns the highest configured key version.
func (m *cosmianKMIPManager) ActiveKeyVersion(ctx context.Context) (int, error) {
	key, err := m.activeKey()
	if err != nil {
		return 0, err
	}
	return key.Version, nil
}

// HealthCheck issues a lightweight Get on the active key to confirm the
// KMIP connection is alive and the key is still present server-side.
func (m *cosmianKMIPManager) HealthCheck(ctx context.Context) error {
	key, err := m.activeKey()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	_, err = m.client.Get(ctx, &payloads.GetRequestPayload{UniqueIdentifier: key.ID})
	if err != nil {
		return fmt.Errorf("kmip: health check: %w", err)
	}
	return nil
}

func (m *cosmianKMIPManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.client.Close()
}

func (m *cosmianKMIPManager) activeKey() (KMIPKeyReference, error) {
	best := KMIPKeyReference{Version: -1}
	for _, k := range m.opts.Keys {
		if k.Version > best.Version {
			best = k
		}
	}
	if best.Version < 0 {
		return KMIPKeyReference{}, errors.New("kmip: no key versions configured")
	}
	return best, nil
}

func (m *cosmianKMIPManager) keyByVersion(version int) (KMIPKeyReference, error) {
	active, err := m.activeKey()
	if err != nil {
		return KMIPKeyReference{}, err
	}
	if active.Version-version > m.opts.DualReadWindow {
		return KMIPKeyReference{}, fmt.Errorf("kmip: key version %d outside dual-read window (active %d, window %d)", version, active.Version, m.opts.DualReadWindow)
	}
	for _, k := range m.opts.Keys {
		if k.Version == version {
			return k, nil
		}
	}
	return KMIPKeyReference{}, fmt.Errorf("kmip: no key reference for version %d", version)
}
