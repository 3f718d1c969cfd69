// Package content provides a cache-first accessor over the corporate wiki
// platform: space/page/attachment listing and retrieval, backed by a
// pluggable PlatformClient and refreshed on a background ticker, in the
// same spirit as the teacher's provider-registry pattern in internal/s3.
package content

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Space describes one wiki space.
type Space struct {
	Key  string
	Name string
}

// Page describes one wiki page within a space.
type Page struct {
	ID    string
	Title string
	Body  string
}

// Attachment describes one file attached to a page.
type Attachment struct {
	Name        string
	ContentType string
}

// PlatformClient is the minimal surface an accessor needs from the wiki
// backend. Implementations are registered by name via Register so the
// accessor can be pointed at different platforms without code changes.
type PlatformClient interface {
	ListSpaces(ctx context.Context) ([]Space, error)
	GetSpace(ctx context.Context, key string) (Space, error)
	ListPages(ctx context.Context, spaceKey string) ([]Page, error)
	GetPage(ctx context.Context, spaceKey, pageID string) (Page, error)
	ListAttachments(ctx context.Context, spaceKey, pageID string) ([]Attachment, error)
	DownloadAttachment(ctx context.Context, spaceKey, pageID, attachmentName string) ([]byte, error)
}

// Factory builds a PlatformClient from a connection string (e.g. a base
// URL plus credentials baked in by the caller before registration).
type Factory func(endpoint string) (PlatformClient, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named platform factory. Call from an init() in a
// platform-specific package (e.g. a Confluence or SharePoint adapter).
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// New resolves name via the registry and builds a PlatformClient for endpoint.
func New(name, endpoint string) (PlatformClient, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content: unknown platform %q", name)
	}
	return factory(endpoint)
}

// Accessor serves space listings from an in-memory cache refreshed on a
// background ticker, and proxies everything else straight through to the
// underlying PlatformClient.
type Accessor struct {
	client PlatformClient
	logger *logrus.Logger

	mu     sync.RWMutex
	spaces []Space

	stop chan struct{}
	done chan struct{}
}

// RefreshOptions configures the background cache refresh loop.
type RefreshOptions struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

// NewAccessor constructs an Accessor and performs a synchronous initial
// cache fill so the first caller never sees an empty cache.
func NewAccessor(ctx context.Context, client PlatformClient, logger *logrus.Logger, opts RefreshOptions) (*Accessor, error) {
	a := &Accessor{
		client: client,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := a.refresh(ctx); err != nil {
		return nil, fmt.Errorf("content: initial cache fill: %w", err)
	}
	go a.refreshLoop(opts)
	return a, nil
}

// Close stops the background refresh loop.
func (a *Accessor) Close() {
	close(a.stop)
	<-a.done
}

func (a *Accessor) refreshLoop(opts RefreshOptions) {
	defer close(a.done)

	if opts.InitialDelay > 0 {
		select {
		case <-time.After(opts.InitialDelay):
		case <-a.stop:
			return
		}
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := a.refresh(ctx); err != nil {
				a.logger.WithError(err).Warn("content: background cache refresh failed")
			}
			cancel()
		case <-a.stop:
			return
		}
	}
}

func (a *Accessor) refresh(ctx context.Context) error {
	spaces, err := a.client.ListSpaces(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.spaces = spaces
	a.mu.Unlock()
	return nil
}

// ListSpaces returns the cached space listing.
func (a *Accessor) ListSpaces() []Space {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Space, len(a.spaces))
	copy(out, a.spaces)
	return out
}

// GetSpace looks up a cached space by key, falling back to the platform
// client directly if the cache hasn't been populated yet or is stale.
func (a *Accessor) GetSpace(ctx context.Context, key string) (Space, error) {
	a.mu.RLock()
	for _, s := range a.spaces {
		if s.Key == key {
			a.mu.RUnlock()
			return s, nil
		}
	}
	a.mu.RUnlock()
	return a.client.GetSpace(ctx, key)
}

func (a *Accessor) ListPages(ctx context.Context, spaceKey string) ([]Page, error) {
	return a.client.ListPages(ctx, spaceKey)
}

func (a *Accessor) GetPage(ctx context.Context, spaceKey, pageID string) (Page, error) {
	return a.client.GetPage(ctx, spaceKey, pageID)
}

func (a *Accessor) ListAttachments(ctx context.Context, spaceKey, pageID string) ([]Attachment, error) {
	return a.client.ListAttachments(ctx, spaceKey, pageID)
}

func (a *Accessor) DownloadAttachment(ctx context.Context, spaceKey, pageID, attachmentName string) ([]byte, error) {
	return a.client.DownloadAttachment(ctx, spaceKey, pageID, attachmentName)
}
