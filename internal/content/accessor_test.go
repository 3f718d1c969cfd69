package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	mu     sync.Mutex
	spaces []Space
	calls  int
}

func (f *fakePlatform) ListSpaces(ctx context.Context) ([]Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]Space, len(f.spaces))
	copy(out, f.spaces)
	return out, nil
}
func (f *fakePlatform) GetSpace(ctx context.Context, key string) (Space, error) {
	return Space{Key: key, Name: "fallback-" + key}, nil
}
func (f *fakePlatform) ListPages(ctx context.Context, spaceKey string) ([]Page, error) {
	return nil, nil
}
func (f *fakePlatform) GetPage(ctx context.Context, spaceKey, pageID string) (Page, error) {
	return Page{ID: pageID}, nil
}
func (f *fakePlatform) ListAttachments(ctx context.Context, spaceKey, pageID string) ([]Attachment, error) {
	return nil, nil
}
func (f *fakePlatform) DownloadAttachment(ctx context.Context, spaceKey, pageID, name string) ([]byte, error) {
	return []byte("data"), nil
}

func TestAccessor_InitialFillPopulatesCache(t *testing.T) {
	platform := &fakePlatform{spaces: []Space{{Key: "A", Name: "Alpha"}}}
	accessor, err := NewAccessor(context.Background(), platform, logrus.New(), RefreshOptions{Interval: time.Hour})
	require.NoError(t, err)
	defer accessor.Close()

	require.Equal(t, []Space{{Key: "A", Name: "Alpha"}}, accessor.ListSpaces())
}

func TestAccessor_GetSpaceFallsBackToClientWhenUncached(t *testing.T) {
	platform := &fakePlatform{}
	accessor, err := NewAccessor(context.Background(), platform, logrus.New(), RefreshOptions{Interval: time.Hour})
	require.NoError(t, err)
	defer accessor.Close()

	space, err := accessor.GetSpace(context.Background(), "B")
	require.NoError(t, err)
	require.Equal(t, "fallback-B", space.Name)
}

func TestAccessor_BackgroundRefreshUpdatesCache(t *testing.T) {
	platform := &fakePlatform{spaces: []Space{{Key: "A"}}}
	accessor, err := NewAccessor(context.Background(), platform, logrus.New(), RefreshOptions{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer accessor.Close()

	platform.mu.Lock()
	platform.spaces = []Space{{Key: "A"}, {Key: "B"}}
	platform.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(accessor.ListSpaces()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterAndNew_ResolvesFactoryByName(t *testing.T) {
	Register("faketest", func(endpoint string) (PlatformClient, error) {
		return &fakePlatform{}, nil
	})
	client, err := New("FakeTest", "http://example.invalid")
	require.NoError(t, err)
	require.NotNil(t, client)

	_, err = New("does-not-exist", "")
	require.Error(t, err)
}
