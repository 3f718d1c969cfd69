// Package httpplatform is the minimal reference content.PlatformClient:
// a generic JSON-over-HTTP wiki client. The content platform's actual
// wire protocol is an external collaborator contracted by interface only
// (spec's Non-goals name it explicitly), so this adapter exists only to
// give cmd/server something concrete to link and run against; a real
// deployment swaps it for a platform-specific client registered the same
// way.
package httpplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/content"
)

func init() {
	content.Register("http", New)
}

// Client is a generic JSON REST client over a wiki-like content platform:
//
//	GET  {base}/spaces
//	GET  {base}/spaces/{key}
//	GET  {base}/spaces/{key}/pages
//	GET  {base}/spaces/{key}/pages/{pageId}
//	GET  {base}/spaces/{key}/pages/{pageId}/attachments
//	GET  {base}/spaces/{key}/pages/{pageId}/attachments/{name}
type Client struct {
	base string
	http *http.Client
}

// New constructs a Client against endpoint, satisfying content.Factory.
func New(endpoint string) (content.PlatformClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("httpplatform: endpoint is required")
	}
	return &Client{base: endpoint, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpplatform: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpplatform: GET %s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListSpaces(ctx context.Context) ([]content.Space, error) {
	var out []content.Space
	if err := c.getJSON(ctx, "/spaces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSpace(ctx context.Context, key string) (content.Space, error) {
	var out content.Space
	if err := c.getJSON(ctx, "/spaces/"+url.PathEscape(key), &out); err != nil {
		return content.Space{}, err
	}
	return out, nil
}

func (c *Client) ListPages(ctx context.Context, spaceKey string) ([]content.Page, error) {
	var out []content.Page
	if err := c.getJSON(ctx, "/spaces/"+url.PathEscape(spaceKey)+"/pages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPage(ctx context.Context, spaceKey, pageID string) (content.Page, error) {
	var out content.Page
	path := "/spaces/" + url.PathEscape(spaceKey) + "/pages/" + url.PathEscape(pageID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return content.Page{}, err
	}
	return out, nil
}

func (c *Client) ListAttachments(ctx context.Context, spaceKey, pageID string) ([]content.Attachment, error) {
	var out []content.Attachment
	path := "/spaces/" + url.PathEscape(spaceKey) + "/pages/" + url.PathEscape(pageID) + "/attachments"
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DownloadAttachment(ctx context.Context, spaceKey, pageID, attachmentName string) ([]byte, error) {
	path := "/spaces/" + url.PathEscape(spaceKey) + "/pages/" + url.PathEscape(pageID) +
		"/attachments/" + url.PathEscape(attachmentName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpplatform: download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpplatform: download %s: unexpected status %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
