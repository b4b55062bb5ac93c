package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client downloads remote assets to local files.
type Client struct {
	client *http.Client
}

type Config struct {
	Client *http.Client
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	return &Client{client: client}
}

// Download retrieves the resource at u and writes it to path, creating parent
// directories as needed. The body is written to a temporary file first and
// renamed into place, so a partially written destination is never visible.
// Retries are up to the caller.
func (c *Client) Download(ctx context.Context, u, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("fetch: couldn't create request for %s: %w", u, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: couldn't get %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch: %s returned status %s", u, resp.Status)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("fetch: couldn't create folder %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("fetch: couldn't create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("fetch: couldn't write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fetch: couldn't close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("fetch: couldn't move temp file to %s: %w", path, err)
	}
	return nil
}
