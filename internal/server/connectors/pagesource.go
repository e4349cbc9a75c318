package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// HTTPPageSource reads day pages from a page service over REST.
type HTTPPageSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPPageSource(baseURL, token string, client *http.Client) *HTTPPageSource {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPPageSource{baseURL: baseURL, token: token, client: client}
}

type changedPagesResponse struct {
	Pages      []Page `json:"pages"`
	NextCursor string `json:"next_cursor"`
}

func (s *HTTPPageSource) ChangedPages(ctx context.Context, cursor string) ([]Page, string, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	req, err := s.newRequest(ctx, fmt.Sprintf("%s/pages/changed?%s", s.baseURL, params.Encode()))
	if err != nil {
		return nil, "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("page service returned %d: %s", resp.StatusCode, body)
	}

	var out changedPagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", err
	}
	return out.Pages, out.NextCursor, nil
}

func (s *HTTPPageSource) Download(ctx context.Context, block PageBlock, destDir string) (string, error) {
	req, err := s.newRequest(ctx, block.FileURL)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: status %d", block.FileURL, resp.StatusCode)
	}

	name := block.FileName
	if name == "" {
		name = block.ID
	}
	path := filepath.Join(destDir, filepath.Base(name))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return path, nil
}

func (s *HTTPPageSource) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}
