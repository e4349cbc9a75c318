// Package api is a thin HTTP client for the server's admin endpoint. It
// handles authentication, multipart uploads for manual triggers and the
// connector RPC surface, returning decoded response bodies to the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the server rejects the credentials or the
// access token has expired.
var ErrUnauthorized = errors.New("unauthorized")

// ConnectorStatus mirrors the per-connector status document served by the
// admin API.
type ConnectorStatus struct {
	ID            string         `json:"id"`
	Interval      string         `json:"interval,omitempty"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	InFlight      int            `json:"in_flight"`
	Errors        []TriggerError `json:"errors,omitempty"`
	State         map[string]any `json:"state,omitempty"`
}

type TriggerError struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// InsertionRecord describes one entry touched by a trigger.
type InsertionRecord struct {
	EntryUUID string    `json:"entry_uuid"`
	Mutated   bool      `json:"mutated"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TriggerResult is the outcome of a manual trigger: the insertion log plus
// the connector error, if the run failed partway.
type TriggerResult struct {
	Records []InsertionRecord `json:"records"`
	Error   string            `json:"error,omitempty"`
}

// Client talks to the admin HTTP API. It is not safe for concurrent use:
// Login mutates the stored access token.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Login exchanges the admin password for an access token and stores it for
// subsequent calls.
func (c *Client) Login(ctx context.Context, password []byte) error {
	body, err := json.Marshal(map[string]string{"password": string(password)})
	if err != nil {
		return err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/login", "application/json", bytes.NewReader(body), &resp); err != nil {
		return err
	}
	c.token = resp.AccessToken
	return nil
}

// IsLoggedIn reports whether a token from a previous Login is held.
func (c *Client) IsLoggedIn() bool {
	return c.token != ""
}

// Connectors returns the status of every registered connector.
func (c *Client) Connectors(ctx context.Context) ([]ConnectorStatus, error) {
	var resp struct {
		Connectors []ConnectorStatus `json:"connectors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/connectors", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connectors, nil
}

// Trigger fires a manual run of a connector. When filePath is non-empty the
// file is uploaded as a multipart body so the server can feed it to the
// connector; metadata is passed alongside in either case.
func (c *Client) Trigger(ctx context.Context, connectorID, filePath string, metadata map[string]any) (*TriggerResult, error) {
	var (
		body        io.Reader
		contentType string
	)

	if filePath != "" {
		buf, ct, err := buildMultipart(filePath, metadata)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	} else {
		b, err := json.Marshal(map[string]any{"metadata": metadata})
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	var result TriggerResult
	path := fmt.Sprintf("/api/connectors/%s/trigger", connectorID)
	if err := c.do(ctx, http.MethodPost, path, contentType, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RPC invokes a named connector procedure and returns its decoded reply.
func (c *Client) RPC(ctx context.Context, connectorID, name string, params map[string]any) (map[string]any, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	path := fmt.Sprintf("/api/connectors/%s/rpc/%s", connectorID, name)
	if err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildMultipart spools the file and the metadata JSON field into an
// in-memory multipart body.
func buildMultipart(filePath string, metadata map[string]any) (*bytes.Buffer, string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("metadata", string(meta)); err != nil {
			return nil, "", err
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
