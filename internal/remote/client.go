// Package remote is the HTTP client for the World Map entity store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRejected is returned when the remote side answers 200 but reports failure.
var ErrRejected = errors.New("command rejected by remote")

// StatusError is returned for any non-200 response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to %s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client talks to the remote entity store REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new remote client. baseURL is http://host:port.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the address the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// do performs the request and decodes a 200 response into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// ListEntities fetches all entity records (GET /entity/)
func (c *Client) ListEntities(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := c.do(ctx, "list entities", http.MethodGet, "/entity/", nil, &records); err != nil {
		return nil, err
	}

	log.Debug().Int("count", len(records)).Msg("Fetched entities")
	return records, nil
}

// CreateEntity creates an entity (POST /entity/)
func (c *Client) CreateEntity(ctx context.Context, in EntityInput) error {
	in.ID = 0
	return c.do(ctx, "create entity", http.MethodPost, "/entity/", in, nil)
}

// UpdateEntity replaces an entity (PUT /entity/)
func (c *Client) UpdateEntity(ctx context.Context, in EntityInput) error {
	if in.ID == 0 {
		return fmt.Errorf("failed to update entity: id is required")
	}
	return c.do(ctx, "update entity", http.MethodPut, "/entity/", in, nil)
}

// DeleteEntity removes an entity (DELETE /entity/{id})
func (c *Client) DeleteEntity(ctx context.Context, id int) error {
	return c.do(ctx, "delete entity", http.MethodDelete, fmt.Sprintf("/entity/%d", id), nil, nil)
}

// SetColor sends a color command (POST /color/).
// A 200 response whose success field is false yields ErrRejected.
func (c *Client) SetColor(ctx context.Context, cmd ColorCommand) (*ColorResult, error) {
	var result ColorResult
	if err := c.do(ctx, "set color", http.MethodPost, "/color/", cmd, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, fmt.Errorf("failed to set color for entity %d: %w", cmd.Entity, ErrRejected)
	}
	return &result, nil
}

// Toggle switches an entity on or off (POST /toggle/)
func (c *Client) Toggle(ctx context.Context, cmd ToggleCommand) (*ToggleResult, error) {
	var result ToggleResult
	if err := c.do(ctx, "toggle entity", http.MethodPost, "/toggle/", cmd, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
