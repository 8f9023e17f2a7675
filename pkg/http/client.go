package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrBodyTooLarge is returned instead of a truncated body, since a cut weight shard or
// scaler file would still parse into a wrong model.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.Code, e.URL, e.Body)
}

// ClientOption configures Client.
type ClientOption func(*Client)

// Client fetches remote artifacts and talks JSON to model servers.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	maxBody   int64
	userAgent string
}

// NewClient creates a client with a 30s timeout and a 64 MiB body limit.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, maxBody: 64 << 20, userAgent: "bizhealth"}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{Timeout: c.timeout}
	return c
}

// Get returns the body of url.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// GetJSON decodes the body of url into dest. A nil dest only checks the status.
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	b, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil || dest == nil {
		return err
	}
	return decodeJSON(b, dest)
}

// PostJSON sends in as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	b, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil || out == nil {
		return err
	}
	return decodeJSON(b, out)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Body: string(snippet)}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrBodyTooLarge, url, c.maxBody)
	}
	return b, nil
}

func decodeJSON(b []byte, dest interface{}) error {
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// WithTimeout bounds a whole request including the body read.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithMaxBody sets the largest body accepted.
func WithMaxBody(n int64) ClientOption {
	return func(c *Client) { c.maxBody = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}
