// Package apiclient is the HTTP client for the backend API. Requests carry the
// session's bearer token, and authorization failures trigger a single shared
// token renewal followed by one retry per request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPError is returned for responses outside the 2xx range.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Client issues JSON requests relative to BaseURL.
type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
}

// New returns a Client for baseURL. Requests time out after timeout and go
// through rt, usually a *Transport.
func New(baseURL string, timeout time.Duration, rt http.RoundTripper) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	return &Client{
		BaseURL: u,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: rt,
		},
	}, nil
}

func (c *Client) Get(ctx context.Context, path string, into any) error {
	return c.Do(ctx, http.MethodGet, path, nil, into)
}

func (c *Client) Post(ctx context.Context, path string, body, into any) error {
	return c.Do(ctx, http.MethodPost, path, body, into)
}

func (c *Client) Put(ctx context.Context, path string, body, into any) error {
	return c.Do(ctx, http.MethodPut, path, body, into)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do sends body as JSON, if not nil, and decodes a successful response into
// into, if not nil.
func (c *Client) Do(ctx context.Context, method, path string, body, into any) error {
	u, err := c.resolve(path)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	rb, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", u, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &HTTPError{Method: method, URL: u, StatusCode: res.StatusCode, Body: rb}
	}
	if into == nil || len(bytes.TrimSpace(rb)) == 0 {
		return nil
	}
	if err := json.Unmarshal(rb, into); err != nil {
		return fmt.Errorf("decoding response from %s: %w", u, err)
	}
	return nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("path %q must be relative to the base URL", path)
	}
	u := c.BaseURL.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}
