package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Method aliases so callers avoid importing net/http alongside this package.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodDelete = http.MethodDelete
)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout caps the total time for one request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

// RequestOptions describes one outbound request. []byte and io.Reader bodies
// pass through unchanged; any other non-nil Body is marshaled to JSON.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// Client is a small JSON-first HTTP client.
type Client struct {
	hc *http.Client
}

// NewClient builds a Client with a 30 second default timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{hc: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendAndParse performs the request and decodes the JSON response into dest.
// A nil dest discards the body. Non-2xx responses return an error carrying
// a prefix of the response text.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	req, err := buildRequest(ctx, opts)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http client: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("http client: decode: %w", err)
	}
	return nil
}

func buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, isJSON, err := requestBody(opts.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("http client: build request: %w", err)
	}

	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for key, vals := range opts.QueryParams {
			for _, v := range vals {
				q.Add(key, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// requestBody turns the Body field into a reader. The bool reports whether
// the payload was JSON-encoded here.
func requestBody(v interface{}) (io.Reader, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	case io.Reader:
		return b, false, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("http client: marshal body: %w", err)
		}
		return bytes.NewReader(raw), true, nil
	}
}
