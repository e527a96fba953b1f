package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultUserAgent = "ArbitrageBot/0.1"

// StatusError is returned for non-2xx responses so callers can react to the
// status class (rate limiting in particular) without string matching.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d: %s", e.URL, e.Code, e.Body)
}

// IsRateLimited reports whether err indicates the remote side is throttling
// or blocking us (HTTP 403/429). Callers back off much longer for these.
func IsRateLimited(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusForbidden || se.Code == http.StatusTooManyRequests
	}
	return false
}

// Client is a thin JSON GET helper shared by all exchange adapters.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// GetJSON fetches rawURL (with optional query params) and decodes the JSON
// body into out. The request is bounded by both ctx and the client timeout.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, URL: rawURL, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}
