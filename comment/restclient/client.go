// Package restclient is the remote comment store backend. It talks to a
// pinlay annotation service (package httpapi) with retry and exponential
// backoff; failures surface to the caller non-fatally.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pinlay/pinlay/comment"
)

// Client implements comment.Store against the HTTP API.
type Client struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	authUser   string
	authPass   string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetries sets the maximum number of retries per request. Default: 3.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, pass string) Option {
	return func(c *Client) { c.authUser, c.authPass = user, pass }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the service at baseURL (scheme://host[:port]).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LoadAll fetches a page's annotations.
func (c *Client) LoadAll(ctx context.Context, pageKey string) ([]comment.Annotation, error) {
	var anns []comment.Annotation
	err := c.do(ctx, http.MethodGet, c.pageURL(pageKey), nil, &anns)
	if err != nil {
		return nil, fmt.Errorf("restclient: load %s: %w", pageKey, err)
	}
	return anns, nil
}

// SaveAll replaces a page's annotations on the server.
func (c *Client) SaveAll(ctx context.Context, pageKey string, anns []comment.Annotation) error {
	if anns == nil {
		anns = []comment.Annotation{}
	}
	if err := c.do(ctx, http.MethodPut, c.pageURL(pageKey), anns, nil); err != nil {
		return fmt.Errorf("restclient: save %s: %w", pageKey, err)
	}
	return nil
}

func (c *Client) pageURL(pageKey string) string {
	return c.baseURL + "/api/pages/" + url.PathEscape(pageKey) + "/annotations"
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authUser != "" || c.authPass != "" {
			req.SetBasicAuth(c.authUser, c.authPass)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("restclient: request failed",
				"attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil {
				err = json.NewDecoder(resp.Body).Decode(out)
				resp.Body.Close()
				if err != nil && err != io.EOF {
					return fmt.Errorf("decode: %w", err)
				}
				return nil
			}
			resp.Body.Close()
			return nil
		}
		resp.Body.Close()

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		// Client errors are not retryable.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
		c.logger.Warn("restclient: bad status",
			"attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("all retries exhausted: %w", lastErr)
}
