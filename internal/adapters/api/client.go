// Package api is a typed client for the attendance backend's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"frontdesk/internal/adapters/http/perf"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 15 * time.Second

const maxBody = 1 << 20

// Client errors
var (
	ErrUnauthorized    = errors.New("backend rejected the credentials")
	ErrNotFound        = errors.New("backend endpoint not found")
	ErrUnexpectedShape = errors.New("backend response has an unexpected shape")
	ErrBadBaseURL      = errors.New("backend URL must be absolute http or https")
)

// Error is a non-2xx backend response. Message is the backend's own
// explanation when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Message returns the backend message carried by err, or fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// Authenticator supplies the bearer token and hears about rejected tokens.
type Authenticator interface {
	Token() string
	HandleUnauthorized()
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Collector  *perf.Collector
	Location   *time.Location // zone of wall-clock timestamps; defaults to time.Local
}

// Client calls the backend. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	collector *perf.Collector
	loc       *time.Location

	mu       sync.Mutex
	auth     Authenticator
	scanPath string
}

// New creates a client for the backend at baseURL.
// PRE: baseURL is an absolute http(s) URL
// POST: Returns a client without an Authenticator; requests carry no token
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadBaseURL, baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Client{base: u, http: hc, collector: opts.Collector, loc: loc}, nil
}

// SetAuthenticator installs the token source.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
}

func (c *Client) authenticator() Authenticator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

// do sends one request and decodes a 2xx body into out.
// A 401 on a request that carried a token is reported to the Authenticator.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	start := time.Now()
	status := 0
	defer func() {
		c.collector.Since(perf.KindCall, method+" "+path, status, start)
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth := c.authenticator()
	token := ""
	if auth != nil {
		token = auth.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if status == http.StatusUnauthorized && token != "" {
		slog.Warn("auth_event", "event", "token_rejected", "path", path)
		auth.HandleUnauthorized()
	}
	if status < 200 || status > 299 {
		return &Error{Status: status, Message: backendMessage(data, status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnexpectedShape, method, path, err)
	}
	return nil
}

func backendMessage(data []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if m := strings.TrimSpace(body.Message); m != "" {
			return m
		}
		if m := strings.TrimSpace(body.Error); m != "" {
			return m
		}
	}
	return http.StatusText(status)
}
