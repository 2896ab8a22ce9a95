// Package resilience wraps outbound HTTP with the failure policy every
// client-side component shares: identical in-flight requests collapse into
// one call, transient failures retry with backoff, and exhaustion surfaces
// as a typed degraded result so callers fall back to locally cached data
// instead of crashing.
package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"golang.org/x/sync/singleflight"

	"github.com/courierclub/courier/pkg/event"
)

const maxResponseBytes = 1 << 20

// DegradedError reports that the backend could not be reached after the
// retry budget was spent. Callers treat it as a signal to continue on local
// data, never as a fatal condition.
type DegradedError struct {
	Cause error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("backend unreachable, degraded mode: %v", e.Cause)
}

func (e *DegradedError) Unwrap() error {
	return e.Cause
}

// IsDegraded reports whether err carries a DegradedError.
func IsDegraded(err error) bool {
	var degraded *DegradedError
	return errors.As(err, &degraded)
}

// AuthError reports a 401. Credentials were already cleared and the logout
// signal published by the time a caller sees it.
type AuthError struct{}

func (e *AuthError) Error() string {
	return "authentication required"
}

// CredentialStore is the capability the client needs to drop local
// credentials on a 401.
type CredentialStore interface {
	Clear(ctx context.Context) error
}

// Response is the decoded outcome of a completed exchange. Non-retryable
// statuses (4xx other than 401) are returned here for the caller to render,
// not as errors.
type Response struct {
	StatusCode int
	Body       []byte
}

// ClientConfig tunes a Client. Zero values take the defaults noted below.
type ClientConfig struct {
	Timeout     time.Duration     // per attempt, default 30s; polls use shorter
	MaxAttempts int               // default 3
	BackoffBase time.Duration     // default 500ms, doubled per retry
	Headers     map[string]string // set on every request, e.g. device identity
	HTTPClient  *http.Client
	Credentials CredentialStore  // optional
	Publisher   events.Publisher // optional, receives the logout signal
}

type Client struct {
	http        *http.Client
	logger      apt.Logger
	group       singleflight.Group
	headers     map[string]string
	credentials CredentialStore
	publisher   events.Publisher
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
}

func NewClient(cfg ClientConfig, logger apt.Logger) *Client {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		http:        cfg.HTTPClient,
		logger:      logger,
		headers:     cfg.Headers,
		credentials: cfg.Credentials,
		publisher:   cfg.Publisher,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
	}
}

// Do performs one logical exchange. Concurrent calls with the same method,
// URL and body share a single underlying request, which runs under the
// first caller's context: a joiner can see the originator's cancellation
// instead of its own. Callers needing independent cancellation must vary
// the request, not the context.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	key := dedupeKey(method, url, body)

	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.attempt(ctx, method, url, body)
	})
	if shared {
		c.logger.Debug("request deduplicated", "method", method, "url", url)
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// DoJSON marshals in as the request body and, on a 2xx, unmarshals the
// response into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out interface{}) (*Response, error) {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = encoded
	}

	resp, err := c.Do(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var cause error
	timeouts := 0

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, &DegradedError{Cause: err}
			}
		}

		resp, err := c.once(ctx, method, url, body)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				timeouts++
				// A repeated timeout past the first retry is surfaced
				// immediately: the backend is not coming back this call.
				if timeouts > 1 {
					return nil, &DegradedError{Cause: err}
				}
				cause = err
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			cause = err
			c.logger.Debug("request attempt failed", "method", method, "url", url, "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			c.handleUnauthorized(ctx)
			return nil, &AuthError{}
		}

		if resp.StatusCode >= 500 {
			cause = fmt.Errorf("server error %d", resp.StatusCode)
			c.logger.Debug("server error, retrying", "method", method, "url", url, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		return resp, nil
	}

	return nil, &DegradedError{Cause: cause}
}

// once runs a single attempt under the per-attempt timeout. The request body
// is rebuilt from the byte slice on every attempt, so a retried request can
// never trip over an already consumed reader.
func (c *Client) once(ctx context.Context, method, url string, body []byte) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, attemptCtx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

func (c *Client) handleUnauthorized(ctx context.Context) {
	if c.credentials != nil {
		if err := c.credentials.Clear(ctx); err != nil {
			c.logger.Error("cannot clear credentials", "error", err)
		}
	}
	if c.publisher != nil {
		payload, _ := json.Marshal(map[string]string{"reason": "unauthorized"})
		if err := c.publisher.Publish(ctx, event.LogoutTopic, payload); err != nil {
			c.logger.Error("cannot publish logout signal", "error", err)
		}
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func dedupeKey(method, url string, body []byte) string {
	digest := fnv.New64a()
	digest.Write(body)
	return fmt.Sprintf("%s %s %x", method, url, digest.Sum64())
}
