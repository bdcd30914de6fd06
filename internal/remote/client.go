// Package remote implements the authenticated HTTP client for the Second
// Brain server. Every call passes through a client-side sliding-window rate
// limiter and an exponential-backoff retry loop; responses are decoded into
// typed values and non-2xx statuses surface as *APIError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

const (
	defaultRateLimit  = 10
	defaultRateWindow = time.Second
	defaultRetries    = 3
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
	defaultTimeout    = 30 * time.Second
)

// Client talks to the Second Brain server API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *limiter
	log        *slog.Logger

	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithLogger sets the logger used for retry and connectivity diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetryPolicy overrides the retry count and backoff bounds.
func WithRetryPolicy(retries int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoff = initial
		c.maxBackoff = max
	}
}

// WithRateLimit overrides the sliding-window quota.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limiter = newLimiter(limit, window)
	}
}

// New creates a client for the server at baseURL authenticating with the
// given bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    newLimiter(defaultRateLimit, defaultRateWindow),
		log:        slog.Default(),
		retries:    defaultRetries,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status fetches the server's view of the vault.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/vault/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncBatch uploads one batch of notes.
func (c *Client) SyncBatch(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/vault/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNotes removes the given paths from the server.
func (c *Client) DeleteNotes(ctx context.Context, paths []string) (*DeleteResponse, error) {
	var out DeleteResponse
	if err := c.do(ctx, http.MethodPost, "/api/vault/delete", DeleteRequest{Paths: paths}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Exclusions fetches the server-side exclusion rules.
func (c *Client) Exclusions(ctx context.Context) (models.ExclusionRules, error) {
	var out models.ExclusionRules
	if err := c.do(ctx, http.MethodGet, "/api/vault/exclusions", nil, &out); err != nil {
		return models.ExclusionRules{}, err
	}
	return out, nil
}

// UpdateExclusions replaces the server-side exclusion rules.
func (c *Client) UpdateExclusions(ctx context.Context, rules models.ExclusionRules) (*UpdateExclusionsResponse, error) {
	var out UpdateExclusionsResponse
	if err := c.do(ctx, http.MethodPut, "/api/vault/exclusions", rules, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Schedule fetches the digest delivery schedule.
func (c *Client) Schedule(ctx context.Context) (*models.Schedule, error) {
	var out models.Schedule
	if err := c.do(ctx, http.MethodGet, "/api/digest/schedule", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestConnection reports whether the server is reachable with the configured
// credentials. Failures are logged, never returned.
func (c *Client) TestConnection(ctx context.Context) bool {
	if _, err := c.Status(ctx); err != nil {
		c.log.Warn("connection test failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// do runs one API call through the rate limiter and retry loop. Transport
// failures, 5xx responses, and 429 are retried with exponential backoff;
// other 4xx responses surface immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		if err := c.limiter.wait(ctx); err != nil {
			return err
		}
		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// once performs a single HTTP round trip.
func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("remote: decode response: %w", err)
		}
	}
	return nil
}

// parseAPIError decodes the structured error envelope, falling back to the
// raw body when the server did not send one.
func parseAPIError(status int, data []byte) *APIError {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return &APIError{
			Status:  status,
			Code:    body.Error.Code,
			Message: body.Error.Message,
			Details: body.Error.Details,
		}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// retryable reports whether err is transient. Anything that is not an
// *APIError is a transport failure and is always retried.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
