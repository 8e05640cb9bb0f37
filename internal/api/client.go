// Package api is the MoviNesta REST client used for message delivery and
// the polling fallback when the realtime channel is down.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/movinesta/movinesta-cli/internal/debug"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

const (
	DefaultTimeout = 30 * time.Second

	// Conservative retry posture: writes carry client-generated IDs, so a
	// single retry after a transient failure cannot duplicate a message.
	maxRateLimitRetries   = 3
	max5xxRetries         = 2
	rateLimitBaseDelay    = time.Second
	serverErrorRetryDelay = 2 * time.Second
)

// Client talks to the MoviNesta backend's REST surface.
type Client struct {
	BaseURL     string
	AnonKey     string
	AccessToken string
	UserID      string
	HTTP        *http.Client
	UserAgent   string

	skipURLValidation bool // internal flag for testing only
	validatedBaseURL  bool
	validateMu        sync.Mutex
}

var validateBaseURL = validation.ValidateBaseURL

// New creates an API client. anonKey identifies the project; accessToken is
// the signed-in user's JWT and scopes every row-level query.
func New(baseURL, anonKey, accessToken string) *Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig.InsecureSkipVerify = false

	// Allow localhost URLs when MOVINESTA_TESTING=1 is set (for integration tests)
	skipValidation := os.Getenv("MOVINESTA_TESTING") == "1"

	return &Client{
		BaseURL:           baseURL,
		AnonKey:           anonKey,
		AccessToken:       accessToken,
		skipURLValidation: skipValidation,
		HTTP: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}
}

// newTestClient creates a client with URL validation disabled for testing
func newTestClient(baseURL, anonKey, accessToken string) *Client {
	c := New(baseURL, anonKey, accessToken)
	c.skipURLValidation = true
	return c
}

func (c *Client) ensureBaseURLValidated() error {
	if c.skipURLValidation {
		return nil
	}

	c.validateMu.Lock()
	defer c.validateMu.Unlock()

	if c.validatedBaseURL {
		return nil
	}

	if err := validateBaseURL(c.BaseURL); err != nil {
		return fmt.Errorf("URL validation failed: %w", err)
	}

	c.validatedBaseURL = true
	return nil
}

// restPath returns the full URL for a table-level REST call
func (c *Client) restPath(path string) string {
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return c.BaseURL + "/rest/v1" + path
}

// do performs an HTTP request and decodes the response
func (c *Client) do(ctx context.Context, method, url string, prefer string, body any, result any) error {
	respBody, _, err := c.executeRequest(ctx, method, url, prefer, body)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	}
	return nil
}

// executeRequest performs an HTTP request with retry for rate limits and
// transient server errors. Returns the response body, status code, and error.
func (c *Client) executeRequest(ctx context.Context, method, url string, prefer string, body any) ([]byte, int, error) {
	if err := c.ensureBaseURLValidated(); err != nil {
		return nil, 0, err
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var retries429, retries5xx int
	attempt := 0

	for {
		attempt++
		start := time.Now()
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}

		if c.AnonKey != "" {
			req.Header.Set("apikey", c.AnonKey)
		}
		token := c.AccessToken
		if token == "" {
			token = c.AnonKey
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if debug.IsEnabled(ctx) {
				slog.Debug("request failed", "method", method, "url", url, "attempt", attempt, "error", err)
			}
			return nil, 0, fmt.Errorf("request failed: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read response: %w", err)
		}
		if debug.IsEnabled(ctx) {
			slog.Debug("request complete", "method", method, "url", url, "status", resp.StatusCode, "attempt", attempt, "duration", time.Since(start))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay, ok := retryAfterDuration(resp.Header)
			if !ok {
				delay = rateLimitBaseDelay * time.Duration(1<<retries429)
			}
			if retries429 >= maxRateLimitRetries {
				return nil, resp.StatusCode, &RateLimitError{RetryAfter: delay}
			}
			slog.Info("rate limited, retrying", "delay", delay, "attempt", retries429+1)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, 0, err
			}
			retries429++
			continue
		}

		if resp.StatusCode >= 500 && retries5xx < max5xxRetries {
			slog.Info("server error, retrying", "status", resp.StatusCode)
			if err := sleepWithContext(ctx, serverErrorRetryDelay); err != nil {
				return nil, 0, err
			}
			retries5xx++
			continue
		}

		if resp.StatusCode >= 400 {
			return respBody, resp.StatusCode, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(respBody),
				Code:       errorCodeFromBody(respBody),
			}
		}

		return respBody, resp.StatusCode, nil
	}
}

// retryAfterDuration parses a Retry-After header into a wait duration.
func retryAfterDuration(header http.Header) (time.Duration, bool) {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sanitizeErrorBody extracts a safe error message from a PostgREST error
// response without echoing back potentially sensitive row data.
func sanitizeErrorBody(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
		Hint    string `json:"hint"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return "API request failed (response body redacted)"
	}
	switch {
	case errResp.Message != "" && errResp.Hint != "":
		return errResp.Message + " (" + errResp.Hint + ")"
	case errResp.Message != "":
		return errResp.Message
	case errResp.Details != "":
		return errResp.Details
	default:
		return "API request failed (response body redacted)"
	}
}

func errorCodeFromBody(body []byte) string {
	var errResp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	return errResp.Code
}

// RateLimitError reports that the server asked us to slow down and the
// retry budget was exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// APIError represents an error response from the API. Code carries the
// PostgREST/Postgres error code when present (e.g. "23505" for a unique
// violation).
type APIError struct {
	StatusCode int
	Body       string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// HealthCheck checks whether the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	reqURL := c.BaseURL + "/auth/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, err
	}
	if c.AnonKey != "" {
		req.Header.Set("apikey", c.AnonKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}
