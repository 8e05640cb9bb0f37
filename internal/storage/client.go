// Package storage talks to the object-storage service that holds chat media,
// and resolves storage paths into URLs the UI can actually load.
package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Client is the object-storage surface this package needs. The HTTP
// implementation below talks to a Supabase-style storage REST API; tests use
// fakes.
type Client interface {
	// UploadObject streams body to bucket/path. Existing objects are not
	// overwritten.
	UploadObject(ctx context.Context, bucket, path string, body io.Reader, contentType string) error
	// CreateSignedURL mints a time-limited URL for a private object.
	CreateSignedURL(ctx context.Context, bucket, path string, ttlSeconds int) (string, error)
	// PublicURL builds the public URL for bucket/path. No network call and no
	// guarantee the object is actually publicly readable.
	PublicURL(bucket, path string) string
	// DeleteObject removes bucket/path.
	DeleteObject(ctx context.Context, bucket, path string) error
}

// HTTPClient implements Client against a storage REST endpoint.
type HTTPClient struct {
	BaseURL string // e.g. https://project.example.com/storage/v1
	APIKey  string
	HTTP    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client with sane TLS and timeout defaults.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
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

	return &HTTPClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}
}

func (c *HTTPClient) objectURL(kind, bucket, path string) string {
	return fmt.Sprintf("%s/object/%s%s/%s", c.BaseURL, kind, url.PathEscape(bucket), escapePath(path))
}

// escapePath escapes each path segment but keeps the separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("apikey", c.APIKey)
	return c.HTTP.Do(req)
}

// UploadObject implements Client.
func (c *HTTPClient) UploadObject(ctx context.Context, bucket, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL("", bucket, path), body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s/%s: %s", bucket, path, readErrorBody(resp))
	}
	return nil
}

// CreateSignedURL implements Client.
func (c *HTTPClient) CreateSignedURL(ctx context.Context, bucket, path string, ttlSeconds int) (string, error) {
	payload, err := json.Marshal(map[string]int{"expiresIn": ttlSeconds})
	if err != nil {
		return "", fmt.Errorf("marshal sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL("sign/", bucket, path), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", bucket, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sign %s/%s: %s", bucket, path, readErrorBody(resp))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse sign response: %w", err)
	}
	if result.SignedURL == "" {
		return "", fmt.Errorf("sign %s/%s: empty signed URL in response", bucket, path)
	}
	if strings.HasPrefix(result.SignedURL, "http") {
		return result.SignedURL, nil
	}
	return c.BaseURL + "/" + strings.TrimPrefix(result.SignedURL, "/"), nil
}

// PublicURL implements Client.
func (c *HTTPClient) PublicURL(bucket, path string) string {
	if bucket == "" || path == "" {
		return ""
	}
	return c.objectURL("public/", bucket, path)
}

// DeleteObject implements Client.
func (c *HTTPClient) DeleteObject(ctx context.Context, bucket, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL("", bucket, path), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 404 counts as deleted.
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("delete %s/%s: %s", bucket, path, readErrorBody(resp))
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return resp.Status
	}
	var structured struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &structured) == nil {
		if structured.Message != "" {
			return fmt.Sprintf("%s: %s", resp.Status, structured.Message)
		}
		if structured.Error != "" {
			return fmt.Sprintf("%s: %s", resp.Status, structured.Error)
		}
	}
	return fmt.Sprintf("%s: %s", resp.Status, msg)
}
