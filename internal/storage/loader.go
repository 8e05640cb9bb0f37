package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUnavailable is the terminal state for an attachment that could not be
// loaded even after the single automatic refresh retry.
var ErrUnavailable = errors.New("attachment unavailable")

// Probe checks that a resolved URL actually loads. The default implementation
// issues a GET and discards the body; tests substitute their own.
type Probe func(ctx context.Context, url string) error

// HTTPProbe probes a URL with the given client (http.DefaultClient when nil).
func HTTPProbe(client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: %s", url, resp.Status)
		}
		return nil
	}
}

// Loader loads one attachment for display, with the expired-URL recovery the
// resolver's cache makes necessary: a cached signed URL can go stale between
// resolution and fetch, so the first load failure forces one refresh. One
// Loader instance corresponds to one displayed object; the retry budget does
// not reset until a new Loader is created.
type Loader struct {
	resolver *Resolver
	client   Client
	probe    Probe
	bucket   string
	retried  bool
}

// NewLoader builds a loader for a single displayed attachment.
func NewLoader(resolver *Resolver, client Client, probe Probe, bucket string) *Loader {
	return &Loader{resolver: resolver, client: client, probe: probe, bucket: bucket}
}

// Load resolves path and verifies the URL loads, refreshing the signed URL at
// most once. Returns ErrUnavailable once the retry budget is spent.
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrUnavailable
	}
	if IsHTTPURL(path) {
		// External URLs cannot be re-signed; surface failures immediately.
		if err := l.probe(ctx, path); err != nil {
			return "", ErrUnavailable
		}
		return path, nil
	}

	url := l.resolver.Resolve(ctx, l.bucket, path, ResolveOptions{AllowPublicFallback: true})
	if url == "" {
		return "", ErrUnavailable
	}
	err := l.probe(ctx, url)
	if err == nil {
		return url, nil
	}

	// The public URL has no fresher variant to mint; failing there is final.
	if url == l.client.PublicURL(l.bucket, path) {
		return "", ErrUnavailable
	}
	if l.retried {
		return "", ErrUnavailable
	}
	l.retried = true

	refreshed := l.resolver.Resolve(ctx, l.bucket, path, ResolveOptions{
		AllowPublicFallback: true,
		ForceRefresh:        true,
	})
	if refreshed == "" || refreshed == url {
		return "", ErrUnavailable
	}
	if err := l.probe(ctx, refreshed); err != nil {
		return "", ErrUnavailable
	}
	return refreshed, nil
}
