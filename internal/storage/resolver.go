package storage

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/movinesta/movinesta-cli/internal/urlcache"
)

// DefaultSignedTTLSeconds is the signed-URL lifetime used when the caller
// does not specify one.
const DefaultSignedTTLSeconds = 60 * 60

// IsHTTPURL reports whether value is already an absolute http(s) URL.
func IsHTTPURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveOptions controls a single Resolve call.
type ResolveOptions struct {
	// TTLSeconds is the signed-URL lifetime; 0 means DefaultSignedTTLSeconds.
	TTLSeconds int
	// AllowPublicFallback falls back to the bucket's public URL when signing
	// fails. There is no guarantee the object is actually publicly readable;
	// the fallback URL can still 404 at display time.
	AllowPublicFallback bool
	// ForceRefresh skips the cache read (the cache is still written on a
	// successful mint).
	ForceRefresh bool
}

// Resolver turns storage paths into loadable URLs: cache hit, else signed
// URL, else optional public fallback. Signing failures never propagate as
// errors; an empty return means "unavailable".
type Resolver struct {
	client Client
	cache  urlcache.Cache
	group  singleflight.Group
}

// NewResolver builds a resolver over the given storage client and URL cache.
func NewResolver(client Client, cache urlcache.Cache) *Resolver {
	return &Resolver{client: client, cache: cache}
}

// Resolve returns a usable URL for bucket/path, or "" when nothing can be
// produced. Absolute URLs pass through untouched.
func (r *Resolver) Resolve(ctx context.Context, bucket, path string, opts ResolveOptions) string {
	if path == "" {
		return ""
	}
	if IsHTTPURL(path) {
		return path
	}

	ttl := opts.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultSignedTTLSeconds
	}

	if !opts.ForceRefresh {
		if url, ok := r.cache.Get(ctx, path); ok {
			return url
		}
	}

	if url := r.mint(ctx, bucket, path, ttl); url != "" {
		return url
	}

	if !opts.AllowPublicFallback {
		return ""
	}
	return r.client.PublicURL(bucket, path)
}

// Prefetch warms the cache for bucket/path. Best-effort: it never returns an
// error and it never panics its caller's goroutine.
func (r *Resolver) Prefetch(ctx context.Context, bucket, path string, ttlSeconds int) {
	if path == "" || IsHTTPURL(path) {
		return
	}
	if _, ok := r.cache.Get(ctx, path); ok {
		return
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultSignedTTLSeconds
	}
	r.mint(ctx, bucket, path, ttlSeconds)
}

// mint requests a signed URL and caches it. Concurrent mints for the same
// path collapse into one upstream call.
func (r *Resolver) mint(ctx context.Context, bucket, path string, ttlSeconds int) string {
	v, err, _ := r.group.Do(bucket+"/"+path, func() (any, error) {
		url, err := r.client.CreateSignedURL(ctx, bucket, path, ttlSeconds)
		if err != nil {
			return "", err
		}
		r.cache.Set(ctx, path, url, ttlSeconds)
		return url, nil
	})
	if err != nil {
		slog.Debug("signed url mint failed", "bucket", bucket, "path", path, "error", err)
		return ""
	}
	return v.(string)
}
