// Package urlcache caches signed storage URLs keyed by object path.
//
// Signed URLs expire server-side, so entries are written with an early-refresh
// margin: a URL signed for ttlSeconds is treated as stale 60 seconds before
// the credential actually expires, which lets readers mint a fresh URL before
// the old one starts 403ing mid-render.
package urlcache

import (
	"context"
	"sync"
	"time"
)

// RefreshMargin is subtracted from every TTL so consumers refresh before the
// upstream credential truly expires. TTLs at or below the margin produce
// entries that are already expired; callers using very short TTLs effectively
// bypass the cache.
const RefreshMargin = 60 * time.Second

// Cache is the read/write contract shared by the in-process store and the
// Redis-backed store.
type Cache interface {
	// Get returns the cached URL for path, or ok=false on a miss.
	// Expired entries are treated as misses.
	Get(ctx context.Context, path string) (url string, ok bool)
	// Set stores url under path for ttlSeconds minus the refresh margin.
	Set(ctx context.Context, path, url string, ttlSeconds int)
}

type entry struct {
	url       string
	expiresAt time.Time
}

// Store is an in-process Cache. Entries are evicted lazily on read; there is
// no background sweep and no size cap. At the intended scale (attachments in
// currently open conversations) unbounded growth is acceptable; use the Redis
// store when that stops being true.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore returns an empty in-process store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewStoreAt returns a store with an injected clock, for tests.
func NewStoreAt(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

// Get implements Cache. An entry whose deadline has passed is deleted and
// reported as a miss.
func (s *Store) Get(_ context.Context, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, path)
		return "", false
	}
	return e.url, true
}

// Set implements Cache.
func (s *Store) Set(_ context.Context, path, url string, ttlSeconds int) {
	if path == "" || url == "" {
		return
	}
	ttl := time.Duration(ttlSeconds)*time.Second - RefreshMargin
	if ttl < 0 {
		ttl = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = entry{
		url:       url,
		expiresAt: s.now().Add(ttl),
	}
}

// Delete removes a single entry. Used when an upload is rolled back.
func (s *Store) Delete(_ context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Len reports the number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
