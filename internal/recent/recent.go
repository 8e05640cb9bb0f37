// Package recent tracks the files most recently attached to messages so the
// attach command can offer them again without a directory crawl.
//
// The list is JSON on disk, scoped per server URL and user, newest first,
// capped at a fixed length. Disable with MOVINESTA_NO_CACHE=1.
package recent

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxEntries caps the stored list.
const MaxEntries = 20

// Entry is one remembered attachment.
type Entry struct {
	LocalPath      string    `json:"local_path"`
	Name           string    `json:"name"`
	Kind           string    `json:"kind"`
	Size           int64     `json:"size"`
	ConversationID string    `json:"conversation_id"`
	AttachedAt     time.Time `json:"attached_at"`
}

// Store reads and writes the recent-attachments list for one server+user.
type Store struct {
	path string
	max  int
}

// NewStore creates a Store under dir, scoped to baseURL and userID.
func NewStore(dir, baseURL, userID string) *Store {
	hash := sha1.Sum([]byte(baseURL + "\x00" + userID))
	suffix := hex.EncodeToString(hash[:6])
	return &Store{
		path: filepath.Join(dir, fmt.Sprintf("recent_%s.json", suffix)),
		max:  MaxEntries,
	}
}

// List returns remembered attachments, newest first. A missing or corrupt
// file reads as empty.
func (s *Store) List() []Entry {
	if disabled() {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// Add records an attachment at the head of the list, dropping any earlier
// entry for the same local path and trimming to the cap. Silently no-ops on
// error or when disabled.
func (s *Store) Add(e Entry) {
	if disabled() {
		return
	}
	entries := s.List()
	kept := make([]Entry, 0, len(entries)+1)
	kept = append(kept, e)
	for _, old := range entries {
		if old.LocalPath == e.LocalPath {
			continue
		}
		kept = append(kept, old)
	}
	if len(kept) > s.max {
		kept = kept[:s.max]
	}
	s.write(kept)
}

func (s *Store) write(entries []Entry) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	// Atomic-ish write: write temp then rename.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return
	}
	_ = os.Rename(tmp, s.path)
}

// Clear removes this store's file.
func (s *Store) Clear() {
	_ = os.Remove(s.path)
}

// ClearAll removes all recent-attachment files from the directory.
// For safety, it only removes files matching this project's filename scheme.
func ClearAll(dir string) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		if !isRecentFilename(item.Name()) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, item.Name()))
	}
}

// DefaultDir returns the platform-appropriate cache directory.
// Returns "$XDG_CACHE_HOME/movinesta-cli" or equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "movinesta-cli"), nil
}

func disabled() bool {
	return os.Getenv("MOVINESTA_NO_CACHE") != ""
}

func isRecentFilename(name string) bool {
	// Expected: "recent_<12hex>.json"
	if filepath.Ext(name) != ".json" {
		return false
	}
	base := strings.TrimSuffix(name, ".json")
	suffix, ok := strings.CutPrefix(base, "recent_")
	if !ok {
		return false
	}
	if len(suffix) != 12 || !isHex(suffix) {
		return false
	}
	return true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
