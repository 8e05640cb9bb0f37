package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// setupTestServer creates a test server and overrides GitHubReleasesURL.
// Returns a cleanup function that restores the original URL.
func setupTestServer(handler http.HandlerFunc) (*httptest.Server, func()) {
	server := httptest.NewServer(handler)
	originalURL := GitHubReleasesURL
	GitHubReleasesURL = server.URL
	cleanup := func() {
		server.Close()
		GitHubReleasesURL = originalURL
	}
	return server, cleanup
}

func releaseHandler(tag string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Release{
			TagName: tag,
			HTMLURL: "https://github.com/movinesta/movinesta-cli/releases/tag/" + tag,
		})
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.0.0", "v1.0.0"},
		{"v1.0.0", "v1.0.0"},
		{"2.3.4-beta.1", "v2.3.4-beta.1"},
	}
	for _, tt := range tests {
		if got := normalizeVersion(tt.input); got != tt.expected {
			t.Errorf("normalizeVersion(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCheckForUpdate_DevVersion(t *testing.T) {
	if result := CheckForUpdate(context.Background(), "dev"); result != nil {
		t.Errorf("expected nil for dev version, got %+v", result)
	}
	if result := CheckForUpdate(context.Background(), ""); result != nil {
		t.Errorf("expected nil for empty version, got %+v", result)
	}
}

func TestCheckForUpdate_UpdateAvailable(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("v2.0.0"))
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("expected result")
	}
	if !result.UpdateAvailable {
		t.Error("expected update to be available")
	}
	if result.LatestVersion != "2.0.0" {
		t.Errorf("LatestVersion = %q, want 2.0.0", result.LatestVersion)
	}
	if result.UpdateURL != "https://github.com/movinesta/movinesta-cli/releases/tag/v2.0.0" {
		t.Errorf("UpdateURL = %q", result.UpdateURL)
	}
}

func TestCheckForUpdate_NoUpdateNeeded(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("v1.0.0"))
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("expected result")
	}
	if result.UpdateAvailable {
		t.Error("same version should not report an update")
	}
}

func TestCheckForUpdate_CurrentVersionNewer(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("v1.0.0"))
	defer cleanup()

	result := CheckForUpdate(context.Background(), "2.0.0")
	if result == nil {
		t.Fatal("expected result")
	}
	if result.UpdateAvailable {
		t.Error("older release should not report an update")
	}
}

func TestCheckForUpdate_PreReleaseOrdering(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("v2.0.0"))
	defer cleanup()

	result := CheckForUpdate(context.Background(), "2.0.0-rc.1")
	if result == nil {
		t.Fatal("expected result")
	}
	if !result.UpdateAvailable {
		t.Error("release should supersede its rc")
	}
}

func TestCheckForUpdate_ServerError(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	if result := CheckForUpdate(context.Background(), "1.0.0"); result != nil {
		t.Errorf("expected nil on server error, got %+v", result)
	}
}

func TestCheckForUpdate_InvalidJSON(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	defer cleanup()

	if result := CheckForUpdate(context.Background(), "1.0.0"); result != nil {
		t.Errorf("expected nil on invalid JSON, got %+v", result)
	}
}

func TestCheckForUpdate_InvalidSemverLatest(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("not-a-version"))
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("expected result")
	}
	if result.UpdateAvailable {
		t.Error("invalid latest version must not report an update")
	}
}

func TestCheckForUpdate_ConnectionError(t *testing.T) {
	originalURL := GitHubReleasesURL
	GitHubReleasesURL = "http://127.0.0.1:1"
	defer func() { GitHubReleasesURL = originalURL }()

	if result := CheckForUpdate(context.Background(), "1.0.0"); result != nil {
		t.Errorf("expected nil on connection error, got %+v", result)
	}
}

func TestCheckForUpdate_ContextCanceled(t *testing.T) {
	_, cleanup := setupTestServer(releaseHandler("v2.0.0"))
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if result := CheckForUpdate(ctx, "1.0.0"); result != nil {
		t.Errorf("expected nil with canceled context, got %+v", result)
	}
}
