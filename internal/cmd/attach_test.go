package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// attachBackend fakes the storage and REST endpoints an upload touches. The
// object path embeds a timestamp, so routes match on prefix instead of the
// exact path.
type attachBackend struct {
	mu          sync.Mutex
	uploadPath  string
	messageBody map[string]any
}

func (b *attachBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case r.Method == "POST" && strings.HasPrefix(r.URL.Path, "/storage/v1/object/sign/"):
		// Prefetch after upload; the signed URL itself is irrelevant here.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signedURL": "/object/sign/stub?token=t"}`))
	case r.Method == "POST" && strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		b.uploadPath = strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		w.WriteHeader(http.StatusOK)
	case r.Method == "POST" && r.URL.Path == "/rest/v1/messages":
		_ = json.NewDecoder(r.Body).Decode(&b.messageBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{
			"id": "` + testMessageID + `",
			"conversation_id": "` + testConversationID + `",
			"sender_id": "3d1f9a2b-6c4e-4f8a-9b0d-5e7a1c2d3f4b",
			"content": "",
			"created_at": "2026-08-30T12:00:00Z"
		}]`))
	default:
		http.NotFound(w, r)
	}
}

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttach_UploadsAndSends(t *testing.T) {
	backend := &attachBackend{}
	setupTestEnv(t, backend)
	t.Setenv("MOVINESTA_NO_CACHE", "1") // keep the recent store out of the real cache dir

	photo := writeTempFile(t, "photo.jpg", 2048)

	output := captureStdout(t, func() {
		err := Execute(context.Background(), []string{"attach", testConversationID, photo, "--caption", "check this out"})
		if err != nil {
			t.Fatalf("attach failed: %v", err)
		}
	})

	if !strings.Contains(output, "Uploading photo.jpg (Photo") {
		t.Errorf("missing upload progress line: %q", output)
	}
	if !strings.Contains(output, "Sent photo.jpg to conversation "+testConversationID) {
		t.Errorf("missing sent confirmation: %q", output)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	wantPrefix := "chat-media/message_attachments/" + testConversationID + "/3d1f9a2b-6c4e-4f8a-9b0d-5e7a1c2d3f4b/"
	if !strings.HasPrefix(backend.uploadPath, wantPrefix) {
		t.Errorf("upload path = %q, want prefix %q", backend.uploadPath, wantPrefix)
	}
	if !strings.HasSuffix(backend.uploadPath, ".jpg") {
		t.Errorf("upload path = %q, want .jpg suffix", backend.uploadPath)
	}
	if backend.messageBody == nil {
		t.Fatal("no message was sent")
	}
	if backend.messageBody["content"] != "check this out" {
		t.Errorf("caption = %v", backend.messageBody["content"])
	}
	if backend.messageBody["attachment_kind"] != "image" {
		t.Errorf("attachment_kind = %v", backend.messageBody["attachment_kind"])
	}
	gotPath, _ := backend.messageBody["attachment_path"].(string)
	if !strings.HasPrefix(gotPath, "message_attachments/") {
		t.Errorf("attachment_path = %q", gotPath)
	}
}

func TestAttach_RejectsUnsupportedFile(t *testing.T) {
	backend := &attachBackend{}
	setupTestEnv(t, backend)

	exe := writeTempFile(t, "setup.exe", 128)

	err := Execute(context.Background(), []string{"attach", testConversationID, exe})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "setup.exe") {
		t.Errorf("unexpected error: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.uploadPath != "" {
		t.Errorf("rejected file must not upload, wrote %q", backend.uploadPath)
	}
}

func TestAttach_RejectsOversizedImage(t *testing.T) {
	backend := &attachBackend{}
	setupTestEnv(t, backend)

	// One byte past the 10 MiB image cap.
	big := writeTempFile(t, "huge.jpg", 10<<20+1)

	err := Execute(context.Background(), []string{"attach", testConversationID, big})
	if err == nil {
		t.Fatal("expected size rejection")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.uploadPath != "" {
		t.Errorf("oversized file must not upload, wrote %q", backend.uploadPath)
	}
}
