package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestCacheClear_RemovesOnlySignedURLKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	if err := mr.Set("movinesta:signed-url:attachments/a.jpg", "https://signed.example/a"); err != nil {
		t.Fatal(err)
	}
	if err := mr.Set("movinesta:signed-url:attachments/b.jpg", "https://signed.example/b"); err != nil {
		t.Fatal(err)
	}
	if err := mr.Set("unrelated:key", "keep"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOVINESTA_OUTPUT", "text")

	output := captureStdout(t, func() {
		err := Execute(context.Background(), []string{"cache", "clear", "--redis-url", "redis://" + mr.Addr()})
		if err != nil {
			t.Fatalf("cache clear failed: %v", err)
		}
	})
	if !strings.Contains(output, "Signed-URL cache cleared.") {
		t.Errorf("unexpected output: %q", output)
	}

	if mr.Exists("movinesta:signed-url:attachments/a.jpg") || mr.Exists("movinesta:signed-url:attachments/b.jpg") {
		t.Error("signed URL keys survived clear")
	}
	if !mr.Exists("unrelated:key") {
		t.Error("unrelated key was deleted")
	}
}

func TestCacheClear_RequiresRedisURL(t *testing.T) {
	t.Setenv("MOVINESTA_REDIS_URL", "")
	t.Setenv("MOVINESTA_OUTPUT", "text")

	err := Execute(context.Background(), []string{"cache", "clear"})
	if err == nil {
		t.Fatal("expected error without a redis URL")
	}
	if !strings.Contains(err.Error(), "no shared cache configured") {
		t.Errorf("unexpected error: %v", err)
	}
}
