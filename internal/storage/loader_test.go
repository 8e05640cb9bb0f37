package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/movinesta/movinesta-cli/internal/storage"
)

// failNProbe fails the first n probe calls, then succeeds.
func failNProbe(n int, calls *[]string) storage.Probe {
	return func(_ context.Context, url string) error {
		*calls = append(*calls, url)
		if len(*calls) <= n {
			return errors.New("load failed")
		}
		return nil
	}
}

func TestLoader_HappyPath(t *testing.T) {
	client := &fakeStorage{}
	r := newResolver(client)
	var calls []string
	l := storage.NewLoader(r, client, failNProbe(0, &calls), "chat-media")

	url, err := l.Load(context.Background(), "a/b.jpg")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.HasPrefix(url, "https://signed.example/") {
		t.Fatalf("expected signed URL, got %s", url)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one probe, got %d", len(calls))
	}
}

func TestLoader_RetriesOnceWithForceRefresh(t *testing.T) {
	client := &fakeStorage{}
	r := newResolver(client)
	var calls []string
	l := storage.NewLoader(r, client, failNProbe(1, &calls), "chat-media")

	url, err := l.Load(context.Background(), "a/b.jpg")
	if err != nil {
		t.Fatalf("Load after one failure should recover: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected two probes, got %d", len(calls))
	}
	if calls[0] == calls[1] {
		t.Fatal("retry must use a refreshed URL")
	}
	if url != calls[1] {
		t.Fatalf("expected the refreshed URL, got %s", url)
	}
	if client.signCalls != 2 {
		t.Fatalf("expected exactly one extra mint, got %d total", client.signCalls)
	}
}

func TestLoader_SecondFailureIsTerminal(t *testing.T) {
	client := &fakeStorage{}
	r := newResolver(client)
	var calls []string
	probe := func(ctx context.Context, url string) error {
		calls = append(calls, url)
		return errors.New("always failing")
	}
	l := storage.NewLoader(r, client, probe, "chat-media")

	if _, err := l.Load(context.Background(), "a/b.jpg"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected exactly two probes (original + one retry), got %d", len(calls))
	}

	// A later Load on the same loader must not retry again.
	calls = nil
	if _, err := l.Load(context.Background(), "a/b.jpg"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("retry budget must not reset, got %d probes", len(calls))
	}
}

func TestLoader_PublicURLFailureIsTerminal(t *testing.T) {
	client := &fakeStorage{signErr: errors.New("signing down")}
	r := newResolver(client)
	var calls []string
	probe := func(ctx context.Context, url string) error {
		calls = append(calls, url)
		return errors.New("404")
	}
	l := storage.NewLoader(r, client, probe, "chat-media")

	if _, err := l.Load(context.Background(), "a/b.jpg"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// Already on the public fallback URL; no refresh can help.
	if len(calls) != 1 {
		t.Fatalf("expected a single probe of the public URL, got %d", len(calls))
	}
}

func TestLoader_ExternalURL(t *testing.T) {
	client := &fakeStorage{}
	r := newResolver(client)
	var calls []string
	l := storage.NewLoader(r, client, failNProbe(0, &calls), "chat-media")

	url, err := l.Load(context.Background(), "https://cdn.example/x.png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if url != "https://cdn.example/x.png" {
		t.Fatalf("expected passthrough, got %s", url)
	}

	// External failures are terminal immediately.
	failing := storage.NewLoader(r, client, func(ctx context.Context, u string) error {
		return errors.New("down")
	}, "chat-media")
	if _, err := failing.Load(context.Background(), "https://cdn.example/x.png"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
