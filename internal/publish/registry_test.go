package publish

import (
	"context"
	"testing"
	"time"

	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

func TestRegistryUnknownPlatform(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logx.Nop(), 0)
	_, err := reg.Publish(context.Background(), "nowhere", store.Post{ID: "p1"}, "tok")
	if err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestRegistryPlatforms(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logx.Nop(), 0)
	reg.Register("twitter", NewMock("twitter"))
	reg.Register("mastodon", NewMock("mastodon"))

	got := reg.Platforms()
	if len(got) != 2 {
		t.Fatalf("Platforms() = %v, want two entries", got)
	}
}

func TestMockDeterministicID(t *testing.T) {
	t.Parallel()
	m := NewMock("twitter")
	m.Delay = 0

	p := store.Post{ID: "abc123", Text: "hi"}
	r1, err := m.Publish(context.Background(), p, "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r2, err := m.Publish(context.Background(), p, "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := "mock-twitter-abc123"
	if r1.PlatformID != want || r2.PlatformID != want {
		t.Fatalf("platform ids = %q / %q, want %q", r1.PlatformID, r2.PlatformID, want)
	}
}

func TestMockFailEveryN(t *testing.T) {
	t.Parallel()
	m := NewMock("twitter")
	m.Delay = 0
	m.FailEveryN = 3

	var failures int
	for i := 0; i < 9; i++ {
		if _, err := m.Publish(context.Background(), store.Post{ID: "p"}, ""); err != nil {
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("failures = %d, want every third call (3)", failures)
	}
}

func TestMockRespectsContext(t *testing.T) {
	t.Parallel()
	m := NewMock("twitter")
	m.Delay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Publish(ctx, store.Post{ID: "p"}, ""); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRegistryRateLimitWaits(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logx.Nop(), 60) // one token per second, burst 1
	m := NewMock("twitter")
	m.Delay = 0
	reg.Register("twitter", m)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := reg.Publish(ctx, "twitter", store.Post{ID: "p"}, ""); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("two publishes took %v, want the second to wait for the limiter", elapsed)
	}
}
