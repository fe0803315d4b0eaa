package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

// drivers under test. Postgres needs a live server and is covered by the
// same contract in integration environments.
func testStores(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) Store {
			st, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"file": func(t *testing.T) Store {
			st, err := openFile(Config{Path: filepath.Join(t.TempDir(), "posts")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range testStores(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func TestPostRoundTrip(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		p := Post{
			Text:        "hello world",
			Media:       []string{"img1.png"},
			Platforms:   []string{"twitter", "mastodon"},
			Status:      StatusScheduled,
			ScheduledAt: time.Now().UnixMilli(),
			CreatedAt:   time.Now().UnixMilli(),
		}
		if err := st.CreatePost(ctx, &p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
		if p.ID == "" {
			t.Fatal("CreatePost did not assign an id")
		}

		got, err := st.GetPost(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPost: %v", err)
		}
		if got.Text != p.Text || got.Status != StatusScheduled {
			t.Fatalf("round trip mismatch: %+v", got)
		}
		if len(got.Platforms) != 2 || got.Platforms[0] != "twitter" || got.Platforms[1] != "mastodon" {
			t.Fatalf("platform order not preserved: %v", got.Platforms)
		}

		if _, err := st.GetPost(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetPost(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestDuePostsSelection(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UnixMilli()

		due := Post{Text: "due", Platforms: []string{"x"}, Status: StatusScheduled, ScheduledAt: now - 1000}
		future := Post{Text: "future", Platforms: []string{"x"}, Status: StatusScheduled, ScheduledAt: now + 60_000}
		queued := Post{Text: "queued", Platforms: []string{"x"}, Status: StatusQueued, ScheduledAt: now - 1000}
		for _, p := range []*Post{&due, &future, &queued} {
			if err := st.CreatePost(ctx, p); err != nil {
				t.Fatalf("CreatePost: %v", err)
			}
		}

		got, err := st.DuePosts(ctx, now)
		if err != nil {
			t.Fatalf("DuePosts: %v", err)
		}
		if len(got) != 1 || got[0].ID != due.ID {
			t.Fatalf("DuePosts = %+v, want only the due scheduled post", got)
		}
	})
}

func TestMarkQueuedSkipsNonScheduled(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		sched := Post{Text: "a", Platforms: []string{"x"}, Status: StatusScheduled, ScheduledAt: 1}
		posted := Post{Text: "b", Platforms: []string{"x"}, Status: StatusPosted}
		for _, p := range []*Post{&sched, &posted} {
			if err := st.CreatePost(ctx, p); err != nil {
				t.Fatalf("CreatePost: %v", err)
			}
		}

		if err := st.MarkQueued(ctx, []string{sched.ID, posted.ID, "missing"}); err != nil {
			t.Fatalf("MarkQueued: %v", err)
		}

		got1, _ := st.GetPost(ctx, sched.ID)
		if got1.Status != StatusQueued {
			t.Fatalf("scheduled post status = %s, want queued", got1.Status)
		}
		got2, _ := st.GetPost(ctx, posted.ID)
		if got2.Status != StatusPosted {
			t.Fatalf("terminal post was re-queued: %s", got2.Status)
		}
	})
}

func TestUpdatePostAtomicity(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		p := Post{Text: "x", Platforms: []string{"x"}, Status: StatusQueued}
		if err := st.CreatePost(ctx, &p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}

		const writers = 8
		const perWriter = 10
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					_, err := st.UpdatePost(ctx, p.ID, func(cur *Post) error {
						cur.Attempts++
						return nil
					})
					if err != nil {
						t.Errorf("UpdatePost: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got, err := st.GetPost(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPost: %v", err)
		}
		if got.Attempts != writers*perWriter {
			t.Fatalf("attempts = %d, want %d (lost updates)", got.Attempts, writers*perWriter)
		}
	})
}

func TestUpdatePostErrors(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		if _, err := st.UpdatePost(ctx, "missing", func(*Post) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Fatalf("UpdatePost(missing) = %v, want ErrNotFound", err)
		}

		p := Post{Text: "x", Platforms: []string{"x"}, Status: StatusQueued}
		if err := st.CreatePost(ctx, &p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
		boom := errors.New("mutate rejected")
		if _, err := st.UpdatePost(ctx, p.ID, func(*Post) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("mutate error not propagated: %v", err)
		}
		got, _ := st.GetPost(ctx, p.ID)
		if got.Attempts != 0 {
			t.Fatal("aborted update still wrote changes")
		}
	})
}

func TestTokenUpsertSingleRecordPerPlatform(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		if _, ok, err := st.GetToken(ctx, "twitter"); err != nil || ok {
			t.Fatalf("GetToken on empty store = (%v, %v)", ok, err)
		}

		first, err := st.UpsertToken(ctx, "twitter", func(tok *Token) error {
			tok.AccessToken = "a1"
			return nil
		})
		if err != nil {
			t.Fatalf("UpsertToken: %v", err)
		}
		second, err := st.UpsertToken(ctx, "twitter", func(tok *Token) error {
			tok.AccessToken = "a2"
			tok.RefreshToken = "r2"
			return nil
		})
		if err != nil {
			t.Fatalf("UpsertToken: %v", err)
		}
		if second.ID != first.ID {
			t.Fatalf("upsert created a second record: %s vs %s", second.ID, first.ID)
		}
		if second.Version <= first.Version {
			t.Fatalf("version did not advance: %d -> %d", first.Version, second.Version)
		}

		all, err := st.ListTokens(ctx)
		if err != nil {
			t.Fatalf("ListTokens: %v", err)
		}
		if len(all) != 1 || all[0].AccessToken != "a2" || all[0].RefreshToken != "r2" {
			t.Fatalf("ListTokens = %+v, want the single updated record", all)
		}
	})
}

func TestOpenDisabledDriver(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"none", "disabled"} {
		st, err := Open(context.Background(), Config{Driver: driver}, logx.Nop())
		if !errors.Is(err, ErrDisabled) {
			t.Fatalf("Open(%q) err = %v, want ErrDisabled", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store alongside the error", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
