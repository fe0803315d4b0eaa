package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "postpilot/pkg/logx"
)

func openFileStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return st
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "posts")

	st := openFileStore(t, path)
	ctx := context.Background()
	p := Post{Text: "persisted", Platforms: []string{"twitter"}, Status: StatusScheduled, ScheduledAt: 123}
	if err := st.CreatePost(ctx, &p); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if _, err := st.UpsertToken(ctx, "twitter", func(tok *Token) error {
		tok.AccessToken = "a1"
		return nil
	}); err != nil {
		t.Fatalf("UpsertToken: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openFileStore(t, path)
	defer st2.Close()

	got, err := st2.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost after reopen: %v", err)
	}
	if got.Text != "persisted" || got.Status != StatusScheduled {
		t.Fatalf("reloaded post = %+v", got)
	}
	tok, ok, err := st2.GetToken(ctx, "twitter")
	if err != nil || !ok || tok.AccessToken != "a1" {
		t.Fatalf("reloaded token = (%+v, %v, %v)", tok, ok, err)
	}
}

func TestFileStoreSkipsCorruptJournalLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "posts")

	st := openFileStore(t, path)
	ctx := context.Background()
	p := Post{Text: "ok", Platforms: []string{"x"}, Status: StatusQueued}
	if err := st.CreatePost(ctx, &p); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a torn append from a crash mid-write.
	jf, err := os.OpenFile(path+".journal.jsonl", os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := jf.WriteString(`{"kind":"post","post":{"id":"torn`); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	_ = jf.Close()

	st2 := openFileStore(t, path)
	defer st2.Close()

	got, err := st2.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost after corrupt tail: %v", err)
	}
	if got.Text != "ok" {
		t.Fatalf("reloaded post = %+v", got)
	}
	if _, err := st2.GetPost(ctx, "torn"); err == nil {
		t.Fatal("corrupt record should not have been loaded")
	}
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "posts")

	st := openFileStore(t, path)
	ctx := context.Background()
	p := Post{Text: "x", Platforms: []string{"x"}, Status: StatusQueued}
	if err := st.CreatePost(ctx, &p); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	for i := 0; i < compactEvery+10; i++ {
		if _, err := st.UpdatePost(ctx, p.ID, func(cur *Post) error {
			cur.Attempts++
			return nil
		}); err != nil {
			t.Fatalf("UpdatePost: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snap, err := os.Stat(path + ".snapshot.json")
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if snap.Size() == 0 {
		t.Fatal("snapshot is empty")
	}

	st2 := openFileStore(t, path)
	defer st2.Close()
	got, err := st2.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost after compaction: %v", err)
	}
	if got.Attempts != compactEvery+10 {
		t.Fatalf("attempts = %d, want %d", got.Attempts, compactEvery+10)
	}
}
