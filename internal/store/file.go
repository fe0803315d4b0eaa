package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	logx "postpilot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only journal of record upserts)
//
// The journal is periodically compacted into the snapshot. All state lives
// in memory behind one mutex, which makes the store a single-writer
// serialization point: per-record read-modify-write cannot interleave.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	posts  map[string]Post
	tokens map[string]Token

	writes int
}

const compactEvery = 200

type fileSnapshot struct {
	Posts  []Post  `json:"posts"`
	Tokens []Token `json:"tokens"`
}

type journalRecord struct {
	Kind  string `json:"kind"` // "post" | "token"
	Post  *Post  `json:"post,omitempty"`
	Token *Token `json:"token,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		posts:        map[string]Post{},
		tokens:       map[string]Token{},
	}
	if err := s.loadSnapshot(snapPath); err != nil {
		return nil, err
	}
	if err := s.replayJournal(journalPath); err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) loadSnapshot(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// A torn snapshot write is recoverable: the journal still has the tail.
		s.log.Warn("storage: snapshot unreadable; starting from journal", logx.String("path", path), logx.Err(err))
		return nil
	}
	for _, p := range snap.Posts {
		s.posts[p.ID] = p
	}
	for _, t := range snap.Tokens {
		s.tokens[t.Platform] = t
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn tail write; everything before it already applied.
			s.log.Warn("storage: skipping corrupt journal line", logx.Err(err))
			continue
		}
		switch {
		case rec.Kind == "post" && rec.Post != nil:
			s.posts[rec.Post.ID] = *rec.Post
		case rec.Kind == "token" && rec.Token != nil:
			s.tokens[rec.Token.Platform] = *rec.Token
		}
	}
	return sc.Err()
}

// appendLocked journals one record and compacts periodically. Caller holds mu.
func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("storage closed")
	}
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("storage: compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{
		Posts:  make([]Post, 0, len(s.posts)),
		Tokens: make([]Token, 0, len(s.tokens)),
	}
	for _, p := range s.posts {
		snap.Posts = append(snap.Posts, p)
	}
	for _, t := range s.tokens {
		snap.Tokens = append(snap.Tokens, t)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Journal content is now folded into the snapshot.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 0)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.compactLocked()
	cerr := s.journalFile.Close()
	s.journalFile = nil
	if err != nil {
		return err
	}
	return cerr
}

func (s *fileStore) CreatePost(ctx context.Context, p *Post) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	cp := clonePost(*p)
	if err := s.appendLocked(journalRecord{Kind: "post", Post: &cp}); err != nil {
		return err
	}
	s.posts[cp.ID] = cp
	return nil
}

func (s *fileStore) GetPost(ctx context.Context, id string) (Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return clonePost(p), nil
}

func (s *fileStore) ListPosts(ctx context.Context) ([]Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *fileStore) DuePosts(ctx context.Context, now int64) ([]Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Post
	for _, p := range s.posts {
		if p.Status == StatusScheduled && p.ScheduledAt <= now {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt < out[j].ScheduledAt })
	return out, nil
}

func (s *fileStore) MarkQueued(ctx context.Context, ids []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		p, ok := s.posts[id]
		if !ok || p.Status != StatusScheduled {
			continue
		}
		p.Status = StatusQueued
		p.Version++
		cp := clonePost(p)
		if err := s.appendLocked(journalRecord{Kind: "post", Post: &cp}); err != nil {
			return err
		}
		s.posts[id] = cp
	}
	return nil
}

func (s *fileStore) UpdatePost(ctx context.Context, id string, mutate func(*Post) error) (Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	cp := clonePost(p)
	if err := mutate(&cp); err != nil {
		return Post{}, err
	}
	cp.ID = p.ID
	cp.Version = p.Version + 1
	rec := clonePost(cp)
	if err := s.appendLocked(journalRecord{Kind: "post", Post: &rec}); err != nil {
		return Post{}, err
	}
	s.posts[id] = rec
	return cp, nil
}

func (s *fileStore) GetToken(ctx context.Context, platform string) (Token, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[platform]
	return t, ok, nil
}

func (s *fileStore) ListTokens(ctx context.Context) ([]Token, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (s *fileStore) UpsertToken(ctx context.Context, platform string, mutate func(*Token) error) (Token, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[platform]
	if !ok {
		t = Token{ID: uuid.NewString(), Platform: platform}
	}
	if err := mutate(&t); err != nil {
		return Token{}, err
	}
	t.Platform = platform
	t.Version++
	rec := t
	if err := s.appendLocked(journalRecord{Kind: "token", Token: &rec}); err != nil {
		return Token{}, err
	}
	s.tokens[platform] = t
	return t, nil
}
