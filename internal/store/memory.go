package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memStore is a volatile in-process store. A single mutex serializes all
// mutations, so per-record read-modify-write is trivially atomic. Used by
// tests and demo setups.
type memStore struct {
	mu     sync.RWMutex
	posts  map[string]Post
	tokens map[string]Token // keyed by platform
}

func NewMemory() Store {
	return &memStore{
		posts:  map[string]Post{},
		tokens: map[string]Token{},
	}
}

func (s *memStore) Close() error { return nil }

func clonePost(p Post) Post {
	cp := p
	cp.Media = append([]string(nil), p.Media...)
	cp.Platforms = append([]string(nil), p.Platforms...)
	return cp
}

func (s *memStore) CreatePost(ctx context.Context, p *Post) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	s.posts[p.ID] = clonePost(*p)
	return nil
}

func (s *memStore) GetPost(ctx context.Context, id string) (Post, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return clonePost(p), nil
}

func (s *memStore) ListPosts(ctx context.Context) ([]Post, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *memStore) DuePosts(ctx context.Context, now int64) ([]Post, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Post
	for _, p := range s.posts {
		if p.Status == StatusScheduled && p.ScheduledAt <= now {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt < out[j].ScheduledAt })
	return out, nil
}

func (s *memStore) MarkQueued(ctx context.Context, ids []string) error {
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
		s.posts[id] = p
	}
	return nil
}

func (s *memStore) UpdatePost(ctx context.Context, id string, mutate func(*Post) error) (Post, error) {
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
	cp.ID = p.ID // id is immutable
	cp.Version = p.Version + 1
	s.posts[id] = clonePost(cp)
	return cp, nil
}

func (s *memStore) GetToken(ctx context.Context, platform string) (Token, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[platform]
	return t, ok, nil
}

func (s *memStore) ListTokens(ctx context.Context) ([]Token, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) UpsertToken(ctx context.Context, platform string, mutate func(*Token) error) (Token, error) {
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
	s.tokens[platform] = t
	return t, nil
}
