package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for lookups and updates against unknown ids.
	ErrNotFound = errors.New("record not found")

	// ErrDisabled is returned by Open when the driver is "none"; callers
	// that can run stateless check for it with errors.Is.
	ErrDisabled = errors.New("storage disabled")
)

// Status is the post lifecycle state.
//
// Posts only move forward: draft -> scheduled -> queued -> posted|failed.
// The scheduler owns scheduled->queued; the executor owns queued->terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusQueued, StatusPosted, StatusFailed:
		return true
	}
	return false
}

// Post is one unit of content to publish.
//
// Platforms is the attempt order and is never mutated after creation.
// Attempts counts delivery attempts across the post's lifetime; it is
// observability only and never drives control flow.
type Post struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Media       []string `json:"media,omitempty"`
	Platforms   []string `json:"platforms"`
	Status      Status   `json:"status"`
	ScheduledAt int64    `json:"scheduled_at,omitempty"` // epoch ms
	Attempts    int      `json:"attempts"`
	LastError   string   `json:"last_error,omitempty"`
	CreatedAt   int64    `json:"created_at"` // epoch ms

	// Version increments on every persisted mutation (optimistic concurrency).
	Version int64 `json:"version"`
}

// Token is the current credential for one platform.
// At most one live record exists per platform; refresh replaces in place.
type Token struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // epoch ms; 0 = non-expiring

	Version int64 `json:"version"`
}

// Store is the persistence API used by the delivery pipeline.
//
// UpdatePost and UpsertToken are atomic per record: the mutate callback runs
// against the current stored value and the result is written back without a
// concurrent writer being able to interleave. This replaces whole-snapshot
// read/write semantics, which silently lose updates under concurrency.
type Store interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (Post, error)
	ListPosts(ctx context.Context) ([]Post, error)

	// DuePosts returns posts with status "scheduled" and ScheduledAt <= now (epoch ms).
	DuePosts(ctx context.Context, now int64) ([]Post, error)

	// MarkQueued flips the given posts from "scheduled" to "queued" in one
	// batch. Posts no longer in "scheduled" state are skipped, which makes
	// the scheduled->queued transition race-free across overlapping ticks.
	MarkQueued(ctx context.Context, ids []string) error

	// UpdatePost atomically applies mutate to the stored post and persists
	// the result. Returns ErrNotFound for unknown ids; an error from mutate
	// aborts the update.
	UpdatePost(ctx context.Context, id string, mutate func(*Post) error) (Post, error)

	GetToken(ctx context.Context, platform string) (Token, bool, error)
	ListTokens(ctx context.Context) ([]Token, error)

	// UpsertToken atomically applies mutate to the platform's token record,
	// creating it first if absent. The single-record-per-platform invariant
	// is enforced here.
	UpsertToken(ctx context.Context, platform string, mutate func(*Token) error) (Token, error)

	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "postgres": PostgreSQL (DSN)
//   - "file": JSON-lines journal + snapshot
//   - "memory": volatile in-process store
//   - "none": storage disabled; Open returns ErrDisabled
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
