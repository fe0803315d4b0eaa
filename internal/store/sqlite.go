package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "postpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./postpilot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single conn also
	// serializes read-modify-write cycles, which UpdatePost relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *sqliteStore) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(id, text, media, platforms, status, scheduled_at, attempts, last_error, created_at, version)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Text, marshalList(p.Media), marshalList(p.Platforms), string(p.Status),
		p.ScheduledAt, p.Attempts, nullStr(p.LastError), p.CreatedAt, p.Version,
	)
	return err
}

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	var media, platforms, status string
	var lastErr sql.NullString
	err := row.Scan(&p.ID, &p.Text, &media, &platforms, &status, &p.ScheduledAt, &p.Attempts, &lastErr, &p.CreatedAt, &p.Version)
	if err != nil {
		return Post{}, err
	}
	p.Media = unmarshalList(media)
	p.Platforms = unmarshalList(platforms)
	p.Status = Status(status)
	p.LastError = lastErr.String
	return p, nil
}

const postCols = `id, text, media, platforms, status, scheduled_at, attempts, last_error, created_at, version`

func (s *sqliteStore) GetPost(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListPosts(ctx context.Context) ([]Post, error) {
	return s.queryPosts(ctx, `SELECT `+postCols+` FROM posts ORDER BY created_at`)
}

func (s *sqliteStore) DuePosts(ctx context.Context, now int64) ([]Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postCols+` FROM posts WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at`,
		string(StatusScheduled), now,
	)
}

func (s *sqliteStore) MarkQueued(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		// The status guard keeps the scheduled->queued flip race-free across ticks.
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET status = ?, version = version + 1 WHERE id = ? AND status = ?`,
			string(StatusQueued), id, string(StatusScheduled),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) UpdatePost(ctx context.Context, id string, mutate func(*Post) error) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}

	prev := p.Version
	if err := mutate(&p); err != nil {
		return Post{}, err
	}
	p.ID = id
	p.Version = prev + 1

	res, err := tx.ExecContext(ctx,
		`UPDATE posts SET text=?, media=?, platforms=?, status=?, scheduled_at=?, attempts=?, last_error=?, version=?
		 WHERE id=? AND version=?`,
		p.Text, marshalList(p.Media), marshalList(p.Platforms), string(p.Status),
		p.ScheduledAt, p.Attempts, nullStr(p.LastError), p.Version, id, prev,
	)
	if err != nil {
		return Post{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Cannot happen with a single writer conn, but fail loudly if it does.
		return Post{}, fmt.Errorf("post %s: conditional write conflict", id)
	}
	return p, tx.Commit()
}

func (s *sqliteStore) GetToken(ctx context.Context, platform string) (Token, bool, error) {
	var t Token
	var refresh sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, access_token, refresh_token, expires_at, version FROM tokens WHERE platform = ?`,
		platform,
	).Scan(&t.ID, &t.Platform, &t.AccessToken, &refresh, &t.ExpiresAt, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	t.RefreshToken = refresh.String
	return t, true, nil
}

func (s *sqliteStore) ListTokens(ctx context.Context) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, access_token, refresh_token, expires_at, version FROM tokens ORDER BY platform`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		var t Token
		var refresh sql.NullString
		if err := rows.Scan(&t.ID, &t.Platform, &t.AccessToken, &refresh, &t.ExpiresAt, &t.Version); err != nil {
			return nil, err
		}
		t.RefreshToken = refresh.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertToken(ctx context.Context, platform string, mutate func(*Token) error) (Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Token{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var t Token
	var refresh sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, platform, access_token, refresh_token, expires_at, version FROM tokens WHERE platform = ?`,
		platform,
	).Scan(&t.ID, &t.Platform, &t.AccessToken, &refresh, &t.ExpiresAt, &t.Version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		t = Token{ID: uuid.NewString(), Platform: platform}
	case err != nil:
		return Token{}, err
	default:
		t.RefreshToken = refresh.String
	}

	if err := mutate(&t); err != nil {
		return Token{}, err
	}
	t.Platform = platform
	t.Version++

	// Platform is the primary key, so refresh always replaces in place.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tokens(id, platform, access_token, refresh_token, expires_at, version)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(platform) DO UPDATE SET
		   access_token=excluded.access_token,
		   refresh_token=excluded.refresh_token,
		   expires_at=excluded.expires_at,
		   version=excluded.version`,
		t.ID, t.Platform, t.AccessToken, nullStr(t.RefreshToken), t.ExpiresAt, t.Version,
	)
	if err != nil {
		return Token{}, err
	}
	return t, tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
