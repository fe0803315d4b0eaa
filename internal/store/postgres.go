package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "postpilot/pkg/logx"
)

// pgStore keeps the same record layout as the sqlite driver but relies on
// row-level locking (SELECT ... FOR UPDATE) instead of a single writer conn.
type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS posts (
    id           TEXT PRIMARY KEY,
    text         TEXT NOT NULL,
    media        TEXT[] NOT NULL DEFAULT '{}',
    platforms    TEXT[] NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL,
    scheduled_at BIGINT NOT NULL DEFAULT 0,
    attempts     INT NOT NULL DEFAULT 0,
    last_error   TEXT,
    created_at   BIGINT NOT NULL,
    version      BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_posts_due ON posts(status, scheduled_at);
CREATE TABLE IF NOT EXISTS tokens (
    id            TEXT NOT NULL,
    platform      TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT,
    expires_at    BIGINT NOT NULL DEFAULT 0,
    version       BIGINT NOT NULL DEFAULT 1
);
`

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

const pgPostCols = `id, text, media, platforms, status, scheduled_at, attempts, COALESCE(last_error, ''), created_at, version`

func scanPGPost(row pgx.Row) (Post, error) {
	var p Post
	var status string
	err := row.Scan(&p.ID, &p.Text, &p.Media, &p.Platforms, &status, &p.ScheduledAt, &p.Attempts, &p.LastError, &p.CreatedAt, &p.Version)
	if err != nil {
		return Post{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func (s *pgStore) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts(id, text, media, platforms, status, scheduled_at, attempts, last_error, created_at, version)
		 VALUES($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10)`,
		p.ID, p.Text, p.Media, p.Platforms, string(p.Status), p.ScheduledAt, p.Attempts, p.LastError, p.CreatedAt, p.Version,
	)
	return err
}

func (s *pgStore) GetPost(ctx context.Context, id string) (Post, error) {
	p, err := scanPGPost(s.pool.QueryRow(ctx, `SELECT `+pgPostCols+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

func (s *pgStore) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		p, err := scanPGPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgStore) ListPosts(ctx context.Context) ([]Post, error) {
	return s.queryPosts(ctx, `SELECT `+pgPostCols+` FROM posts ORDER BY created_at`)
}

func (s *pgStore) DuePosts(ctx context.Context, now int64) ([]Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+pgPostCols+` FROM posts WHERE status = $1 AND scheduled_at <= $2 ORDER BY scheduled_at`,
		string(StatusScheduled), now,
	)
}

func (s *pgStore) MarkQueued(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE posts SET status = $1, version = version + 1 WHERE id = ANY($2) AND status = $3`,
		string(StatusQueued), ids, string(StatusScheduled),
	)
	return err
}

func (s *pgStore) UpdatePost(ctx context.Context, id string, mutate func(*Post) error) (Post, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Post{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPGPost(tx.QueryRow(ctx, `SELECT `+pgPostCols+` FROM posts WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = tx.Exec(ctx,
		`UPDATE posts SET text=$1, media=$2, platforms=$3, status=$4, scheduled_at=$5, attempts=$6, last_error=NULLIF($7,''), version=$8
		 WHERE id=$9`,
		p.Text, p.Media, p.Platforms, string(p.Status), p.ScheduledAt, p.Attempts, p.LastError, p.Version, id,
	)
	if err != nil {
		return Post{}, err
	}
	return p, tx.Commit(ctx)
}

func (s *pgStore) GetToken(ctx context.Context, platform string) (Token, bool, error) {
	var t Token
	err := s.pool.QueryRow(ctx,
		`SELECT id, platform, access_token, COALESCE(refresh_token, ''), expires_at, version FROM tokens WHERE platform = $1`,
		platform,
	).Scan(&t.ID, &t.Platform, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	return t, true, nil
}

func (s *pgStore) ListTokens(ctx context.Context) ([]Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, platform, access_token, COALESCE(refresh_token, ''), expires_at, version FROM tokens ORDER BY platform`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.Platform, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.Version); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) UpsertToken(ctx context.Context, platform string, mutate func(*Token) error) (Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Token{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var t Token
	err = tx.QueryRow(ctx,
		`SELECT id, platform, access_token, COALESCE(refresh_token, ''), expires_at, version FROM tokens WHERE platform = $1 FOR UPDATE`,
		platform,
	).Scan(&t.ID, &t.Platform, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		t = Token{ID: uuid.NewString(), Platform: platform}
	} else if err != nil {
		return Token{}, err
	}

	if err := mutate(&t); err != nil {
		return Token{}, err
	}
	t.Platform = platform
	t.Version++

	_, err = tx.Exec(ctx,
		`INSERT INTO tokens(id, platform, access_token, refresh_token, expires_at, version)
		 VALUES($1,$2,$3,NULLIF($4,''),$5,$6)
		 ON CONFLICT(platform) DO UPDATE SET
		   access_token=excluded.access_token,
		   refresh_token=excluded.refresh_token,
		   expires_at=excluded.expires_at,
		   version=excluded.version`,
		t.ID, t.Platform, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Version,
	)
	if err != nil {
		return Token{}, err
	}
	return t, tx.Commit(ctx)
}
