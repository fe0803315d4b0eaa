package publish

import (
	"context"
	"errors"

	mastodon "github.com/mattn/go-mastodon"

	"postpilot/internal/store"
)

// Mastodon posts a status to a configured instance. Clients are cheap, so a
// fresh one is built per call with whatever token the executor passed in;
// that way a token refreshed between attempts is picked up automatically.
type Mastodon struct {
	server string
}

func NewMastodon(server string) *Mastodon {
	return &Mastodon{server: server}
}

func (m *Mastodon) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	if token == "" {
		return Result{}, errors.New("mastodon: no access token")
	}
	if m.server == "" {
		return Result{}, errors.New("mastodon: server not configured")
	}

	c := mastodon.NewClient(&mastodon.Config{
		Server:      m.server,
		AccessToken: token,
	})
	st, err := c.PostStatus(ctx, &mastodon.Toot{Status: p.Text})
	if err != nil {
		return Result{}, err
	}
	return Result{PlatformID: string(st.ID)}, nil
}
