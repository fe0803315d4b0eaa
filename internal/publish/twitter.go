package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"postpilot/internal/store"
)

const twitterTweetsURL = "https://api.twitter.com/2/tweets"

// Twitter posts via the v2 tweets endpoint.
type Twitter struct {
	client  *http.Client
	baseURL string
}

func NewTwitter(timeout time.Duration) *Twitter {
	return &Twitter{client: newHTTPClient(timeout), baseURL: twitterTweetsURL}
}

func (t *Twitter) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	if token == "" {
		return Result{}, errors.New("twitter: no access token")
	}

	body, err := json.Marshal(map[string]string{"text": p.Text})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("twitter: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("twitter: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("twitter: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &out)
	id := out.Data.ID
	if id == "" {
		id = fmt.Sprintf("tw-%d", time.Now().UnixMilli())
	}
	return Result{PlatformID: id, Raw: raw}, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
