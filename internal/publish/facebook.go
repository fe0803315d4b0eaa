package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postpilot/internal/store"
)

// Facebook posts to a page feed via the Graph API. Requires a page id.
type Facebook struct {
	client  *http.Client
	baseURL string
	pageID  string
}

func NewFacebook(pageID string, timeout time.Duration) *Facebook {
	return &Facebook{
		client:  newHTTPClient(timeout),
		baseURL: "https://graph.facebook.com",
		pageID:  pageID,
	}
}

func (f *Facebook) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	if token == "" {
		return Result{}, errors.New("facebook: no access token")
	}
	if f.pageID == "" {
		return Result{}, errors.New("facebook: page_id not configured")
	}

	form := url.Values{}
	form.Set("message", p.Text)
	form.Set("access_token", token)

	endpoint := fmt.Sprintf("%s/%s/feed", f.baseURL, f.pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("facebook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("facebook: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("facebook: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &out)
	id := out.ID
	if id == "" {
		id = fmt.Sprintf("fb-%d", time.Now().UnixMilli())
	}
	return Result{PlatformID: id, Raw: raw}, nil
}
