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

// LinkedIn creates a UGC share on behalf of a configured owner URN
// (an organization or member, e.g. urn:li:organization:12345).
type LinkedIn struct {
	client   *http.Client
	baseURL  string
	ownerURN string
}

func NewLinkedIn(ownerURN string, timeout time.Duration) *LinkedIn {
	return &LinkedIn{
		client:   newHTTPClient(timeout),
		baseURL:  "https://api.linkedin.com/v2/ugcPosts",
		ownerURN: ownerURN,
	}
}

func (l *LinkedIn) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	if token == "" {
		return Result{}, errors.New("linkedin: no access token")
	}
	if l.ownerURN == "" {
		return Result{}, errors.New("linkedin: owner_urn not configured")
	}

	body := map[string]any{
		"author":         l.ownerURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": p.Text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("linkedin: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("linkedin: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("linkedin: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &out)
	id := out.ID
	if id == "" {
		id = fmt.Sprintf("li-%d", time.Now().UnixMilli())
	}
	return Result{PlatformID: id, Raw: raw}, nil
}
