package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"postpilot/internal/store"
)

// Mock is the explicit offline publisher. It accepts every post with a
// deterministic platform id derived from the post, so repeated runs produce
// stable output. FailEveryN (0 = never) makes every Nth call fail, which is
// how offline setups exercise the retry path on purpose.
type Mock struct {
	Platform   string
	Delay      time.Duration
	FailEveryN int

	mu    sync.Mutex
	calls int
}

func NewMock(platform string) *Mock {
	return &Mock{Platform: platform, Delay: 50 * time.Millisecond}
}

func (m *Mock) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	_ = token // offline mode accepts missing credentials

	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	if m.FailEveryN > 0 && n%m.FailEveryN == 0 {
		return Result{}, fmt.Errorf("mock %s: simulated delivery failure", m.Platform)
	}

	raw, _ := json.Marshal(map[string]int64{"posted_at": time.Now().UnixMilli()})
	return Result{
		PlatformID: fmt.Sprintf("mock-%s-%s", m.Platform, p.ID),
		Raw:        raw,
	}, nil
}
