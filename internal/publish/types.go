package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// Result is what a platform reports back for an accepted post.
type Result struct {
	PlatformID string          `json:"platform_id"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Publisher delivers one post to one platform.
//
// The token is the caller-supplied bearer credential; adapters that require
// auth fail when it is empty, and the executor treats that like any other
// delivery failure.
type Publisher interface {
	Publish(ctx context.Context, p store.Post, token string) (Result, error)
}

// Registry maps platform names to publishers and rate-limits outbound calls
// per platform.
type Registry struct {
	mu       sync.RWMutex
	pubs     map[string]Publisher
	limiters map[string]*rate.Limiter

	ratePerMin int
	log        logx.Logger
}

func NewRegistry(log logx.Logger, ratePerMin int) *Registry {
	return &Registry{
		pubs:       map[string]Publisher{},
		limiters:   map[string]*rate.Limiter{},
		ratePerMin: ratePerMin,
		log:        log,
	}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.mu.Lock()
	r.pubs[platform] = p
	r.mu.Unlock()
}

// Platforms returns the registered platform names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pubs))
	for k := range r.pubs {
		out = append(out, k)
	}
	return out
}

func (r *Registry) limiter(platform string) *rate.Limiter {
	if r.ratePerMin <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.limiters[platform]
	if l == nil {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.ratePerMin)), 1)
		r.limiters[platform] = l
	}
	return l
}

// Publish resolves the platform's publisher and delivers the post, waiting
// for the per-platform rate limiter first.
func (r *Registry) Publish(ctx context.Context, platform string, p store.Post, token string) (Result, error) {
	r.mu.RLock()
	pub := r.pubs[platform]
	r.mu.RUnlock()
	if pub == nil {
		return Result{}, fmt.Errorf("no publisher registered for platform %q", platform)
	}
	if l := r.limiter(platform); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Result{}, err
		}
	}
	res, err := pub.Publish(ctx, p, token)
	if err != nil {
		return Result{}, err
	}
	if !r.log.IsZero() {
		r.log.Debug("publish accepted", logx.String("platform", platform), logx.String("post", p.ID), logx.String("platform_id", res.PlatformID))
	}
	return res, nil
}

// newHTTPClient builds the shared client for live adapters. A zero timeout
// means no per-request timeout, matching the pipeline's documented behavior
// of not cancelling hung deliveries at this layer.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
