package deliver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/eventbus"
	"postpilot/internal/publish"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// Result is the outcome of one Execute call.
type Result struct {
	Success bool
	Err     error
}

// TokenSource hands out the current credential for a platform.
// The bool is false when no credential exists at all.
type TokenSource interface {
	AccessToken(ctx context.Context, platform string) (string, bool, error)
}

// Executor drives a queued post through delivery to each of its platforms.
//
// It owns the queued -> posted|failed transition. Every status change is
// persisted before the executor proceeds, so a crash mid-run leaves the
// record in the last persisted state rather than an imagined one. Execute
// never panics out; all adapter and store errors become a failure result.
type Executor struct {
	st     store.Store
	reg    *publish.Registry
	tokens TokenSource
	policy Policy
	log    logx.Logger
	bus    eventbus.Bus

	// sleep is the backoff wait, injectable so tests don't take seconds.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(st store.Store, reg *publish.Registry, tokens TokenSource, policy Policy, log logx.Logger, bus eventbus.Bus) *Executor {
	return &Executor{
		st:     st,
		reg:    reg,
		tokens: tokens,
		policy: policy.Normalize(),
		log:    log,
		bus:    bus,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) emit(typ, postID string, extra map[string]any) {
	if e.bus == nil {
		return
	}
	data := map[string]any{"post": postID}
	for k, v := range extra {
		data[k] = v
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Execute delivers the post with the given id to each of its platforms in
// order. A post already in a terminal state is a no-op success. If any
// platform exhausts its retries the post is marked failed and the remaining
// platforms are not attempted.
func (e *Executor) Execute(ctx context.Context, postID string) Result {
	p, err := e.st.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Err: fmt.Errorf("post %s: %w", postID, store.ErrNotFound)}
		}
		e.log.Error("load post", logx.String("post", postID), logx.Err(err))
		return Result{Err: fmt.Errorf("load post %s: %w", postID, err)}
	}

	if p.Status.Terminal() {
		e.log.Debug("post already terminal, skipping",
			logx.String("post", p.ID), logx.String("status", string(p.Status)))
		return Result{Success: true}
	}

	if p.Status != store.StatusQueued {
		p, err = e.st.UpdatePost(ctx, p.ID, func(cur *store.Post) error {
			if cur.Status.Terminal() {
				return fmt.Errorf("post %s already %s", cur.ID, cur.Status)
			}
			cur.Status = store.StatusQueued
			return nil
		})
		if err != nil {
			e.log.Error("mark queued", logx.String("post", postID), logx.Err(err))
			return Result{Err: fmt.Errorf("mark queued: %w", err)}
		}
		e.emit(eventbus.TypePostQueued, p.ID, nil)
	}

	for _, platform := range p.Platforms {
		if err := e.deliver(ctx, &p, platform); err != nil {
			return e.fail(ctx, p.ID, err)
		}
	}

	if _, err := e.st.UpdatePost(ctx, p.ID, func(cur *store.Post) error {
		cur.Status = store.StatusPosted
		cur.LastError = ""
		return nil
	}); err != nil {
		e.log.Error("mark posted", logx.String("post", p.ID), logx.Err(err))
		return Result{Err: fmt.Errorf("mark posted: %w", err)}
	}
	e.emit(eventbus.TypePostPublished, p.ID, map[string]any{"platforms": p.Platforms})
	e.log.Info("post published", logx.String("post", p.ID), logx.Int("platforms", len(p.Platforms)))
	return Result{Success: true}
}

// deliver runs the retry loop for one platform. A nil return means the
// platform accepted the post; a non-nil return is the terminal error after
// retries were exhausted (or the context ended).
func (e *Executor) deliver(ctx context.Context, p *store.Post, platform string) error {
	for attempt := 1; ; attempt++ {
		tok, ok, err := e.tokens.AccessToken(ctx, platform)
		if err == nil && !ok {
			err = fmt.Errorf("no credential for platform %q", platform)
		}

		if err == nil {
			e.emit(eventbus.TypePostAttempt, p.ID, map[string]any{
				"platform": platform,
				"attempt":  attempt,
			})
			var res publish.Result
			res, err = e.reg.Publish(ctx, platform, *p, tok)
			if err == nil {
				e.log.Info("delivered",
					logx.String("post", p.ID),
					logx.String("platform", platform),
					logx.Int("attempt", attempt),
					logx.String("platform_id", res.PlatformID))
				e.bump(ctx, p, "")
				return nil
			}
		}

		e.log.Warn("delivery attempt failed",
			logx.String("post", p.ID),
			logx.String("platform", platform),
			logx.Int("attempt", attempt),
			logx.Err(err))
		e.bump(ctx, p, err.Error())

		d := e.policy.Decide(attempt, err)
		if !d.Retry {
			return d.Err
		}
		if err := e.sleep(ctx, d.After); err != nil {
			return err
		}
	}
}

// bump records one attempt on the post. Attempts is observability only, so a
// store error here is logged and swallowed rather than aborting delivery.
func (e *Executor) bump(ctx context.Context, p *store.Post, lastErr string) {
	updated, err := e.st.UpdatePost(ctx, p.ID, func(cur *store.Post) error {
		cur.Attempts++
		if lastErr != "" {
			cur.LastError = lastErr
		}
		return nil
	})
	if err != nil {
		e.log.Warn("record attempt", logx.String("post", p.ID), logx.Err(err))
		return
	}
	*p = updated
}

func (e *Executor) fail(ctx context.Context, postID string, cause error) Result {
	if _, err := e.st.UpdatePost(ctx, postID, func(cur *store.Post) error {
		cur.Status = store.StatusFailed
		cur.LastError = cause.Error()
		return nil
	}); err != nil {
		e.log.Error("mark failed", logx.String("post", postID), logx.Err(err))
	}
	e.emit(eventbus.TypePostFailed, postID, map[string]any{"error": cause.Error()})
	e.log.Warn("post failed", logx.String("post", postID), logx.Err(cause))
	return Result{Err: cause}
}
