package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"postpilot/internal/deliver"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// DefaultSpec runs the promotion tick every minute.
const DefaultSpec = "* * * * *"

// Config controls the due-post promotion tick.
type Config struct {
	Enabled bool
	Spec    string

	// MaxConcurrent caps concurrent dispatched executions. 0 means a
	// conservative default. The cap throttles the dispatched goroutines,
	// never the tick itself.
	MaxConcurrent int
}

// Service promotes due posts and hands them to the executor.
//
// A tick computes the due set, flips every member to queued in one batch,
// and only then dispatches. Flipping first removes the posts from the next
// tick's selection set, so a slow delivery can never be dispatched twice.
type Service struct {
	mu sync.Mutex

	cfg  Config
	st   store.Store
	exec *deliver.Executor
	log  logx.Logger
	now  func() time.Time

	parser cron.Parser
	c      *cron.Cron
	sup    *supervisor.Supervisor
	sem    *semaphore.Weighted

	running bool
}

func New(cfg Config, st store.Store, exec *deliver.Executor, log logx.Logger) *Service {
	max := cfg.MaxConcurrent
	if max <= 0 {
		max = 8
	}
	return &Service{
		cfg:    cfg,
		st:     st,
		exec:   exec,
		log:    log,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		sem:    semaphore.NewWeighted(int64(max)),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start registers the cron job and begins ticking. Ticks run until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	spec := s.cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.c = cron.New(cron.WithParser(s.parser))
	if _, err := s.c.AddFunc(spec, func() { s.Tick(s.sup.Context()) }); err != nil {
		return err
	}
	s.c.Start()
	s.running = true
	s.log.Info("scheduler started", logx.String("spec", spec))
	return nil
}

// Stop halts the cron loop and waits for in-flight dispatches.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()

	<-c.Stop().Done()
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("scheduler stop", logx.Err(err))
	}
	s.log.Info("scheduler stopped")
}

// Tick promotes every due post to queued and dispatches it for delivery.
// Errors are logged and the next cadence runs regardless.
func (s *Service) Tick(ctx context.Context) {
	due, err := s.st.DuePosts(ctx, s.now().UnixMilli())
	if err != nil {
		s.log.Error("scan due posts", logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}

	ids := make([]string, len(due))
	for i, p := range due {
		ids[i] = p.ID
	}
	if err := s.st.MarkQueued(ctx, ids); err != nil {
		s.log.Error("mark queued", logx.Int("posts", len(ids)), logx.Err(err))
		return
	}
	s.log.Info("promoted due posts", logx.Int("count", len(ids)))

	sup := s.dispatchSup()
	if sup == nil {
		// Not started (manual tick). Run deliveries inline.
		for _, id := range ids {
			if res := s.exec.Execute(ctx, id); res.Err != nil {
				s.log.Warn("delivery failed", logx.String("post", id), logx.Err(res.Err))
			}
		}
		return
	}
	for _, id := range ids {
		id := id
		sup.Go0("deliver:"+id, func(ctx context.Context) {
			// Acquire inside the goroutine so a full semaphore delays this
			// delivery, not the tick or its sibling dispatches.
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)
			res := s.exec.Execute(ctx, id)
			if res.Err != nil {
				s.log.Warn("dispatched delivery failed", logx.String("post", id), logx.Err(res.Err))
			}
		})
	}
}

func (s *Service) dispatchSup() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}
