package app

import (
	"context"
	"fmt"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/deliver"
	"postpilot/internal/eventbus"
	"postpilot/internal/httpapi"
	"postpilot/internal/planner"
	"postpilot/internal/publish"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/scheduler"
	"postpilot/internal/store"
	"postpilot/internal/token"
	logx "postpilot/pkg/logx"
)

// knownPlatforms is the full adapter set. Offline mode registers a mock for
// each; live mode registers only the platforms with configuration.
var knownPlatforms = []string{"twitter", "facebook", "linkedin", "mastodon", "telegram"}

// App wires configuration, storage, the delivery pipeline and the management
// API into one process.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store

	tokens *token.Service
	reg    *publish.Registry
	exec   *deliver.Executor
	sched  *scheduler.Service
	plan   *planner.Planner
	api    *httpapi.Service
	events *eventMonitor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(context.Background(), store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	tokens, err := buildTokenService(cfg, st, bus, log)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	policy, err := mapRetryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	exec := deliver.NewExecutor(st, reg, tokens, policy, log.With(logx.String("comp", "deliver")), bus)

	sched := scheduler.New(scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Spec:          cfg.Scheduler.Spec,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	}, st, exec, log.With(logx.String("comp", "scheduler")))

	plan := planner.New(planner.Config{
		APIKey: cfg.Planner.APIKey,
		Model:  cfg.Planner.Model,
	}, log.With(logx.String("comp", "planner")))

	api := httpapi.New(httpapi.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    cfg.HTTP.Addr,
		Token:   cfg.HTTP.Token,
	}, log.With(logx.String("comp", "http")), st, exec, tokens, plan)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		tokens:  tokens,
		reg:     reg,
		exec:    exec,
		sched:   sched,
		plan:    plan,
		api:     api,
		events:  newEventMonitor(log.With(logx.String("comp", "events"))),
	}
	api.SetHealth(a.healthSnapshot)
	return a, nil
}

func buildTokenService(cfg *config.Config, st store.Store, bus eventbus.Bus, log logx.Logger) (*token.Service, error) {
	window, err := config.ParseDurationOrDefault("token.refresh_window", cfg.Token.RefreshWindow, token.DefaultRefreshWindow)
	if err != nil {
		return nil, err
	}
	svc := token.NewService(st, log.With(logx.String("comp", "token")),
		token.WithRefreshWindow(window),
		token.WithBus(bus),
	)
	for _, platform := range knownPlatforms {
		if ep, ok := cfg.Token.Endpoints[platform]; ok {
			svc.RegisterIssuer(platform, token.NewOAuthIssuer(token.EndpointConfig{
				TokenURL:     ep.TokenURL,
				ClientID:     ep.ClientID,
				ClientSecret: ep.ClientSecret,
				RedirectURL:  ep.RedirectURL,
			}))
			continue
		}
		if cfg.Token.Offline {
			svc.RegisterIssuer(platform, token.NewOfflineIssuer(platform))
		}
	}
	return svc, nil
}

func buildRegistry(cfg *config.Config, log logx.Logger) (*publish.Registry, error) {
	reg := publish.NewRegistry(log.With(logx.String("comp", "publish")), cfg.Platforms.RatePerMin)

	if cfg.Platforms.Offline {
		for _, platform := range knownPlatforms {
			reg.Register(platform, publish.NewMock(platform))
		}
		return reg, nil
	}

	timeout, err := config.ParseDurationOrDefault("platforms.http_timeout", cfg.Platforms.HTTPTimeout, 0)
	if err != nil {
		return nil, err
	}
	reg.Register("twitter", publish.NewTwitter(timeout))
	if cfg.Platforms.Facebook.PageID != "" {
		reg.Register("facebook", publish.NewFacebook(cfg.Platforms.Facebook.PageID, timeout))
	}
	if cfg.Platforms.LinkedIn.OwnerURN != "" {
		reg.Register("linkedin", publish.NewLinkedIn(cfg.Platforms.LinkedIn.OwnerURN, timeout))
	}
	if cfg.Platforms.Mastodon.Server != "" {
		reg.Register("mastodon", publish.NewMastodon(cfg.Platforms.Mastodon.Server))
	}
	if cfg.Platforms.Telegram.ChatID != 0 {
		reg.Register("telegram", publish.NewTelegram(cfg.Platforms.Telegram.ChatID, timeout))
	}
	return reg, nil
}

func mapRetryPolicy(rc config.RetryConfig) (deliver.Policy, error) {
	base, err := config.ParseDurationOrDefault("retry.base_delay", rc.BaseDelay, 0)
	if err != nil {
		return deliver.Policy{}, err
	}
	return deliver.Policy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   base,
		Multiplier:  rc.Multiplier,
	}.Normalize(), nil
}

func validateConfig(ctx context.Context, cfg *config.Config) error {
	_ = ctx
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if cfg.Retry.Multiplier < 0 {
		return fmt.Errorf("retry.multiplier must be >= 0")
	}
	if cfg.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 0")
	}
	if _, err := config.ParseDurationField("retry.base_delay", cfg.Retry.BaseDelay); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("token.refresh_window", cfg.Token.RefreshWindow); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("platforms.http_timeout", cfg.Platforms.HTTPTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

// Start launches the supervised services. It returns once everything is
// running; fatal errors cancel the supervisor context (see Done/Err).
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("events.monitor", func(ctx context.Context) {
		a.events.run(ctx, a.bus)
	})

	// Hot-reload: logging applies live; pipeline settings need a restart.
	cfgCh := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded")
			}
		}
	})

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
	}
	if a.api.Enabled() {
		if err := a.api.Start(a.sup.Context()); err != nil {
			a.sched.Stop(context.Background())
			a.sup.Cancel()
			return err
		}
	}

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("http", a.api.Enabled()))
	return nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a.sched.Stop(stopCtx)
	a.api.Stop(stopCtx)

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(stopCtx)
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn("close storage", logx.Err(err))
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}

func (a *App) healthSnapshot() map[string]any {
	snap := map[string]any{
		"scheduler": a.sched.Enabled(),
		"platforms": a.reg.Platforms(),
		"events":    a.events.snapshot(),
	}
	if a.sup != nil {
		snap["goroutines"] = a.sup.Counters()
	}
	return snap
}
