package config

// Config is the root configuration document.
//
// The file may be JSON or YAML; YAML is coerced to JSON before strict
// decoding so unknown fields are rejected in both formats.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry,omitempty"`
	Token     TokenConfig     `json:"token,omitempty"`
	Platforms PlatformsConfig `json:"platforms,omitempty"`
	Planner   PlannerConfig   `json:"planner,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"` // TRACE|DEBUG|INFO|WARN|ERROR
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "postgres": PostgreSQL via DSN
//   - "file": JSON-lines journal + snapshot
//   - "memory": volatile in-process store (tests, demos)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"` // sqlite/file
	DSN         string `json:"dsn,omitempty"`  // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the due-post promotion tick.
//
// Spec is a 5-field cron expression; the default runs every minute.
// MaxConcurrent caps concurrent post executions dispatched by the tick;
// the cap never delays the tick itself, only the dispatched deliveries.
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Spec          string `json:"spec,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
}

// RetryConfig controls per-platform delivery retries.
//
// Defaults (when fields are omitted/zero):
//   - max_attempts: 3
//   - base_delay: "1s"
//   - multiplier: 2
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	Multiplier  int    `json:"multiplier,omitempty"`
}

// TokenConfig controls credential lifecycle behavior.
//
// RefreshWindow is how close to expiry a token may get before a refresh is
// attempted (default "60s"). Offline selects the synthetic credential issuer
// for platforms without a configured token endpoint, so the system runs
// without live provider credentials.
type TokenConfig struct {
	RefreshWindow string                    `json:"refresh_window,omitempty"`
	Offline       bool                      `json:"offline"`
	Endpoints     map[string]EndpointConfig `json:"endpoints,omitempty"`
}

// EndpointConfig is one provider's OAuth2 token endpoint.
type EndpointConfig struct {
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

// PlatformsConfig carries per-platform publishing settings.
//
// Offline selects the mock publisher for every platform (explicit mock mode,
// never an implicit fallback). RatePerMin rate-limits outbound publishes per
// platform; 0 disables limiting.
type PlatformsConfig struct {
	Offline     bool   `json:"offline"`
	RatePerMin  int    `json:"rate_per_min,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"` // 0 = no per-request timeout

	Facebook FacebookConfig `json:"facebook,omitempty"`
	LinkedIn LinkedInConfig `json:"linkedin,omitempty"`
	Mastodon MastodonConfig `json:"mastodon,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type FacebookConfig struct {
	PageID string `json:"page_id,omitempty"`
}

type LinkedInConfig struct {
	OwnerURN string `json:"owner_urn,omitempty"` // e.g. urn:li:organization:12345
}

type MastodonConfig struct {
	Server string `json:"server,omitempty"` // e.g. https://mastodon.social
}

type TelegramConfig struct {
	ChatID int64 `json:"chat_id,omitempty"`
}

// PlannerConfig controls the prompt-based content planner.
// With no APIKey the planner runs in deterministic offline mode.
type PlannerConfig struct {
	APIKey string `json:"api_key,omitempty"`
	Model  string `json:"model,omitempty"`
}

// HTTPConfig controls the management API.
//
// Prefer binding to localhost. If you bind to a non-loopback address,
// set a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}
