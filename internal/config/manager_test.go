package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
storage:
  driver: sqlite
  path: ./data/posts.db
scheduler:
  enabled: true
  spec: "* * * * *"
  max_concurrent: 4
retry:
  max_attempts: 3
  base_delay: 1s
  multiplier: 2
token:
  refresh_window: 60s
  offline: true
platforms:
  offline: true
  rate_per_min: 30
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.MaxConcurrent != 4 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Retry.BaseDelay != "1s" || cfg.Retry.Multiplier != 2 {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if !cfg.Token.Offline || cfg.Token.RefreshWindow != "60s" {
		t.Fatalf("token = %+v", cfg.Token)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"logging":{"console":true},"storage":{"driver":"memory"},"scheduler":{"enabled":false}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  console: true
schedluer:
  enabled: true
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestParseEndpointMap(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  console: true
storage:
  driver: memory
scheduler:
  enabled: false
token:
  offline: false
  endpoints:
    mastodon:
      token_url: https://mastodon.example/oauth/token
      client_id: abc
      client_secret: shh
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ep, ok := cfg.Token.Endpoints["mastodon"]
	if !ok || ep.TokenURL != "https://mastodon.example/oauth/token" || ep.ClientID != "abc" {
		t.Fatalf("endpoints = %+v", cfg.Token.Endpoints)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"soon", 0, true},
		{"-5s", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = (%v, %v), want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("test.field", "", 42*time.Second)
	if err != nil || got != 42*time.Second {
		t.Fatalf("empty value: (%v, %v), want default", got, err)
	}
	got, err = ParseDurationOrDefault("test.field", "10s", 42*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("explicit value: (%v, %v)", got, err)
	}
}

func TestSubscribeDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected the newest config after overflow")
		}
	default:
		t.Fatal("no config delivered")
	}
}
