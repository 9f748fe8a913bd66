package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const sampleYAML = `
telegram:
  token: "123:abc"
  parse_mode: HTML
source:
  driver: http
  base_url: http://localhost:3000
relay:
  interval: 30s
  dedup_capacity: 10
  dedup_retain: 5
logging:
  level: debug
  console: true
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.lookup = envFrom(nil)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Source.BaseURL != "http://localhost:3000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Relay.Interval != "30s" || cfg.Relay.DedupRetain != 5 {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"bogus":1}`))
	m.lookup = envFrom(nil)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("Parse() err = %v, want unknown field error", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"x"}}{}`))
	m.lookup = envFrom(nil)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverridesWithoutFile(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.lookup = envFrom(map[string]string{
		EnvTelegramToken: " 42:tok ",
		EnvSourceURL:     "http://api.local",
		EnvChatID:        "-100123",
		EnvInterval:      "10s",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "42:tok" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != -100123 {
		t.Fatalf("chat id = %d", cfg.Telegram.ChatID)
	}
	if cfg.Source.Driver != "http" || cfg.Source.BaseURL != "http://api.local" {
		t.Fatalf("source = %+v", cfg.Source)
	}
	if cfg.Relay.Interval != "10s" {
		t.Fatalf("interval = %q", cfg.Relay.Interval)
	}
}

func TestEnvInvalidChatID(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.lookup = envFrom(map[string]string{EnvChatID: "abc"})
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Source:   SourceConfig{BaseURL: "http://x"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad parse mode", mutate: func(c *Config) { c.Telegram.ParseMode = "MarkdownV3" }, wantErr: "parse_mode"},
		{name: "unknown driver", mutate: func(c *Config) { c.Source.Driver = "redis" }, wantErr: "source.driver"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Source.Driver = "sqlite" }, wantErr: "source.dsn"},
		{name: "postgres alias", mutate: func(c *Config) { c.Source.Driver = "postgresql"; c.Source.DSN = "postgres://x" }},
		{name: "bad timeout", mutate: func(c *Config) { c.Source.Timeout = "soon" }, wantErr: "source.timeout"},
		{name: "retain above capacity", mutate: func(c *Config) { c.Relay.DedupCapacity = 10; c.Relay.DedupRetain = 11 }, wantErr: "dedup_retain"},
		{name: "bad timezone", mutate: func(c *Config) { c.Relay.Timezone = "Mars/Olympus" }, wantErr: "relay.timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.lookup = envFrom(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := context.Background()
	if err := m.Reload(ctx); err != nil {
		t.Fatalf("Reload (unchanged): %v", err)
	}
	select {
	case <-sub:
		t.Fatal("unchanged config should not be published")
	default:
	}

	updated := strings.Replace(sampleYAML, "interval: 30s", "interval: 1m", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Relay.Interval != "1m" {
			t.Fatalf("published interval = %q", cfg.Relay.Interval)
		}
	case <-time.After(time.Second):
		t.Fatal("expected published config")
	}
}

func TestReloadHonoursValidator(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.lookup = envFrom(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return context.DeadlineExceeded
	})
	updated := strings.Replace(sampleYAML, "level: debug", "level: info", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected validator rejection")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "secret-1"}, Source: SourceConfig{DSN: "postgres://u:pw@h/db"}}
	b := &Config{Telegram: TelegramConfig{Token: "secret-2"}, Source: SourceConfig{DSN: "postgres://u:pw2@h/db"}, Relay: RelayConfig{Interval: "1m"}}

	sections, attrs := SummarizeChange(a, b)
	if strings.Join(sections, ",") != "telegram,source,relay" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if s, _ := SummarizeChange(a, a); len(s) != 0 {
		t.Fatalf("identical configs reported changes: %v", s)
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join("..", "..", "config.example.yaml"))
	m.lookup = envFrom(map[string]string{EnvTelegramToken: "1:x"})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if SourceDriver(cfg.Source) != "http" || cfg.Relay.DedupRetain != 500 {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr string
	}{
		{raw: "", want: 7 * time.Second},
		{raw: " 0s ", want: 7 * time.Second},
		{raw: "1m30s", want: 90 * time.Second},
		{raw: "-1s", wantErr: "must not be negative"},
		{raw: "later", wantErr: "invalid duration"},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("relay.delivery_timeout", tt.raw, 7*time.Second)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) || !strings.Contains(err.Error(), "relay.delivery_timeout") {
				t.Fatalf("%q: err = %v, want %q", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
	if d, err := ParseDurationField("source.busy_timeout", ""); err != nil || d != 0 {
		t.Fatalf("unset field = %v, %v", d, err)
	}
}
