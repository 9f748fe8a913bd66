package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/notice"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

func TestMapRelayConfigDefaults(t *testing.T) {
	t.Parallel()
	rc, sched, err := mapRelayConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapRelayConfig: %v", err)
	}
	if sched.Every != 5*time.Second {
		t.Fatalf("schedule = %v", sched)
	}
	if rc.Location != notice.DisplayZone || rc.Formatter.ParseMode != "" {
		t.Fatalf("relay config = %+v", rc)
	}
}

func TestMapRelayConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{ParseMode: "html"},
		Source:   config.SourceConfig{Timeout: "3s"},
		Relay: config.RelayConfig{
			Interval:        "*/30 * * * * *",
			DeliveryTimeout: "7s",
			Timezone:        "UTC",
			CommentLimit:    50,
			ManualDedup:     true,
		},
	}
	rc, sched, err := mapRelayConfig(cfg)
	if err != nil {
		t.Fatalf("mapRelayConfig: %v", err)
	}
	if sched.Cron != "*/30 * * * * *" {
		t.Fatalf("schedule = %+v", sched)
	}
	if rc.FetchTimeout != 3*time.Second || rc.DeliveryTimeout != 7*time.Second {
		t.Fatalf("timeouts = %v / %v", rc.FetchTimeout, rc.DeliveryTimeout)
	}
	if rc.Location != time.UTC || rc.Formatter.ParseMode != notice.ParseModeHTML || rc.Formatter.CommentLimit != 50 || !rc.ManualDedup {
		t.Fatalf("relay config = %+v", rc)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Relay: config.RelayConfig{Interval: "whenever"}}
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "relay.interval") {
		t.Fatalf("validate = %v", err)
	}
}

func TestMapSourceConfigNormalizesDriver(t *testing.T) {
	t.Parallel()
	sc, err := mapSourceConfig(&config.Config{Source: config.SourceConfig{Driver: "PostgreSQL", DSN: "postgres://x"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "postgres" || sc.Timeout != 30*time.Second {
		t.Fatalf("source config = %+v", sc)
	}
}

func TestCheckRendersWithoutToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"7","name":"Bob","phone":"555"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "source:\n  base_url: " + srv.URL + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	rep, err := Check(context.Background(), path, false, logx.Nop())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Fetched != 1 || len(rep.Messages) != 1 || !strings.Contains(rep.Messages[0], "Bob") {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCheckLeavesDatabaseRowsOutstanding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "notifications.db")

	seed, err := source.Open(ctx, source.Config{Driver: "sqlite", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seed.(*source.SQLiteSource).DB().ExecContext(ctx,
		`INSERT INTO notifications(name, phone) VALUES ('Ann', '123')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("source:\n  driver: sqlite\n  dsn: "+dsn+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep, err := Check(ctx, path, false, logx.Nop())
	if err != nil || len(rep.Messages) != 1 {
		t.Fatalf("Check: messages=%d err=%v", len(rep.Messages), err)
	}

	src, err := source.Open(ctx, source.Config{Driver: "sqlite", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer src.Close()
	left, err := src.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("rows left for the relay = %d, want 1", len(left))
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("source:\n  driver: sqlite\n  dsn: x.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Migrate(path); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("Migrate = %v", err)
	}
}
