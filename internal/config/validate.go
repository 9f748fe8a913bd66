package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the parts of cfg that do not need other packages.
// Schedule syntax is checked by the relay package via the manager validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Telegram.ParseMode)) {
	case "", "HTML":
	default:
		return fmt.Errorf("telegram.parse_mode: unsupported %q (use \"\" or \"HTML\")", cfg.Telegram.ParseMode)
	}

	switch SourceDriver(cfg.Source) {
	case "http":
		if strings.TrimSpace(cfg.Source.BaseURL) == "" {
			return fmt.Errorf("source.base_url is required for the http driver (or set %s)", EnvSourceURL)
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Source.DSN) == "" {
			return errors.New("source.dsn (database file path) is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Source.DSN) == "" {
			return fmt.Errorf("source.dsn is required for the postgres driver (or set %s)", EnvSourceDSN)
		}
	default:
		return fmt.Errorf("source.driver: unknown %q", cfg.Source.Driver)
	}
	if _, err := ParseDurationField("source.timeout", cfg.Source.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("source.busy_timeout", cfg.Source.BusyTimeout); err != nil {
		return err
	}
	if cfg.Source.MaxConns < 0 {
		return errors.New("source.max_conns must be >= 0")
	}

	r := cfg.Relay
	if _, err := ParseDurationField("relay.delivery_timeout", r.DeliveryTimeout); err != nil {
		return err
	}
	if r.RatePerSec < 0 || r.DedupCapacity < 0 || r.DedupRetain < 0 || r.CommentLimit < 0 {
		return errors.New("relay: numeric settings must be >= 0")
	}
	if r.DedupCapacity > 0 && r.DedupRetain > r.DedupCapacity {
		return errors.New("relay.dedup_retain must not exceed relay.dedup_capacity")
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("relay.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// SourceDriver returns the normalized driver name ("http" when empty).
func SourceDriver(s SourceConfig) string {
	d := strings.ToLower(strings.TrimSpace(s.Driver))
	switch d {
	case "":
		return "http"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pgx":
		return "postgres"
	}
	return d
}

// ParseDurationOrDefault reads a Go duration setting at path. Empty or zero
// selects def; negative values are rejected.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", path, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// ParseDurationField is ParseDurationOrDefault without a default: unset
// reads as zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(path, raw, 0)
}
