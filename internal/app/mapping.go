package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/notice"
	"relaybot/internal/observability/opsserver"
	"relaybot/internal/relay"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	sc := cfg.Source
	timeout, err := config.ParseDurationOrDefault("source.timeout", sc.Timeout, source.DefaultTimeout)
	if err != nil {
		return source.Config{}, err
	}
	busy, err := config.ParseDurationField("source.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		Driver:      config.SourceDriver(sc),
		BaseURL:     sc.BaseURL,
		Path:        sc.Path,
		Timeout:     timeout,
		DSN:         sc.DSN,
		MaxConns:    sc.MaxConns,
		BusyTimeout: busy,
	}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, relay.ParsedSchedule, error) {
	rc := cfg.Relay
	sched, err := relay.ParseSchedule(rc.Interval)
	if err != nil {
		return relay.Config{}, relay.ParsedSchedule{}, fmt.Errorf("relay.interval: %w", err)
	}
	fetchTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, relay.DefaultFetchTimeout)
	if err != nil {
		return relay.Config{}, relay.ParsedSchedule{}, err
	}
	deliveryTimeout, err := config.ParseDurationOrDefault("relay.delivery_timeout", rc.DeliveryTimeout, relay.DefaultDeliveryTimeout)
	if err != nil {
		return relay.Config{}, relay.ParsedSchedule{}, err
	}
	loc := notice.DisplayZone
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return relay.Config{}, relay.ParsedSchedule{}, fmt.Errorf("relay.timezone: %w", err)
		}
		loc = l
	}
	return relay.Config{
		FetchTimeout:    fetchTimeout,
		DeliveryTimeout: deliveryTimeout,
		RatePerSec:      rc.RatePerSec,
		DedupCapacity:   rc.DedupCapacity,
		DedupRetain:     rc.DedupRetain,
		Location:        loc,
		Formatter: notice.Formatter{
			ParseMode:    normalizeParseMode(cfg.Telegram.ParseMode),
			CommentLimit: rc.CommentLimit,
		},
		ManualDedup: rc.ManualDedup,
	}, sched, nil
}

func normalizeParseMode(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), notice.ParseModeHTML) {
		return notice.ParseModeHTML
	}
	return ""
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapOpsConfig(cfg *config.Config) opsserver.Config {
	oc := cfg.Ops
	return opsserver.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
}

// validate is installed as the config manager validator: a reload that the
// relay could not apply is rejected before it is published.
func validate(cfg *config.Config) error {
	if _, err := mapSourceConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	return nil
}
