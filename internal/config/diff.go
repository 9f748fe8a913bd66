package config

import (
	"strings"

	"relaybot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections together with safe
// log fields. Tokens and DSNs are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || ot.ParseMode != nt.ParseMode {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.chat_id_set", nt.ChatID != 0),
			logx.String("telegram.parse_mode", nt.ParseMode),
		)
	}

	osrc, nsrc := oldCfg.Source, newCfg.Source
	if SourceDriver(osrc) != SourceDriver(nsrc) || osrc.BaseURL != nsrc.BaseURL || osrc.Path != nsrc.Path ||
		osrc.Timeout != nsrc.Timeout || osrc.DSN != nsrc.DSN || osrc.MaxConns != nsrc.MaxConns || osrc.BusyTimeout != nsrc.BusyTimeout {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.driver", SourceDriver(nsrc)),
			logx.String("source.base_url", nsrc.BaseURL),
			logx.Bool("source.dsn_changed", osrc.DSN != nsrc.DSN),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.interval", newCfg.Relay.Interval),
			logx.Int("relay.rate_per_sec", newCfg.Relay.RatePerSec),
			logx.Bool("relay.manual_dedup", newCfg.Relay.ManualDedup),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.Token != no.Token || oo.AllowInsecure != no.AllowInsecure || oo.Pprof != no.Pprof {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", no.Token != ""),
		)
	}
	return changed, attrs
}
