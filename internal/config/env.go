package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment overrides. Secrets usually arrive this way rather than in the file.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvChatID        = "RELAY_CHAT_ID"
	EnvSourceURL     = "RELAY_SOURCE_URL"
	EnvSourceDSN     = "RELAY_SOURCE_DSN"
	EnvInterval      = "RELAY_INTERVAL"
	EnvLogLevel      = "RELAY_LOG_LEVEL"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvChatID, v, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvSourceURL); ok {
		cfg.Source.BaseURL = v
		if cfg.Source.Driver == "" {
			cfg.Source.Driver = "http"
		}
	}
	if v, ok := get(EnvSourceDSN); ok {
		cfg.Source.DSN = v
	}
	if v, ok := get(EnvInterval); ok {
		cfg.Relay.Interval = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}
