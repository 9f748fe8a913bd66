package app

import (
	"context"
	"errors"
	"fmt"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

// loadForTool parses configuration for one-shot commands. The Telegram token
// is not needed there, so full validation is skipped.
func loadForTool(cfgPath string) (*config.Config, error) {
	return config.NewManager(cfgPath).Parse()
}

// Check runs a single manual pass against the configured source and returns
// the rendered messages without sending anything. Database rows stay
// outstanding for the running relay.
func Check(ctx context.Context, cfgPath string, useDedup bool, log logx.Logger) (relay.Report, error) {
	cfg, err := loadForTool(cfgPath)
	if err != nil {
		return relay.Report{}, err
	}
	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return relay.Report{}, err
	}
	relayCfg, _, err := mapRelayConfig(cfg)
	if err != nil {
		return relay.Report{}, err
	}
	src, err := source.Open(ctx, srcCfg, log)
	if err != nil {
		return relay.Report{}, fmt.Errorf("source: %w", err)
	}
	defer src.Close()

	rep, err := relay.New(source.ReadOnly(src), nil, relayCfg, nil, log).CheckOnce(ctx, useDedup)
	if errors.Is(err, relay.ErrTargetUnset) {
		err = nil
	}
	return rep, err
}

// Migrate applies the Postgres source schema.
func Migrate(cfgPath string) (uint, error) {
	cfg, err := loadForTool(cfgPath)
	if err != nil {
		return 0, err
	}
	if config.SourceDriver(cfg.Source) != source.DriverPostgres {
		return 0, fmt.Errorf("migrate: source.driver is %q, want postgres", config.SourceDriver(cfg.Source))
	}
	if cfg.Source.DSN == "" {
		return 0, fmt.Errorf("migrate: source.dsn is empty (or set %s)", config.EnvSourceDSN)
	}
	return source.Migrate(cfg.Source.DSN)
}
