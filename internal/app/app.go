// Package app wires configuration, logging, the Telegram adapter, the
// notification source and the relay loop into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/metrics"
	"relaybot/internal/observability/opsserver"
	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/source"
	"relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	src     source.Source
	loop    *relay.Loop
	router  *relay.Router
	ticker  *relay.Ticker
	sched   relay.ParsedSchedule

	reg     *prometheus.Registry
	metrics *metrics.Metrics
	ops     *opsserver.Service

	updates chan transport.Update
}

// New loads and validates configuration and connects every dependency. Any
// error here is a startup failure.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	src, err := source.Open(ctx, srcCfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("source: %w", err)
	}

	relayCfg, sched, err := mapRelayConfig(cfg)
	if err != nil {
		_ = src.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	loop := relay.New(src, ad, relayCfg, bus, log)
	loop.Preset(transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID})

	reg := prometheus.NewRegistry()
	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		src:     src,
		loop:    loop,
		router:  relay.NewRouter(loop, log),
		ticker:  relay.NewTicker(loop.Tick, relayCfg.Location, log.With(logx.String("comp", "ticker"))),
		sched:   sched,
		reg:     reg,
		metrics: metrics.New(reg),
		updates: make(chan transport.Update, 64),
	}
	a.ops = opsserver.New(mapOpsConfig(cfg), reg, a.status, log)
	return a, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, relay.Commands); err != nil {
		a.log.Warn("menu commands not published", logx.Err(err))
	}
	cancel()

	a.sup.GoRestart("relay.loop", a.loop.Run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)
	a.sup.Go("relay.router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})

	if err := a.ticker.Start(a.sched); err != nil {
		return err
	}
	a.ops.Reconfigure(a.sup.Context(), mapOpsConfig(a.cfgm.Get()))

	if strings.TrimSpace(a.cfgm.Path()) != "" {
		a.sup.Go0("config.watch", func(c context.Context) {
			if err := a.cfgm.Watch(c); err != nil && c.Err() == nil {
				a.log.Warn("config watch stopped", logx.Err(err))
			}
		})
	}
	a.sup.Go0("config.reload", a.reloadLoop)

	target := a.loop.Target()
	a.log.Info("relay started",
		logx.String("schedule", a.sched.String()),
		logx.String("state", a.loop.State().String()),
		logx.Int64("chat_id", target.ChatID),
	)
	sdNotify(a.log, daemon.SdNotifyReady)
	// First poll right away rather than one interval from now.
	a.loop.Tick()
	return nil
}

// reloadLoop applies published configs to the running components. Changes
// to the token or the source need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLogConfig(next))

	relayCfg, sched, err := mapRelayConfig(next)
	if err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(relayCfg)
		if err := a.ticker.Reschedule(sched); err != nil {
			a.log.Warn("schedule not applied", logx.Err(err))
		} else {
			a.sched = sched
		}
	}
	a.ops.Reconfigure(ctx, mapOpsConfig(next))

	if prev.Telegram.Token != next.Telegram.Token || prev.Source != next.Source {
		a.log.Warn("telegram token or source changed; restart required for changes to take effect")
	}
}

func (a *App) Stop(ctx context.Context) error {
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.ticker.Stop(ctx)
	a.ops.Stop(ctx)
	var errs []error
	if err := a.adapter.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.src.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Status is the /healthz body.
type Status struct {
	State      string                    `json:"state"`
	TargetSet  bool                      `json:"target_set"`
	Schedule   string                    `json:"schedule"`
	Tracked    int                       `json:"tracked"`
	Supervisor rtsup.Counters            `json:"supervisor"`
	Goroutines map[string]rtsup.Counters `json:"components,omitempty"`
}

func (a *App) status() any {
	st := Status{
		State:     a.loop.State().String(),
		TargetSet: !a.loop.Target().IsZero(),
		Schedule:  a.ticker.Current().String(),
		Tracked:   a.loop.Tracker().Len(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		st.Goroutines = map[string]rtsup.Counters{"telegram": sup.Counters()}
	}
	return st
}
