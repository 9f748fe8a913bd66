// Package relay runs the poll/dispatch loop: fetch outstanding records,
// drop the ones already handed off, render and deliver the rest.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"relaybot/internal/dedup"
	"relaybot/internal/eventbus"
	"relaybot/internal/notice"
	"relaybot/internal/source"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	DefaultFetchTimeout    = 30 * time.Second
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultRatePerSec      = 1

	ReplyStarted = "Бот запущен и готов к работе!"
	ReplyNoNews  = "Нет новых уведомлений."
	ButtonCheck  = "Уведомления"
)

// Keyboard is attached to the /start reply.
var Keyboard = [][]string{{"/start", ButtonCheck}}

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Sender delivers rendered text; transport adapters satisfy it.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Config holds the hot-reloadable knobs. Zero values select defaults.
type Config struct {
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	RatePerSec      int
	DedupCapacity   int
	DedupRetain     int
	Location        *time.Location
	Formatter       notice.Formatter
	// ManualDedup makes manual checks consult and update the tracker.
	ManualDedup bool
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.Location == nil {
		c.Location = notice.DisplayZone
	}
	return c
}

// Report summarizes one pipeline pass.
type Report struct {
	RunID      string
	Fetched    int
	Suppressed int
	Delivered  int
	Failed     int
	// Messages are the rendered texts in fetch order (after dedup).
	Messages []string
}

type intentKind int

const (
	intentRegister intentKind = iota
	intentManual
	intentCheck
)

type intent struct {
	kind     intentKind
	target   transport.ChatTarget
	useDedup bool
	done     chan checkResult
}

type checkResult struct {
	rep Report
	err error
}

// Loop owns the delivery target and the dedup tracker. Both are only
// touched by whoever holds own: the goroutine running Run, or a CheckOnce
// caller while Run is not active. Other goroutines talk to it through intents.
type Loop struct {
	src     source.Source
	send    Sender
	tracker *dedup.Tracker
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	cfg atomic.Pointer[Config]

	intents chan intent
	ticks   chan struct{}
	running atomic.Bool
	own     sync.Mutex

	target     transport.ChatTarget
	targetSnap atomic.Pointer[transport.ChatTarget]
	state      atomic.Int32
}

// New builds a Loop. send may be nil for a render-only loop (CheckOnce).
func New(src source.Source, send Sender, cfg Config, bus eventbus.Bus, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	cfg = cfg.withDefaults()
	l := &Loop{
		src:     src,
		send:    send,
		tracker: dedup.New(cfg.DedupCapacity, cfg.DedupRetain),
		bus:     bus,
		log:     log.With(logx.String("comp", "relay")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		intents: make(chan intent, 16),
		ticks:   make(chan struct{}, 1),
	}
	l.cfg.Store(&cfg)
	l.targetSnap.Store(&transport.ChatTarget{})
	return l
}

// Apply swaps in new settings; the next pass uses them.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	l.cfg.Store(&cfg)
	l.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	l.tracker.Resize(cfg.DedupCapacity, cfg.DedupRetain)
}

func (l *Loop) config() Config { return *l.cfg.Load() }

func (l *Loop) State() State { return State(l.state.Load()) }

// Target returns the registered chat (zero if none).
func (l *Loop) Target() transport.ChatTarget { return *l.targetSnap.Load() }

// Tracker exposes the dedup tracker for inspection.
func (l *Loop) Tracker() *dedup.Tracker { return l.tracker }

// Preset registers a target before Run starts (e.g. from configuration).
func (l *Loop) Preset(t transport.ChatTarget) {
	if l.running.Load() || t.IsZero() {
		return
	}
	l.setTarget(t)
}

func (l *Loop) setTarget(t transport.ChatTarget) {
	l.target = t
	l.targetSnap.Store(&t)
	l.state.Store(int32(StatePolling))
}

// Tick requests a poll. It never blocks: if a tick is already pending the
// request is coalesced into it.
func (l *Loop) Tick() {
	select {
	case l.ticks <- struct{}{}:
	default:
		l.publish(EventTickCoalesced, EventData{})
	}
}

// Register enqueues a RegisterTarget intent.
func (l *Loop) Register(ctx context.Context, t transport.ChatTarget) error {
	return l.enqueue(ctx, intent{kind: intentRegister, target: t})
}

// ManualCheck enqueues a manual check requested from chat `from`.
func (l *Loop) ManualCheck(ctx context.Context, from transport.ChatTarget) error {
	return l.enqueue(ctx, intent{kind: intentManual, target: from})
}

func (l *Loop) enqueue(ctx context.Context, in intent) error {
	select {
	case l.intents <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckOnce runs one pass to the registered target and reports it. With no
// target nothing is sent and ErrTargetUnset is returned with the rendered
// messages. While Run is active the pass is executed by the loop goroutine;
// otherwise it runs here and a Run starting meanwhile waits for it.
func (l *Loop) CheckOnce(ctx context.Context, useDedup bool) (Report, error) {
	if !l.running.Load() && l.own.TryLock() {
		defer l.own.Unlock()
		return l.check(ctx, useDedup)
	}
	done := make(chan checkResult, 1)
	if err := l.enqueue(ctx, intent{kind: intentCheck, useDedup: useDedup, done: done}); err != nil {
		return Report{}, err
	}
	select {
	case r := <-done:
		return r.rep, r.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Run consumes intents and ticks one at a time until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("relay loop already running")
	}
	defer l.running.Store(false)
	l.own.Lock()
	defer l.own.Unlock()

	l.log.Info("relay loop started", logx.String("state", l.State().String()))
	defer l.log.Info("relay loop stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-l.intents:
			l.handle(ctx, in)
		case <-l.ticks:
			l.tick(ctx)
		}
	}
}

func (l *Loop) handle(ctx context.Context, in intent) {
	switch in.kind {
	case intentRegister:
		l.register(ctx, in.target)
	case intentManual:
		l.manual(ctx, in.target)
	case intentCheck:
		rep, err := l.check(ctx, in.useDedup)
		in.done <- checkResult{rep: rep, err: err}
	}
}

func (l *Loop) register(ctx context.Context, t transport.ChatTarget) {
	if t.IsZero() {
		return
	}
	prev := l.target
	l.setTarget(t)
	l.log.Info("target registered",
		logx.Int64("chat_id", t.ChatID),
		logx.Int("thread_id", t.ThreadID),
		logx.Int64("prev_chat_id", prev.ChatID),
	)
	l.publish(EventTargetRegistered, EventData{})
	if l.send == nil {
		return
	}
	if err := l.deliver(ctx, t, ReplyStarted, &transport.SendOptions{Keyboard: Keyboard}); err != nil {
		l.log.Warn("start reply failed", logx.Err(err))
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.publish(EventTick, EventData{})
	if l.target.IsZero() {
		l.log.Debug("target unset, skipping poll")
		return
	}
	rep, err := l.pass(ctx, l.target, true)
	if err != nil {
		return
	}
	if rep.Fetched > 0 {
		l.log.Debug("poll done",
			logx.String("run_id", rep.RunID),
			logx.Int("fetched", rep.Fetched),
			logx.Int("suppressed", rep.Suppressed),
			logx.Int("delivered", rep.Delivered),
			logx.Int("failed", rep.Failed),
		)
	}
}

// manual shows what the source currently has, without touching the tracker
// unless ManualDedup is set. Results go to the registered target, or to the
// requesting chat when none is registered.
func (l *Loop) manual(ctx context.Context, from transport.ChatTarget) {
	l.publish(EventManualCheck, EventData{})
	to := l.target
	if to.IsZero() {
		to = from
	}
	rep, _ := l.pass(ctx, to, l.config().ManualDedup)
	if len(rep.Messages) > 0 || from.IsZero() || l.send == nil {
		return
	}
	if err := l.deliver(ctx, from, ReplyNoNews, nil); err != nil {
		l.log.Warn("manual check reply failed", logx.Err(err))
	}
}

func (l *Loop) check(ctx context.Context, useDedup bool) (Report, error) {
	to := l.target
	if l.send == nil {
		to = transport.ChatTarget{}
	}
	rep, err := l.pass(ctx, to, useDedup)
	if err != nil {
		return rep, err
	}
	if to.IsZero() {
		return rep, ErrTargetUnset
	}
	return rep, nil
}

// pass is the fetch -> normalize -> dedup -> format -> deliver pipeline.
// A zero `to` renders without sending.
func (l *Loop) pass(ctx context.Context, to transport.ChatTarget, useDedup bool) (Report, error) {
	cfg := l.config()
	rep := Report{RunID: uuid.NewString()}
	log := l.log.With(logx.String("run_id", rep.RunID))

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	raws, err := l.src.Fetch(fctx)
	cancel()
	if err != nil {
		log.Warn("fetch failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		l.publish(EventFetchFailed, EventData{RunID: rep.RunID, Took: time.Since(start), Err: err})
		return rep, err
	}
	rep.Fetched = len(raws)
	l.publish(EventFetched, EventData{RunID: rep.RunID, Count: len(raws), Took: time.Since(start)})

	type outgoing struct {
		id, kind, text string
	}
	out := make([]outgoing, 0, len(raws))
	for _, raw := range raws {
		n := notice.Normalize(raw, cfg.Location)
		// The id is recorded before the send: a failed delivery is not retried.
		if useDedup && !l.tracker.IsNew(n.ID) {
			rep.Suppressed++
			continue
		}
		text := cfg.Formatter.Format(n)
		rep.Messages = append(rep.Messages, text)
		out = append(out, outgoing{id: n.ID, kind: n.Kind.String(), text: text})
	}
	if rep.Suppressed > 0 {
		l.publish(EventSuppressed, EventData{RunID: rep.RunID, Count: rep.Suppressed})
	}
	if to.IsZero() || l.send == nil || len(out) == 0 {
		return rep, nil
	}

	prev := l.state.Swap(int32(StateDispatching))
	defer l.state.Store(prev)

	opt := &transport.SendOptions{ParseMode: cfg.Formatter.ParseMode, DisablePreview: true}
	for _, o := range out {
		if ctx.Err() != nil {
			break
		}
		sendStart := time.Now()
		if err := l.deliver(ctx, to, o.text, opt); err != nil {
			rep.Failed++
			log.Error("delivery failed", logx.String("id", o.id), logx.String("kind", o.kind), logx.Err(err))
			l.publish(EventDeliveryFailed, EventData{RunID: rep.RunID, Kind: o.kind, Err: err})
			continue
		}
		rep.Delivered++
		l.publish(EventDelivered, EventData{RunID: rep.RunID, Kind: o.kind, Took: time.Since(sendStart)})
	}
	return rep, nil
}

// deliver paces and bounds a single send.
func (l *Loop) deliver(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	sctx, cancel := context.WithTimeout(ctx, l.config().DeliveryTimeout)
	defer cancel()
	if _, err := l.send.SendText(sctx, to, text, opt); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}
