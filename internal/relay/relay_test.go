package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/notice"
	"relaybot/internal/source"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	batch []notice.Raw
	err   error
	calls int
}

func (f *fakeSource) Fetch(ctx context.Context) ([]notice.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) set(batch []notice.Raw, err error) {
	f.mu.Lock()
	f.batch, f.err = batch, err
	f.mu.Unlock()
}

type sent struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	fail func(text string) error
	got  chan struct{}
}

func newSender() *fakeSender { return &fakeSender{got: make(chan struct{}, 64)} }

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(text); err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.mu.Lock()
	f.out = append(f.out, sent{to: to, text: text, opt: opt})
	f.mu.Unlock()
	f.got <- struct{}{}
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.out))
	for _, s := range f.out {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeSender) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
}

var chat = transport.ChatTarget{ChatID: 42}

func fastConfig() Config { return Config{RatePerSec: 1000} }

func newLoop(src source.Source, send Sender) *Loop {
	return New(src, send, fastConfig(), nil, logx.Nop())
}

func TestTickWithoutTargetIsNoop(t *testing.T) {
	t.Parallel()
	src := &fakeSource{batch: []notice.Raw{{"id": "1"}}}
	l := newLoop(src, newSender())
	l.tick(context.Background())
	if src.calls != 0 {
		t.Fatalf("source fetched %d times without a target", src.calls)
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v", l.State())
	}
}

func TestTwoTicksDeliverOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{batch: []notice.Raw{{"id": "9", "name": "Ann", "phone": "1"}}}
	snd := newSender()
	l := newLoop(src, snd)
	l.Preset(chat)

	ctx := context.Background()
	l.tick(ctx)
	l.tick(ctx)

	got := snd.texts()
	if len(got) != 1 || !strings.Contains(got[0], "ID: 9") {
		t.Fatalf("sent = %q", got)
	}
	if !l.Tracker().Seen("9") {
		t.Fatal("id 9 should be tracked")
	}
}

func TestSourceFailureThenRecovery(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"5","name":"Ann","phone":"123","items":[{"name":"Widget","quantity":2,"price":10}],"createdAt":"2025-02-18T14:16:00Z"}]`))
	}))
	defer srv.Close()
	src, err := source.NewHTTP(source.Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	snd := newSender()
	l := newLoop(src, snd)
	l.Preset(chat)

	ctx := context.Background()
	l.tick(ctx)
	if n := len(snd.texts()); n != 0 {
		t.Fatalf("delivered %d on HTTP 500", n)
	}
	if l.State() != StatePolling {
		t.Fatalf("state = %v after failure", l.State())
	}

	fail.Store(false)
	l.tick(ctx)
	got := snd.texts()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	for _, want := range []string{"Widget", "2", "18.02.2025 17:16"} {
		if !strings.Contains(got[0], want) {
			t.Fatalf("message missing %q:\n%s", want, got[0])
		}
	}
}

func TestDeliveryFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	src := &fakeSource{batch: []notice.Raw{{"id": "a"}, {"id": "b"}}}
	snd := newSender()
	snd.fail = func(text string) error {
		if strings.Contains(text, "ID: a") {
			return errors.New("chat not found")
		}
		return nil
	}
	l := newLoop(src, snd)
	l.Preset(chat)

	rep, err := l.pass(context.Background(), chat, true)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Failed != 1 || rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	l.tick(context.Background())
	if n := len(snd.texts()); n != 1 {
		t.Fatalf("sent %d, failed id must not be redelivered", n)
	}
}

func TestDeliverWrapsError(t *testing.T) {
	t.Parallel()
	snd := newSender()
	snd.fail = func(string) error { return errors.New("boom") }
	l := newLoop(&fakeSource{}, snd)
	if err := l.deliver(context.Background(), chat, "x", nil); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckOnceWithoutTarget(t *testing.T) {
	t.Parallel()
	src := &fakeSource{batch: []notice.Raw{{"id": "1", "name": "Bob", "phone": "555"}}}
	l := New(src, nil, fastConfig(), nil, logx.Nop())

	rep, err := l.CheckOnce(context.Background(), false)
	if !errors.Is(err, ErrTargetUnset) {
		t.Fatalf("err = %v", err)
	}
	if len(rep.Messages) != 1 || !strings.Contains(rep.Messages[0], "Bob") {
		t.Fatalf("messages = %q", rep.Messages)
	}
	if l.Tracker().Len() != 0 {
		t.Fatal("useDedup=false must not touch the tracker")
	}

	src.set(nil, source.ErrUnavailable)
	if _, err := l.CheckOnce(context.Background(), false); !errors.Is(err, source.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
	batch   []notice.Raw
}

func (b *blockingSource) Fetch(ctx context.Context) ([]notice.Raw, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.batch, nil
}

func (b *blockingSource) Close() error { return nil }

func TestRunWaitsForDirectCheck(t *testing.T) {
	t.Parallel()
	src := &blockingSource{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		batch:   []notice.Raw{{"id": "1", "name": "Bob"}},
	}
	l := New(src, nil, fastConfig(), nil, logx.Nop())

	checked := make(chan Report, 1)
	go func() {
		rep, _ := l.CheckOnce(context.Background(), true)
		checked <- rep
	}()
	<-src.started

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx) }()

	// Run is live (running set) but must not enter the loop while the
	// direct check still owns the tracker.
	time.Sleep(50 * time.Millisecond)
	l.Preset(chat)
	if !l.Target().IsZero() {
		t.Fatal("Preset should be ignored once Run has started")
	}

	close(src.release)
	select {
	case rep := <-checked:
		if len(rep.Messages) != 1 || !l.Tracker().Seen("1") {
			t.Fatalf("report = %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("direct check did not finish")
	}

	// Now Run owns the loop, so further checks go through it.
	rep, err := l.CheckOnce(context.Background(), true)
	if !errors.Is(err, ErrTargetUnset) || rep.Suppressed != 1 {
		t.Fatalf("check via loop: rep=%+v err=%v", rep, err)
	}
	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRouterRegisterAndManualCheck(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	snd := newSender()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	l := New(src, snd, fastConfig(), bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	updates := make(chan transport.Update, 4)
	r := NewRouter(l, logx.Nop())
	go func() { _ = r.Run(ctx, updates) }()

	msg := func(text string) transport.Update {
		return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 42, ThreadID: 3, Text: text}}
	}

	updates <- msg("/start@relay_bot")
	snd.wait(t, 1)
	snd.mu.Lock()
	first := snd.out[0]
	snd.mu.Unlock()
	if first.text != ReplyStarted || len(first.opt.Keyboard) != 1 || first.opt.Keyboard[0][1] != ButtonCheck {
		t.Fatalf("start reply = %+v", first)
	}
	if got := l.Target(); got != (transport.ChatTarget{ChatID: 42, ThreadID: 3}) {
		t.Fatalf("target = %+v", got)
	}

	updates <- msg(ButtonCheck)
	snd.wait(t, 1)
	if got := snd.texts(); got[len(got)-1] != ReplyNoNews {
		t.Fatalf("manual reply = %q", got[len(got)-1])
	}

	src.set([]notice.Raw{{"id": "1"}}, nil)
	updates <- msg("/notifications")
	updates <- msg("/notifications")
	snd.wait(t, 2)
	if l.Tracker().Len() != 0 {
		t.Fatal("manual checks must not consult the tracker by default")
	}

	updates <- msg("hello")
	deadline := time.After(2 * time.Second)
	var registered bool
	for !registered {
		select {
		case e := <-events:
			registered = e.Type == EventTargetRegistered
		case <-deadline:
			t.Fatal("no target_registered event")
		}
	}
}

func TestTickCoalesces(t *testing.T) {
	t.Parallel()
	l := newLoop(&fakeSource{}, newSender())
	l.Tick()
	l.Tick()
	l.Tick()
	if n := len(l.ticks); n != 1 {
		t.Fatalf("pending ticks = %d, want 1", n)
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/start":                 "start",
		"  /Start@my_bot extra ": "start",
		"/notifications":         "notifications",
		"Уведомления":            "notifications",
		"уведомления please":     "",
		"hello":                  "",
		"/":                      "",
	}
	for in, want := range tests {
		if got := command(in); got != want {
			t.Fatalf("command(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    ParsedSchedule
		wantErr bool
	}{
		{in: "", want: ParsedSchedule{Kind: ScheduleInterval, Every: DefaultInterval}},
		{in: "30s", want: ParsedSchedule{Kind: ScheduleInterval, Every: 30 * time.Second}},
		{in: "00:05", want: ParsedSchedule{Kind: ScheduleInterval, Every: 5 * time.Minute}},
		{in: "every:1m", want: ParsedSchedule{Kind: ScheduleInterval, Every: time.Minute}},
		{in: "*/10 * * * * *", want: ParsedSchedule{Kind: ScheduleCron, Cron: "*/10 * * * * *"}},
		{in: "@every 15s", want: ParsedSchedule{Kind: ScheduleCron, Cron: "@every 15s"}},
		{in: "cron:0 9 * * *", want: ParsedSchedule{Kind: ScheduleCron, Cron: "0 9 * * *"}},
		{in: "100ms", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "cron:61 * * * *", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseSchedule(%q) = %+v, %v; want %+v", tt.in, got, err, tt.want)
		}
	}
}

func TestTickerFiresAndReschedules(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 8)
	tk := NewTicker(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, time.UTC, logx.Nop())
	if err := tk.Start(ParsedSchedule{Kind: ScheduleInterval, Every: time.Second}); err != nil {
		t.Fatal(err)
	}
	defer tk.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("ticker never fired")
	}
	next := ParsedSchedule{Kind: ScheduleInterval, Every: time.Hour}
	if err := tk.Reschedule(next); err != nil {
		t.Fatal(err)
	}
	if tk.Current() != next {
		t.Fatalf("current = %+v", tk.Current())
	}
}
