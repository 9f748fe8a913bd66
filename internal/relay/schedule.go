package relay

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

const DefaultInterval = 5 * time.Second

type ScheduleKind int

const (
	ScheduleInterval ScheduleKind = iota
	ScheduleCron
)

// ParsedSchedule is a poll schedule string in normalized form.
//
// Supported forms:
//   - Go duration: "5s", "1m30s"
//   - HH:MM interval: "00:05" (five minutes)
//   - cron: "*/30 * * * * *" (seconds optional), "@every 10s", "@hourly"
//
// "cron:" and "every:" prefixes force the interpretation.
type ParsedSchedule struct {
	Kind  ScheduleKind
	Every time.Duration
	Cron  string
}

func (p ParsedSchedule) String() string {
	if p.Kind == ScheduleCron {
		return "cron:" + p.Cron
	}
	return "every:" + p.Every.String()
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses raw; "" means DefaultInterval. Cron expressions are
// checked here so a bad reload never reaches the ticker.
func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{Kind: ScheduleInterval, Every: DefaultInterval}, nil
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}
	return parseInterval(s)
}

func parseCron(expr string) (ParsedSchedule, error) {
	if expr == "" {
		return ParsedSchedule{}, fmt.Errorf("cron schedule required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSchedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return ParsedSchedule{Kind: ScheduleCron, Cron: expr}, nil
}

func parseInterval(v string) (ParsedSchedule, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSchedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return ParsedSchedule{}, fmt.Errorf(
				"invalid schedule %q (use a duration like '5s', HH:MM like '00:05', or cron like '*/30 * * * * *')", v)
		}
	}
	if d < time.Second {
		return ParsedSchedule{}, fmt.Errorf("interval must be >= 1s")
	}
	return ParsedSchedule{Kind: ScheduleInterval, Every: d}, nil
}

func (p ParsedSchedule) schedule() (cron.Schedule, error) {
	if p.Kind == ScheduleCron {
		return cronParser.Parse(p.Cron)
	}
	return cron.Every(p.Every), nil
}

// Ticker fires a callback on a cron schedule. The schedule can be swapped
// while running.
type Ticker struct {
	fire func()
	log  logx.Logger

	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
	cur   ParsedSchedule
}

func NewTicker(fire func(), loc *time.Location, log logx.Logger) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Ticker{
		fire: fire,
		log:  log,
		c:    cron.New(cron.WithParser(cronParser), cron.WithLocation(loc)),
	}
}

// Start installs p and starts the cron runner.
func (t *Ticker) Start(p ParsedSchedule) error {
	if err := t.Reschedule(p); err != nil {
		return err
	}
	t.c.Start()
	return nil
}

// Reschedule replaces the current schedule. Unchanged schedules are a no-op.
func (t *Ticker) Reschedule(p ParsedSchedule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entry != 0 && p == t.cur {
		return nil
	}
	sched, err := p.schedule()
	if err != nil {
		return err
	}
	if t.entry != 0 {
		t.c.Remove(t.entry)
	}
	t.entry = t.c.Schedule(sched, cron.FuncJob(t.fire))
	old := t.cur
	t.cur = p
	if old != (ParsedSchedule{}) {
		t.log.Info("poll schedule changed", logx.String("from", old.String()), logx.String("to", p.String()))
	}
	return nil
}

func (t *Ticker) Current() ParsedSchedule {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Stop halts the runner, waiting for a running callback up to ctx.
func (t *Ticker) Stop(ctx context.Context) {
	select {
	case <-t.c.Stop().Done():
	case <-ctx.Done():
	}
}
