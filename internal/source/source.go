// Package source fetches raw notification records.
//
// Drivers:
//   - "http": GET <base_url><path>; the body is a JSON object or array
//   - "sqlite": local database, rows flagged is_sent once fetched
//   - "postgres": same as sqlite, schema managed by Migrate
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/notice"
	logx "relaybot/pkg/logx"
)

// ErrUnavailable wraps every fetch failure: network, timeout, bad status,
// malformed body or a database error.
var ErrUnavailable = errors.New("source unavailable")

const (
	DriverHTTP     = "http"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultPath    = "/api/notifications"
	DefaultTimeout = 30 * time.Second
)

// Source yields the records currently outstanding, in source order.
type Source interface {
	Fetch(ctx context.Context) ([]notice.Raw, error)
	Close() error
}

// Peeker is implemented by sources whose Fetch consumes records. Peek
// returns the same records and leaves them outstanding.
type Peeker interface {
	Peek(ctx context.Context) ([]notice.Raw, error)
}

// ReadOnly returns a view of src whose Fetch never consumes records.
// Sources that do not consume on Fetch are returned as is.
func ReadOnly(src Source) Source {
	if p, ok := src.(Peeker); ok {
		return readOnly{Source: src, peek: p}
	}
	return src
}

type readOnly struct {
	Source
	peek Peeker
}

func (r readOnly) Fetch(ctx context.Context) ([]notice.Raw, error) { return r.peek.Peek(ctx) }

type Config struct {
	Driver  string
	BaseURL string
	Path    string
	Timeout time.Duration

	DSN         string
	MaxConns    int32
	BusyTimeout time.Duration
}

// Open initializes the configured source. The database drivers connect
// eagerly so a bad DSN fails at startup.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "source"), logx.String("driver", driver))

	var (
		src Source
		err error
	)
	switch driver {
	case "", DriverHTTP:
		src, err = NewHTTP(cfg, log)
	case DriverSQLite, "sqlite3":
		src, err = openSQLite(ctx, cfg, log)
	case DriverPostgres, "postgresql", "pgx":
		src, err = openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown source driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
