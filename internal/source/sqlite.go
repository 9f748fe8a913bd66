package source

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"relaybot/internal/notice"
	logx "relaybot/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteSource drains unsent rows from a local notifications table.
type SQLiteSource struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*SQLiteSource, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, errors.New("source.dsn is required for sqlite driver")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the relay is the only consumer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteSource{db: db, log: log}, nil
}

// DB exposes the handle for producers sharing the file (and tests).
func (s *SQLiteSource) DB() *sql.DB { return s.db }

const sqliteSelectUnsent = `SELECT * FROM notifications WHERE is_sent = 0 ORDER BY created_at DESC, id DESC`

// Fetch returns unsent rows newest first and flags them sent in the same
// transaction, so a row is handed out at most once.
func (s *SQLiteSource) Fetch(ctx context.Context) ([]notice.Raw, error) {
	return s.fetch(ctx, true)
}

// Peek returns unsent rows without flagging them.
func (s *SQLiteSource) Peek(ctx context.Context) ([]notice.Raw, error) {
	return s.fetch(ctx, false)
}

func (s *SQLiteSource) fetch(ctx context.Context, consume bool) ([]notice.Raw, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqliteSelectUnsent)
	if err != nil {
		return nil, unavailable("select: %v", err)
	}
	out, ids, err := scanRows(rows)
	if err != nil {
		return nil, unavailable("scan: %v", err)
	}
	if !consume {
		return out, nil
	}
	if len(ids) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_sent = 1 WHERE CAST(id AS TEXT) IN (`+marks+`)`, ids...); err != nil {
			return nil, unavailable("mark sent: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit: %v", err)
	}
	if len(out) > 0 {
		s.log.Debug("fetched", logx.Int("count", len(out)))
	}
	return out, nil
}

func (s *SQLiteSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scanRows turns each row into a Raw keyed by column name. The is_sent
// bookkeeping column is dropped; ids are returned as text for the update.
func scanRows(rows *sql.Rows) ([]notice.Raw, []any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var (
		out []notice.Raw
		ids []any
	)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		raw := make(notice.Raw, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			raw[c] = v
		}
		delete(raw, "is_sent")
		if id, ok := raw["id"]; ok && id != nil {
			ids = append(ids, fmt.Sprint(id))
		}
		out = append(out, raw)
	}
	return out, ids, rows.Err()
}
