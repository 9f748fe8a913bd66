package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaybot/internal/notice"
	logx "relaybot/pkg/logx"
)

// PostgresSource drains unsent rows from the notifications table created by
// Migrate. Concurrent relays never see the same row (SKIP LOCKED).
type PostgresSource struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*PostgresSource, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("source.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresSource{pool: pool, log: log}, nil
}

// Peek reads unsent rows without locking or flagging them.
func (s *PostgresSource) Peek(ctx context.Context) ([]notice.Raw, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM notifications
		WHERE is_sent = FALSE
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrUnavailable, err)
	}
	out, _, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Fetch returns unsent rows newest first and flags them sent in the same
// transaction.
func (s *PostgresSource) Fetch(ctx context.Context) ([]notice.Raw, error) {
	var out []notice.Raw
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT * FROM notifications
			WHERE is_sent = FALSE
			ORDER BY created_at DESC, id DESC
			FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		var ids []string
		out, ids, err = collectRows(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE notifications SET is_sent = TRUE WHERE id::text = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out) > 0 {
		s.log.Debug("fetched", logx.Int("count", len(out)))
	}
	return out, nil
}

func (s *PostgresSource) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func collectRows(rows pgx.Rows) ([]notice.Raw, []string, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var (
		out []notice.Raw
		ids []string
	)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		raw := make(notice.Raw, len(fields))
		for i, f := range fields {
			raw[f.Name] = vals[i]
		}
		delete(raw, "is_sent")
		if id, ok := raw["id"]; ok && id != nil {
			ids = append(ids, fmt.Sprint(id))
		}
		out = append(out, raw)
	}
	return out, ids, rows.Err()
}
