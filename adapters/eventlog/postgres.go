package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func init() {
	Register("postgres", func(settings map[string]any) (Log, error) {
		dsn := stringSetting(settings, "dsn", "")
		if dsn == "" {
			return nil, fmt.Errorf("postgres: setting %q is required", "dsn")
		}
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: open: %w", err)
		}
		db.SetMaxOpenConns(intSetting(settings, "pool", 8))
		log := NewPostgres(db)
		log.ownsDB = true
		return log, nil
	})
}

// PostgresLog stores events in a single append-only table, one row per
// event, versioned per stream.
type PostgresLog struct {
	db     *sqlx.DB
	ownsDB bool
}

// NewPostgres wraps an existing database handle. The caller keeps ownership
// of the handle; Shutdown will not close it.
func NewPostgres(db *sqlx.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Initialize(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_events (
			stream      TEXT        NOT NULL,
			version     BIGINT      NOT NULL,
			type        TEXT        NOT NULL,
			payload     BYTEA,
			metadata    JSONB,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (stream, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure events table: %w", err)
	}
	return nil
}

func (l *PostgresLog) Shutdown(context.Context) error {
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}

func (l *PostgresLog) Health(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *PostgresLog) Append(ctx context.Context, stream string, expect int64, events []Event) (int64, error) {
	if stream == "" {
		return 0, fmt.Errorf("eventlog: stream is required")
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	// Postgres rejects FOR UPDATE with aggregates, so lock the head row
	// instead; an empty stream has nothing to lock and starts at 0. The
	// (stream, version) primary key catches concurrent first appends.
	var current int64
	err = tx.GetContext(ctx, &current, `
		SELECT version FROM app_events WHERE stream = $1 ORDER BY version DESC LIMIT 1 FOR UPDATE
	`, stream)
	if err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}

	if expect != ExpectAny && expect != current {
		return current, fmt.Errorf("%w: stream %q at %d, expected %d", ErrVersionConflict, stream, current, expect)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		current++
		metadataJSON, err := json.Marshal(ev.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO app_events (stream, version, type, payload, metadata, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, stream, current, ev.Type, ev.Payload, metadataJSON, now)
		if err != nil {
			return 0, fmt.Errorf("insert event %s@%d: %w", stream, current, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return current, nil
}

func (l *PostgresLog) Read(ctx context.Context, stream string, after int64, limit int) ([]Event, error) {
	query := `
		SELECT stream, version, type, payload, metadata, recorded_at
		FROM app_events
		WHERE stream = $1 AND version > $2
		ORDER BY version
	`
	args := []any{stream, after}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read stream %q: %w", stream, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev          Event
			metadataRaw []byte
		)
		if err := rows.Scan(&ev.Stream, &ev.Version, &ev.Type, &ev.Payload, &metadataRaw, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
