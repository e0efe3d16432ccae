package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/coastwise/swath/pkg/core"
)

func init() {
	Register("sqlite", func(cfg Config, logger *slog.Logger) (Backend, error) {
		return NewSQLite(cfg.Path, logger)
	})
}

const recordSchema = `
CREATE TABLE IF NOT EXISTS records (
	container TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	chunk     INTEGER NOT NULL,
	payload   BLOB,
	PRIMARY KEY (container, ts, seq)
);
CREATE INDEX IF NOT EXISTS idx_records_chunk ON records (container, chunk);

CREATE TABLE IF NOT EXISTS chunk_spans (
	container TEXT PRIMARY KEY,
	span_ns   INTEGER NOT NULL
);
`

// SQLite is the file-backed record store.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) a record database. Path ":memory:"
// gives an ephemeral store.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite storage path not specified")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	// The modernc driver serializes poorly across connections for writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize record store schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) spanFor(ctx context.Context, container string) (time.Duration, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT span_ns FROM chunk_spans WHERE container = ?`, container).Scan(&ns)
	if err == sql.ErrNoRows {
		return DefaultChunkSpan, nil
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

func (s *SQLite) Write(ctx context.Context, container string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	span, err := s.spanFor(ctx, container)
	if err != nil {
		return fmt.Errorf("resolve chunk span: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (container, ts, seq, chunk, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (container, ts, seq) DO UPDATE SET
			chunk = excluded.chunk, payload = excluded.payload`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		ns := r.Time.UnixNano()
		if _, err := stmt.ExecContext(ctx, container, ns, r.Seq, chunkKey(r.Time, span), r.Payload); err != nil {
			return fmt.Errorf("write record %s/%d: %w", container, r.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Read(ctx context.Context, container string, tr core.TimeRange) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, seq, payload FROM records
		WHERE container = ? AND ts >= ? AND ts < ?
		ORDER BY ts, seq`,
		container, tr.Start.UnixNano(), tr.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var ns int64
		var r Record
		if err := rows.Scan(&ns, &r.Seq, &r.Payload); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Resize(ctx context.Context, container string, span time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_spans (container, span_ns) VALUES (?, ?)
		ON CONFLICT (container) DO UPDATE SET span_ns = excluded.span_ns`,
		container, int64(span)); err != nil {
		return fmt.Errorf("store chunk span: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET chunk = ts / ? WHERE container = ?`,
		int64(span), container); err != nil {
		return fmt.Errorf("rechunk records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("container rechunked", "container", container, "span", span)
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
