// Package storage persists key/value settings and rollup reports in SQLite,
// with in-memory twins for tests and for running without a data directory.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"egc/pkg/contracts/domain"
)

// ErrNotFound is returned when a key or report does not exist.
var ErrNotFound = errors.New("not found")

// fixed width so receivedAt sorts as text
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB is a SQLite-backed store.
type DB struct {
	conn *sql.DB
}

// Open creates the parent directory if needed, enables WAL and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// one writer at a time
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping reports whether the database answers.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reports (
  id TEXT PRIMARY KEY,
  receivedAt TEXT NOT NULL,
  totalRows INTEGER NOT NULL,
  fileName TEXT,
  payloadJson TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_receivedAt ON reports(receivedAt);
`

	_, err := d.conn.Exec(schema)
	return err
}

// Get returns the value stored under key or ErrNotFound.
func (d *DB) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) Set(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// List returns every key with the given prefix, sorted.
func (d *DB) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SaveReport stores a received rollup report.
func (d *DB) SaveReport(ctx context.Context, r domain.RollupReport) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}
	var fileName *string
	if r.Payload.FileMeta != nil {
		fileName = &r.Payload.FileMeta.Name
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO reports (id, receivedAt, totalRows, fileName, payloadJson) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ReceivedAt.UTC().Format(tsLayout), r.Payload.TotalRows, fileName, string(payload))
	return err
}

// GetReport loads one report by id.
func (d *DB) GetReport(ctx context.Context, id string) (domain.RollupReport, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT id, receivedAt, payloadJson FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RollupReport{}, ErrNotFound
	}
	return r, err
}

// ListReports returns up to limit reports, newest first.
func (d *DB) ListReports(ctx context.Context, limit int) ([]domain.RollupReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, receivedAt, payloadJson FROM reports ORDER BY receivedAt DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RollupReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (domain.RollupReport, error) {
	var (
		r          domain.RollupReport
		receivedAt string
		payload    string
	)
	if err := s.Scan(&r.ID, &receivedAt, &payload); err != nil {
		return domain.RollupReport{}, err
	}
	t, err := time.Parse(tsLayout, receivedAt)
	if err != nil {
		return domain.RollupReport{}, fmt.Errorf("report %s: bad timestamp %q: %w", r.ID, receivedAt, err)
	}
	r.ReceivedAt = t
	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return domain.RollupReport{}, fmt.Errorf("decode report %s: %w", r.ID, err)
	}
	return r, nil
}
