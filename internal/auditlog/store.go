// Package auditlog records the outcome of every gateway invocation in SQLite.
// Only metadata is stored: route, target, outcome kind, status and duration.
// Request bodies, target output and conversation text never reach the log.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded invocation outcome.
type Entry struct {
	ID         int64
	RequestID  string
	Route      string
	Method     string
	Target     string
	Kind       string
	Status     int
	DurationMs int64
	CreatedAt  time.Time
}

// KindCount aggregates entries by outcome kind.
type KindCount struct {
	Kind          string
	Count         int64
	AvgDurationMs float64
}

// Store is an SQLite-backed audit log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Record appends one entry. A zero CreatedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (request_id, route, method, target, kind, status, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Route, e.Method, e.Target, e.Kind, e.Status, e.DurationMs, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, route, method, target, kind, status, duration_ms, created_at
		 FROM invocations ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Route, &e.Method, &e.Target,
			&e.Kind, &e.Status, &e.DurationMs, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary counts entries recorded at or after since, grouped by kind.
func (s *Store) Summary(ctx context.Context, since time.Time) ([]KindCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), AVG(duration_ms)
		 FROM invocations WHERE created_at >= ?
		 GROUP BY kind ORDER BY COUNT(*) DESC, kind`, since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KindCount
	for rows.Next() {
		var kc KindCount
		if err := rows.Scan(&kc.Kind, &kc.Count, &kc.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("audit log pruned", "removed", n)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
