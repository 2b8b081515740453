// Package storage persists the ledger in a local sqlite database.
//
// All mutating operations take the store mutex so writes are serialized
// even when the sqlite driver allows concurrent connections. Every
// mutation is paired with an audit row written in the same transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"commissioni/internal/core"
)

// Store wraps the sqlite handle behind typed ledger operations.
type Store struct {
	db *sql.DB

	// mu serializes mutations; reads go straight to the pool.
	mu sync.Mutex
}

// Open creates the database file (and its directory) if needed, runs
// pending migrations and verifies connectivity.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// dbErr tags an unexpected driver failure so callers can map it to the
// generic "database unavailable" user message while keeping the cause.
func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(core.ErrDatabaseUnavailable, err))
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", s, err)
	}
	return t, nil
}

// appendAudit records a mutation inside the caller's transaction.
func appendAudit(ctx context.Context, tx *sql.Tx, actor int64, action string, targetID int64, detail, traceID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (actor, action, target_id, detail, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		actor, action, targetID, detail, traceID, encodeTime(now))
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

// AuditEntry is a single row of the immutable mutation log.
type AuditEntry struct {
	ID        int64
	Actor     int64
	Action    string
	TargetID  int64
	Detail    string
	TraceID   string
	CreatedAt time.Time
}

// RecentAudit returns the newest audit rows, most recent first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, COALESCE(target_id, 0), detail, trace_id, created_at
		FROM audit_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, dbErr("query audit log", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetID, &e.Detail, &e.TraceID, &created); err != nil {
			return nil, dbErr("scan audit row", err)
		}
		if e.CreatedAt, err = decodeTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastRun reports when the named trigger last fired. The zero time means
// the trigger has never run.
func (s *Store) LastRun(ctx context.Context, name string) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM trigger_runs WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, dbErr("query trigger run", err)
	}
	return decodeTime(raw)
}

func (s *Store) SetLastRun(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_runs (name, last_run) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`,
		name, encodeTime(at))
	if err != nil {
		return dbErr("record trigger run", err)
	}
	return nil
}

// ClearAll wipes every ledger table. The audit trail records the wipe as
// its first entry in the fresh log.
func (s *Store) ClearAll(ctx context.Context, actor int64, traceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin clear", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"commissions", "payouts", "monthly_summaries", "audit_logs",
		"pending_authorizations", "period_state", "trigger_runs", "users",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return dbErr("clear "+table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sqlite_sequence WHERE name IN ('commissions','payouts','monthly_summaries','audit_logs')`); err != nil {
		return dbErr("reset sequences", err)
	}
	if err := appendAudit(ctx, tx, actor, "clear_database", 0, "all tables wiped", traceID, now); err != nil {
		return dbErr("audit clear", err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit clear", err)
	}
	return nil
}
