package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commissioni/internal/core"
)

// EnsureUser upserts the user row so foreign keys on commissions and
// payouts always resolve.
func (s *Store) EnsureUser(ctx context.Context, id int64, name string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET name = excluded.name`,
		id, name, encodeTime(now))
	if err != nil {
		return dbErr("upsert user", err)
	}
	return nil
}

// IsAuthorized reports whether the user may issue commands. The owner is
// implicitly authorized and never appears in the table.
func (s *Store) IsAuthorized(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM authorized_users WHERE user_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbErr("query authorization", err)
	}
	return true, nil
}

// ApproveUser grants access and removes any pending request in the same
// transaction.
func (s *Store) ApproveUser(ctx context.Context, id, approvedBy int64, now time.Time, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin approve", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO authorized_users (user_id, approved_by, approved_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		id, approvedBy, encodeTime(now))
	if err != nil {
		return dbErr("insert authorization", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_authorizations WHERE user_id = ?`, id); err != nil {
		return dbErr("remove pending", err)
	}
	detail := fmt.Sprintf("approved_by=%d", approvedBy)
	if err := appendAudit(ctx, tx, approvedBy, "approve_user", id, detail, traceID, now); err != nil {
		return dbErr("audit approve", err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit approve", err)
	}
	return nil
}

// RevokeUser withdraws access. Revoking a user that was never authorized
// is a no-op.
func (s *Store) RevokeUser(ctx context.Context, id, revokedBy int64, now time.Time, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin revoke", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM authorized_users WHERE user_id = ?`, id); err != nil {
		return dbErr("delete authorization", err)
	}
	detail := fmt.Sprintf("revoked_by=%d", revokedBy)
	if err := appendAudit(ctx, tx, revokedBy, "revoke_user", id, detail, traceID, now); err != nil {
		return dbErr("audit revoke", err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit revoke", err)
	}
	return nil
}

// AddPending records an access request awaiting the owner's decision.
// Repeat requests refresh the timestamp instead of duplicating the row.
func (s *Store) AddPending(ctx context.Context, p core.PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_authorizations (user_id, username, full_name, requested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			requested_at = excluded.requested_at`,
		p.UserID, p.Username, p.FullName, encodeTime(p.RequestedAt))
	if err != nil {
		return dbErr("insert pending", err)
	}
	return nil
}

// RemovePending drops a request, used when the owner denies it.
func (s *Store) RemovePending(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_authorizations WHERE user_id = ?`, id); err != nil {
		return dbErr("delete pending", err)
	}
	return nil
}

// PendingAuthorizations lists outstanding requests, oldest first.
func (s *Store) PendingAuthorizations(ctx context.Context) ([]core.PendingAuthorization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, full_name, requested_at
		FROM pending_authorizations ORDER BY requested_at ASC`)
	if err != nil {
		return nil, dbErr("query pending", err)
	}
	defer rows.Close()

	var out []core.PendingAuthorization
	for rows.Next() {
		var p core.PendingAuthorization
		var requested string
		if err := rows.Scan(&p.UserID, &p.Username, &p.FullName, &requested); err != nil {
			return nil, dbErr("scan pending", err)
		}
		if p.RequestedAt, err = decodeTime(requested); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AuthorizedUsers lists everyone with granted access, oldest grant first.
func (s *Store) AuthorizedUsers(ctx context.Context) ([]core.AuthorizedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, approved_by, approved_at
		FROM authorized_users ORDER BY approved_at ASC`)
	if err != nil {
		return nil, dbErr("query authorized", err)
	}
	defer rows.Close()

	var out []core.AuthorizedUser
	for rows.Next() {
		var u core.AuthorizedUser
		var approved string
		if err := rows.Scan(&u.UserID, &u.ApprovedBy, &approved); err != nil {
			return nil, dbErr("scan authorized", err)
		}
		if u.ApprovedAt, err = decodeTime(approved); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
