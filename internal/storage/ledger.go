package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commissioni/internal/core"
)

const entryColumns = `id, user_id, amount_cents, note, solo,
	user_share_cents, partner_share_cents, created_at, month_key`

func scanEntry(rows interface{ Scan(...any) error }) (core.Entry, error) {
	var (
		e       core.Entry
		solo    int
		created string
	)
	err := rows.Scan(&e.ID, &e.Actor, &e.Amount.Cents, &e.Note, &solo,
		&e.UserShare.Cents, &e.PartnerShare.Cents, &created, &e.Month)
	if err != nil {
		return core.Entry{}, err
	}
	e.Solo = solo != 0
	if e.CreatedAt, err = decodeTime(created); err != nil {
		return core.Entry{}, err
	}
	return e, nil
}

// openMonthTx reads the single period_state row inside a transaction.
func openMonthTx(ctx context.Context, tx *sql.Tx) (core.MonthKey, error) {
	var open string
	err := tx.QueryRowContext(ctx,
		`SELECT open_month FROM period_state WHERE id = 1`).Scan(&open)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("period state not initialized")
	}
	if err != nil {
		return "", dbErr("query period state", err)
	}
	return core.MonthKey(open), nil
}

// OpenMonth returns the currently accepting month. It is empty until the
// period state has been seeded.
func (s *Store) OpenMonth(ctx context.Context) (core.MonthKey, error) {
	var open string
	err := s.db.QueryRowContext(ctx,
		`SELECT open_month FROM period_state WHERE id = 1`).Scan(&open)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("query period state", err)
	}
	return core.MonthKey(open), nil
}

// InitPeriod seeds the open month if no period state exists yet.
func (s *Store) InitPeriod(ctx context.Context, month core.MonthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO period_state (id, open_month) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		string(month))
	if err != nil {
		return dbErr("seed period state", err)
	}
	return nil
}

// AddEntry records a commission in the open month. The open-month check,
// the insert and the audit row share one transaction, so an entry can
// never land in a month that a concurrent close just sealed.
func (s *Store) AddEntry(ctx context.Context, e core.Entry, traceID string) (core.Entry, error) {
	if err := e.Amount.Validate(); err != nil {
		return core.Entry{}, err
	}
	if err := e.Month.Validate(); err != nil {
		return core.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, dbErr("begin add entry", err)
	}
	defer tx.Rollback()

	open, err := openMonthTx(ctx, tx)
	if err != nil {
		return core.Entry{}, err
	}
	if e.Month != open {
		return core.Entry{}, fmt.Errorf("month %s is not accepting entries (open is %s): %w",
			e.Month, open, core.ErrPeriodClosed)
	}

	solo := 0
	if e.Solo {
		solo = 1
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO commissions (user_id, amount_cents, note, solo,
			user_share_cents, partner_share_cents, created_at, month_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Actor, e.Amount.Cents, e.Note, solo,
		e.UserShare.Cents, e.PartnerShare.Cents, encodeTime(e.CreatedAt), string(e.Month))
	if err != nil {
		return core.Entry{}, dbErr("insert commission", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return core.Entry{}, dbErr("commission id", err)
	}

	detail := fmt.Sprintf("amount=%s month=%s solo=%t", e.Amount, e.Month, e.Solo)
	if err := appendAudit(ctx, tx, e.Actor, "add_commission", e.ID, detail, traceID, e.CreatedAt); err != nil {
		return core.Entry{}, dbErr("audit add", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Entry{}, dbErr("commit add entry", err)
	}
	return e, nil
}

// UndoLast deletes the actor's most recent entry when it is younger than
// window and its month is still open.
func (s *Store) UndoLast(ctx context.Context, actor int64, now time.Time, window time.Duration, traceID string) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, dbErr("begin undo", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM commissions
		WHERE user_id = ? ORDER BY id DESC LIMIT 1`, actor)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrNothingToUndo
	}
	if err != nil {
		return core.Entry{}, dbErr("scan last entry", err)
	}

	open, err := openMonthTx(ctx, tx)
	if err != nil {
		return core.Entry{}, err
	}
	if e.Month != open || now.Sub(e.CreatedAt) > window {
		return core.Entry{}, fmt.Errorf("entry %d recorded %s ago: %w",
			e.ID, now.Sub(e.CreatedAt).Round(time.Second), core.ErrUndoExpired)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM commissions WHERE id = ?`, e.ID); err != nil {
		return core.Entry{}, dbErr("delete commission", err)
	}
	detail := fmt.Sprintf("amount=%s month=%s", e.Amount, e.Month)
	if err := appendAudit(ctx, tx, actor, "undo_commission", e.ID, detail, traceID, now); err != nil {
		return core.Entry{}, dbErr("audit undo", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Entry{}, dbErr("commit undo", err)
	}
	return e, nil
}

// RecordPayout marks money handed to the partner. Payouts are allowed
// against closed months, partners get paid after the statement.
func (s *Store) RecordPayout(ctx context.Context, p core.Payout, traceID string) (core.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Payout{}, dbErr("begin payout", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (user_id, amount_cents, paid_at, month_key)
		VALUES (?, ?, ?, ?)`,
		p.Actor, p.Amount.Cents, encodeTime(p.PaidAt), string(p.Month))
	if err != nil {
		return core.Payout{}, dbErr("insert payout", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return core.Payout{}, dbErr("payout id", err)
	}

	detail := fmt.Sprintf("amount=%s month=%s", p.Amount, p.Month)
	if err := appendAudit(ctx, tx, p.Actor, "record_payout", p.ID, detail, traceID, p.PaidAt); err != nil {
		return core.Payout{}, dbErr("audit payout", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Payout{}, dbErr("commit payout", err)
	}
	return p, nil
}

func (s *Store) queryEntries(ctx context.Context, where string, args ...any) ([]core.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM commissions `+where, args...)
	if err != nil {
		return nil, dbErr("query commissions", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, dbErr("scan commission", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntriesByMonth returns a month's entries in insertion order.
func (s *Store) EntriesByMonth(ctx context.Context, month core.MonthKey) ([]core.Entry, error) {
	return s.queryEntries(ctx, `WHERE month_key = ? ORDER BY id ASC`, string(month))
}

// EntriesByYear returns every entry whose month falls in the given year.
func (s *Store) EntriesByYear(ctx context.Context, year int) ([]core.Entry, error) {
	prefix := fmt.Sprintf("%04d-", year)
	return s.queryEntries(ctx, `WHERE month_key LIKE ? ORDER BY id ASC`, prefix+"%")
}

// RecentEntriesByActor returns the actor's newest entries, newest first.
func (s *Store) RecentEntriesByActor(ctx context.Context, actor int64, limit int) ([]core.Entry, error) {
	return s.queryEntries(ctx,
		`WHERE user_id = ? ORDER BY id DESC LIMIT ?`, actor, limit)
}

// LastEntryAt reports the timestamp of the newest entry across all
// actors, and whether any entry exists at all.
func (s *Store) LastEntryAt(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM commissions`).Scan(&raw)
	if err != nil {
		return time.Time{}, false, dbErr("query last entry", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	t, err := decodeTime(raw.String)
	return t, err == nil, err
}

// MonthTotals aggregates a single month regardless of its open state.
func (s *Store) MonthTotals(ctx context.Context, month core.MonthKey) (core.MonthTotals, error) {
	t := core.MonthTotals{Month: month}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0), COALESCE(SUM(user_share_cents), 0),
			COALESCE(SUM(partner_share_cents), 0), COUNT(*)
		FROM commissions WHERE month_key = ?`, string(month)).
		Scan(&t.Total.Cents, &t.UserTotal.Cents, &t.PartnerTotal.Cents, &t.EntryCount)
	if err != nil {
		return core.MonthTotals{}, dbErr("aggregate month", err)
	}
	return t, nil
}

// PayoutsByMonth lists a month's payouts in insertion order.
func (s *Store) PayoutsByMonth(ctx context.Context, month core.MonthKey) ([]core.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_cents, paid_at, month_key
		FROM payouts WHERE month_key = ? ORDER BY id ASC`, string(month))
	if err != nil {
		return nil, dbErr("query payouts", err)
	}
	defer rows.Close()

	var out []core.Payout
	for rows.Next() {
		var p core.Payout
		var paid string
		if err := rows.Scan(&p.ID, &p.Actor, &p.Amount.Cents, &paid, &p.Month); err != nil {
			return nil, dbErr("scan payout", err)
		}
		if p.PaidAt, err = decodeTime(paid); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BalanceOwed computes the partner share accumulated across all months
// minus everything already paid out.
func (s *Store) BalanceOwed(ctx context.Context) (core.Money, error) {
	var earned, paid core.Money
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(partner_share_cents), 0) FROM commissions`).Scan(&earned.Cents)
	if err != nil {
		return core.Money{}, dbErr("aggregate partner share", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payouts`).Scan(&paid.Cents)
	if err != nil {
		return core.Money{}, dbErr("aggregate paid", err)
	}
	return earned.Sub(paid), nil
}

// BalanceOwedMonth scopes the owed computation to one month's entries
// and the payouts recorded against that month.
func (s *Store) BalanceOwedMonth(ctx context.Context, month core.MonthKey) (core.Money, error) {
	var earned, paid core.Money
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(partner_share_cents), 0) FROM commissions WHERE month_key = ?`,
		string(month)).Scan(&earned.Cents)
	if err != nil {
		return core.Money{}, dbErr("aggregate partner share", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payouts WHERE month_key = ?`,
		string(month)).Scan(&paid.Cents)
	if err != nil {
		return core.Money{}, dbErr("aggregate paid", err)
	}
	return earned.Sub(paid), nil
}
