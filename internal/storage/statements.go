package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commissioni/internal/core"
)

// ErrMonthNotOpen reports a close attempt against a month other than the
// currently open one.
var ErrMonthNotOpen = errors.New("month is not the open month")

// CloseMonth seals the given month in a single transaction: it verifies
// the month is still the open one, aggregates its entries, writes the
// statement, advances the open month and appends the audit row. A month
// with zero entries still produces a statement.
func (s *Store) CloseMonth(ctx context.Context, month core.MonthKey, now time.Time, traceID string) (core.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Statement{}, dbErr("begin close", err)
	}
	defer tx.Rollback()

	open, err := openMonthTx(ctx, tx)
	if err != nil {
		return core.Statement{}, err
	}
	if month != open {
		if month.Before(open) {
			return core.Statement{}, fmt.Errorf("month %s already closed: %w", month, core.ErrPeriodClosed)
		}
		return core.Statement{}, fmt.Errorf("month %s (open is %s): %w", month, open, ErrMonthNotOpen)
	}

	st := core.Statement{Month: month, ClosedAt: now}
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0), COALESCE(SUM(user_share_cents), 0),
			COALESCE(SUM(partner_share_cents), 0), COUNT(*)
		FROM commissions WHERE month_key = ?`, string(month)).
		Scan(&st.Total.Cents, &st.UserTotal.Cents, &st.PartnerTotal.Cents, &st.EntryCount)
	if err != nil {
		return core.Statement{}, dbErr("aggregate close", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM monthly_summaries`).Scan(&seq); err != nil {
		return core.Statement{}, dbErr("next statement sequence", err)
	}
	st.StatementID = core.StatementID(seq, month)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO monthly_summaries (id, month_key, statement_id, total_cents,
			user_cents, partner_cents, entry_count, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, string(month), st.StatementID, st.Total.Cents,
		st.UserTotal.Cents, st.PartnerTotal.Cents, st.EntryCount, encodeTime(now))
	if err != nil {
		return core.Statement{}, dbErr("insert statement", err)
	}
	if st.ID, err = res.LastInsertId(); err != nil {
		return core.Statement{}, dbErr("statement id", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE period_state SET open_month = ? WHERE id = 1`, string(month.Next())); err != nil {
		return core.Statement{}, dbErr("advance open month", err)
	}

	detail := fmt.Sprintf("statement=%s total=%s entries=%d", st.StatementID, st.Total, st.EntryCount)
	if err := appendAudit(ctx, tx, 0, "close_month", st.ID, detail, traceID, now); err != nil {
		return core.Statement{}, dbErr("audit close", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Statement{}, dbErr("commit close", err)
	}
	return st, nil
}

func scanStatement(row interface{ Scan(...any) error }) (core.Statement, error) {
	var st core.Statement
	var closed string
	err := row.Scan(&st.ID, &st.Month, &st.StatementID, &st.Total.Cents,
		&st.UserTotal.Cents, &st.PartnerTotal.Cents, &st.EntryCount, &closed)
	if err != nil {
		return core.Statement{}, err
	}
	if st.ClosedAt, err = decodeTime(closed); err != nil {
		return core.Statement{}, err
	}
	return st, nil
}

const statementColumns = `id, month_key, statement_id, total_cents,
	user_cents, partner_cents, entry_count, closed_at`

// StatementByMonth fetches the sealed statement for a month, if any.
func (s *Store) StatementByMonth(ctx context.Context, month core.MonthKey) (core.Statement, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM monthly_summaries WHERE month_key = ?`, string(month))
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Statement{}, false, nil
	}
	if err != nil {
		return core.Statement{}, false, dbErr("query statement", err)
	}
	return st, true, nil
}

func (s *Store) queryStatements(ctx context.Context, where string, args ...any) ([]core.Statement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+statementColumns+` FROM monthly_summaries `+where, args...)
	if err != nil {
		return nil, dbErr("query statements", err)
	}
	defer rows.Close()

	var out []core.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, dbErr("scan statement", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StatementsByYear returns a year's statements in month order.
func (s *Store) StatementsByYear(ctx context.Context, year int) ([]core.Statement, error) {
	prefix := fmt.Sprintf("%04d-", year)
	return s.queryStatements(ctx, `WHERE month_key LIKE ? ORDER BY month_key ASC`, prefix+"%")
}

// Statements returns every sealed statement in month order.
func (s *Store) Statements(ctx context.Context) ([]core.Statement, error) {
	return s.queryStatements(ctx, `ORDER BY month_key ASC`)
}
