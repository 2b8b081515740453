// Package period owns the month lifecycle: exactly one month accepts
// entries at any time, and months close in strict chronological order.
package period

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"commissioni/internal/core"
	"commissioni/internal/log"
	"commissioni/internal/storage"
)

// Machine drives the open/closed month state machine on top of the
// store's transactional close.
type Machine struct {
	store  *storage.Store
	loc    *time.Location
	logger *log.Logger
}

func NewMachine(store *storage.Store, loc *time.Location, logger *log.Logger) *Machine {
	return &Machine{
		store:  store,
		loc:    loc,
		logger: logger.WithComponent(log.ComponentPeriod),
	}
}

// Ensure seeds the open month on first run. Existing state wins.
func (m *Machine) Ensure(ctx context.Context, now time.Time) (core.MonthKey, error) {
	open, err := m.store.OpenMonth(ctx)
	if err != nil {
		return "", err
	}
	if open != "" {
		return open, nil
	}

	open = core.MonthOf(now, m.loc)
	if err := m.store.InitPeriod(ctx, open); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "seeded period state", log.FieldMonth, string(open))
	return open, nil
}

// Open returns the month currently accepting entries.
func (m *Machine) Open(ctx context.Context) (core.MonthKey, error) {
	open, err := m.store.OpenMonth(ctx)
	if err != nil {
		return "", err
	}
	if open == "" {
		return "", fmt.Errorf("period state not initialized")
	}
	return open, nil
}

// Close seals the open month and advances to the next. The month must
// already lie in the past relative to now, a month cannot close while
// instants belonging to it can still occur.
func (m *Machine) Close(ctx context.Context, month core.MonthKey, now time.Time) (core.Statement, error) {
	if cur := core.MonthOf(now, m.loc); !month.Before(cur) {
		return core.Statement{}, fmt.Errorf("month %s has not ended yet (now in %s)", month, cur)
	}

	trace := uuid.NewString()
	st, err := m.store.CloseMonth(ctx, month, now, trace)
	if err != nil {
		return core.Statement{}, err
	}
	m.logger.InfoContext(ctx, "month closed",
		log.FieldOperation, log.OpCloseMonth,
		log.FieldMonth, string(month),
		log.FieldStatementID, st.StatementID,
		log.FieldAmountCents, st.Total.Cents,
		log.FieldTraceID, trace)
	return st, nil
}

// CatchUp closes every month that ended while the process was down, in
// chronological order, and returns the statements produced. With no
// backlog it returns nothing.
func (m *Machine) CatchUp(ctx context.Context, now time.Time) ([]core.Statement, error) {
	open, err := m.Ensure(ctx, now)
	if err != nil {
		return nil, err
	}

	cur := core.MonthOf(now, m.loc)
	var closed []core.Statement
	for open.Before(cur) {
		st, err := m.Close(ctx, open, now)
		if err != nil {
			return closed, fmt.Errorf("catch up close %s: %w", open, err)
		}
		closed = append(closed, st)
		open = open.Next()
	}
	if len(closed) > 0 {
		m.logger.InfoContext(ctx, "closed missed months",
			log.FieldOperation, log.OpCatchUp,
			"count", len(closed),
			log.FieldMonth, string(cur))
	}
	return closed, nil
}

// NearBoundary reports whether now falls within window of the month
// rollover in either direction.
func (m *Machine) NearBoundary(now time.Time, window time.Duration) bool {
	local := now.In(m.loc)
	month := core.MonthOf(now, m.loc)
	nextStart := month.Next().Start(m.loc)
	thisStart := month.Start(m.loc)
	return nextStart.Sub(local) <= window || local.Sub(thisStart) < window
}
