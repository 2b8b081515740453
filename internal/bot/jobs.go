package bot

import (
	"context"
	"fmt"
	"time"

	"commissioni/internal/guard"
	"commissioni/internal/log"
	"commissioni/internal/schedule"
)

// Rules builds the trigger schedule from the configured times.
func Rules(weeklyAt, closeAt, startAt, payoutAt, activityAt schedule.TimeOfDay) []schedule.Rule {
	return []schedule.Rule{
		schedule.WeeklyRule(schedule.TriggerWeeklySummary, schedule.Notify, time.Friday, weeklyAt),
		schedule.LastDayRule(schedule.TriggerMonthEndClose, schedule.Close, closeAt),
		schedule.MonthDayRule(schedule.TriggerMonthStart, schedule.Close, 1, startAt),
		schedule.MonthDayRule(schedule.TriggerPayoutReminder, schedule.Notify, 28, payoutAt),
		schedule.DailyRule(schedule.TriggerActivityCheck, schedule.Notify, activityAt),
	}
}

// Register wires the service's handlers onto the runner.
func (s *Service) Register(r *schedule.Runner) {
	r.Handle(schedule.TriggerWeeklySummary, s.WeeklySummary)
	r.Handle(schedule.TriggerMonthEndClose, s.MonthEndClose)
	r.Handle(schedule.TriggerMonthStart, s.MonthStart)
	r.Handle(schedule.TriggerPayoutReminder, s.PayoutReminder)
	r.Handle(schedule.TriggerActivityCheck, s.ZeroActivityCheck)
}

// WeeklySummary sends the owner a mid-month progress note.
func (s *Service) WeeklySummary(ctx context.Context, firedAt time.Time, missed bool) error {
	open, err := s.periods.Ensure(ctx, firedAt)
	if err != nil {
		return err
	}
	stats, err := s.reports.Monthly(ctx, open, firedAt)
	if err != nil {
		return err
	}
	s.send(ctx, s.opts.OwnerID, "Weekly summary\n\n"+statsText(stats))
	return nil
}

// MonthEndClose drains the close backlog and, when firing live, warns
// that the running month seals at midnight. The backlog drain is what a
// replayed firing exists for after downtime.
func (s *Service) MonthEndClose(ctx context.Context, firedAt time.Time, missed bool) error {
	closed, err := s.periods.CatchUp(ctx, firedAt)
	if err != nil {
		return err
	}
	s.announceStatements(ctx, closed)

	if missed {
		return nil
	}
	open, err := s.periods.Open(ctx)
	if err != nil {
		return err
	}
	stats, err := s.reports.Monthly(ctx, open, firedAt)
	if err != nil {
		return err
	}
	s.send(ctx, s.opts.OwnerID, fmt.Sprintf(
		"%s closes at midnight. Current total: %s across %d entries.",
		monthLabel(open), stats.Totals.Total.KES(), stats.Totals.EntryCount))
	return nil
}

// MonthStart seals the month that just ended and announces the fresh one.
func (s *Service) MonthStart(ctx context.Context, firedAt time.Time, missed bool) error {
	closed, err := s.periods.CatchUp(ctx, firedAt)
	if err != nil {
		return err
	}
	s.announceStatements(ctx, closed)

	if missed {
		return nil
	}
	open, err := s.periods.Open(ctx)
	if err != nil {
		return err
	}
	s.send(ctx, s.opts.OwnerID, fmt.Sprintf("Fresh month: %s is now open for entries.", monthLabel(open)))
	return nil
}

// PayoutReminder nudges the owner when the partner balance is positive.
func (s *Service) PayoutReminder(ctx context.Context, firedAt time.Time, missed bool) error {
	owed, err := s.store.BalanceOwed(ctx)
	if err != nil {
		return err
	}
	if owed.Cents <= 0 {
		return nil
	}
	s.send(ctx, s.opts.OwnerID, fmt.Sprintf(
		"Payout reminder: you owe your partner %s. Record payments with /paid.", owed.KES()))
	return nil
}

// ZeroActivityCheck alerts when the ledger has gone quiet.
func (s *Service) ZeroActivityCheck(ctx context.Context, firedAt time.Time, missed bool) error {
	last, hasEntries, err := s.store.LastEntryAt(ctx)
	if err != nil {
		return err
	}
	w := guard.CheckZeroActivity(s.opts.Guard, last, hasEntries, firedAt)
	if w == nil {
		return nil
	}
	s.logger.WarnContext(ctx, "Ledger inactive",
		log.FieldWarning, string(w.Kind),
		"last_entry", last.Format(time.RFC3339))
	s.send(ctx, s.opts.OwnerID, "Heads up: "+w.Message)
	return nil
}
