package schedule

import (
	"context"
	"fmt"
	"time"

	"commissioni/internal/log"
)

// Trigger names used by the bot.
const (
	TriggerWeeklySummary  = "weekly_summary"
	TriggerMonthEndClose  = "month_end_close"
	TriggerMonthStart     = "month_start"
	TriggerPayoutReminder = "payout_reminder"
	TriggerActivityCheck  = "activity_check"
)

// Handler executes one trigger firing. missed is true when the firing
// happened while the process was down and is being replayed at startup.
type Handler func(ctx context.Context, firedAt time.Time, missed bool) error

// MarkStore persists last-run markers across restarts.
// Implemented by storage.Store.
type MarkStore interface {
	LastRun(ctx context.Context, name string) (time.Time, error)
	SetLastRun(ctx context.Context, name string, at time.Time) error
}

// Runner evaluates trigger rules on a fixed tick and dispatches due
// firings onto the single serialized execution path shared with
// interactive commands.
type Runner struct {
	rules    []Rule
	handlers map[string]Handler
	marks    MarkStore
	loc      *time.Location
	interval time.Duration
	logger   *log.Logger

	started time.Time
}

func NewRunner(rules []Rule, marks MarkStore, loc *time.Location, logger *log.Logger) *Runner {
	return &Runner{
		rules:    rules,
		handlers: make(map[string]Handler),
		marks:    marks,
		loc:      loc,
		interval: time.Minute,
		logger:   logger.WithComponent(log.ComponentScheduler),
	}
}

// Handle registers the handler for a trigger name.
func (r *Runner) Handle(name string, h Handler) {
	r.handlers[name] = h
}

// Run replays missed triggers once and then ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.started = time.Now()

	// Startup pass: closes are replayed, notifications are skipped.
	if err := r.Tick(ctx, r.started); err != nil {
		return fmt.Errorf("startup trigger replay: %w", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.Tick(ctx, now); err != nil {
				r.logger.ErrorContext(ctx, "Trigger tick failed", log.FieldError, err)
			}
		}
	}
}

// Tick evaluates and dispatches all due firings at now. Exported so tests
// can drive the runner with a fixed clock.
func (r *Runner) Tick(ctx context.Context, now time.Time) error {
	lastRuns := make(map[string]time.Time, len(r.rules))
	for _, rule := range r.rules {
		last, err := r.marks.LastRun(ctx, rule.Name)
		if err != nil {
			return fmt.Errorf("load last run for %s: %w", rule.Name, err)
		}
		lastRuns[rule.Name] = last
	}

	for _, firing := range Due(r.rules, lastRuns, now, r.loc) {
		missed := r.started.IsZero() || firing.At.Before(r.started)
		if err := r.dispatch(ctx, firing, missed); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, firing Firing, missed bool) error {
	rule := firing.Rule

	if missed && rule.Kind == Notify {
		// Carries no state invariant, safe to drop.
		r.logger.InfoContext(ctx, "Skipping missed notification trigger",
			log.FieldTrigger, rule.Name,
			log.FieldFiredAt, firing.At)
		return r.marks.SetLastRun(ctx, rule.Name, firing.At)
	}

	handler, ok := r.handlers[rule.Name]
	if !ok {
		r.logger.WarnContext(ctx, "No handler registered for trigger", log.FieldTrigger, rule.Name)
		return r.marks.SetLastRun(ctx, rule.Name, firing.At)
	}

	r.logger.InfoContext(ctx, "Dispatching trigger",
		log.FieldTrigger, rule.Name,
		log.FieldFiredAt, firing.At,
		"missed", missed)

	if err := handler(ctx, firing.At, missed); err != nil {
		if rule.Kind == Close {
			// Leave the marker so the close is retried on the next tick;
			// the close itself is all-or-nothing.
			return fmt.Errorf("trigger %s: %w", rule.Name, err)
		}
		r.logger.ErrorContext(ctx, "Notification trigger failed",
			log.FieldTrigger, rule.Name,
			log.FieldError, err)
	}

	return r.marks.SetLastRun(ctx, rule.Name, firing.At)
}
