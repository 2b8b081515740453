// Package bot implements the chat-facing command surface on top of the
// ledger. It is transport neutral: an adapter feeds it incoming text,
// commands and button callbacks and renders the returned Response.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"commissioni/internal/core"
	"commissioni/internal/guard"
	"commissioni/internal/log"
	"commissioni/internal/metrics"
	"commissioni/internal/notify"
	"commissioni/internal/period"
	"commissioni/internal/report"
	"commissioni/internal/storage"
)

// Options carries the validated configuration the service needs.
type Options struct {
	OwnerID        int64
	Ratio          decimal.Decimal
	Location       *time.Location
	UndoWindow     time.Duration
	Guard          guard.Config
	BoundaryWindow time.Duration
	ConfirmTimeout time.Duration
}

// pendingEntry is an amount awaiting month-boundary confirmation.
type pendingEntry struct {
	amount     core.Money
	note       string
	solo       bool
	name       string
	receivedAt time.Time
	timer      *time.Timer
}

// Service handles every incoming update. All ledger writes funnel through
// the store's single-writer lock, so handlers may run concurrently.
type Service struct {
	store    *storage.Store
	periods  *period.Machine
	reports  *report.Engine
	notifier notify.Notifier
	logger   *log.Logger
	opts     Options

	clock func() time.Time

	mu      sync.Mutex
	pending map[int64]*pendingEntry
}

func NewService(store *storage.Store, periods *period.Machine, reports *report.Engine, notifier notify.Notifier, logger *log.Logger, opts Options) *Service {
	return &Service{
		store:    store,
		periods:  periods,
		reports:  reports,
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentBot),
		opts:     opts,
		clock:    time.Now,
		pending:  make(map[int64]*pendingEntry),
	}
}

// errResponse maps a ledger error onto a user-facing reply. Domain
// rejections are normal flow; everything else propagates for logging.
func errResponse(err error) (Response, error) {
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		return text("I could not read that amount. Send something like 7500 or 1200.50, optionally followed by \"solo\" and a note."), nil
	case errors.Is(err, core.ErrPeriodClosed):
		return text("That month is already closed; its statement is final."), nil
	case errors.Is(err, core.ErrUndoExpired):
		return text("The undo window has passed, that entry is final."), nil
	case errors.Is(err, core.ErrNothingToUndo):
		return text("There is nothing of yours to undo."), nil
	case errors.Is(err, core.ErrUnauthorized):
		return text("Only the owner can do that."), nil
	case errors.Is(err, core.ErrDatabaseUnavailable):
		return text("The ledger database is unavailable right now. Nothing was recorded, try again shortly."), err
	default:
		return text("Something went wrong, nothing was recorded."), err
	}
}

// HandleText processes a free-form message: either an amount to record
// or a yes/no answer to a pending boundary confirmation.
func (s *Service) HandleText(ctx context.Context, userID int64, name, body string) (Response, error) {
	now := s.clock()

	if resp, ok, err := s.authorize(ctx, userID, name, now); !ok {
		return resp, err
	}

	switch strings.ToLower(strings.TrimSpace(body)) {
	case "yes", "y":
		if resp, ok := s.resolvePending(ctx, userID, true); ok {
			return resp, nil
		}
	case "no", "n":
		if resp, ok := s.resolvePending(ctx, userID, false); ok {
			return resp, nil
		}
	}

	amount, solo, note, err := parseEntryText(body)
	if err != nil {
		return errResponse(err)
	}

	if s.periods.NearBoundary(now, s.opts.BoundaryWindow) {
		return s.stashPending(userID, name, amount, solo, note, now), nil
	}

	return s.commit(ctx, userID, name, amount, solo, note, now)
}

// parseEntryText splits "7500 solo website deposit" into its parts.
func parseEntryText(body string) (core.Money, bool, string, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return core.Money{}, false, "", core.ErrInvalidAmount
	}
	amount, err := core.ParseAmount(fields[0])
	if err != nil {
		return core.Money{}, false, "", err
	}
	rest := fields[1:]
	solo := false
	if len(rest) > 0 && strings.EqualFold(rest[0], "solo") {
		solo = true
		rest = rest[1:]
	}
	return amount, solo, strings.Join(rest, " "), nil
}

// commit writes one entry into the currently open month. Any close
// backlog is drained first so the open month matches the wall clock.
func (s *Service) commit(ctx context.Context, userID int64, name string, amount core.Money, solo bool, note string, now time.Time) (Response, error) {
	closed, err := s.periods.CatchUp(ctx, now)
	if err != nil {
		return errResponse(err)
	}
	s.announceStatements(ctx, closed)

	month := core.MonthOf(now, s.opts.Location)

	// Guard checks read the history before the new entry lands.
	recent, err := s.store.RecentEntriesByActor(ctx, userID, 10)
	if err != nil {
		return errResponse(err)
	}
	openTotals, err := s.store.MonthTotals(ctx, month)
	if err != nil {
		return errResponse(err)
	}
	var warnings []guard.Warning
	if w := guard.CheckDuplicate(s.opts.Guard, recent, amount, now); w != nil {
		warnings = append(warnings, *w)
	}
	if w := guard.CheckExtreme(s.opts.Guard, openTotals, amount); w != nil {
		warnings = append(warnings, *w)
	}

	userShare, partnerShare := core.Split(amount, s.opts.Ratio, solo)

	if err := s.store.EnsureUser(ctx, userID, name, now); err != nil {
		return errResponse(err)
	}

	trace := uuid.NewString()
	entry, err := s.store.AddEntry(ctx, core.Entry{
		Actor:        userID,
		Amount:       amount,
		Note:         note,
		Solo:         solo,
		UserShare:    userShare,
		PartnerShare: partnerShare,
		CreatedAt:    now,
		Month:        month,
	}, trace)
	if err != nil {
		return errResponse(err)
	}

	metrics.EntriesRecorded.Inc()
	for _, w := range warnings {
		metrics.SafetyWarnings.WithLabelValues(string(w.Kind)).Inc()
	}
	s.logger.InfoContext(ctx, "Entry recorded",
		log.FieldOperation, log.OpAddEntry,
		log.FieldActor, userID,
		log.FieldEntryID, entry.ID,
		log.FieldAmountCents, amount.Cents,
		log.FieldMonth, string(month),
		log.FieldTraceID, trace)

	totals, err := s.store.MonthTotals(ctx, month)
	if err != nil {
		return errResponse(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %s for %s.\n", amount.KES(), monthLabel(month))
	if solo {
		b.WriteString("Solo entry: no partner share.\n")
	} else {
		fmt.Fprintf(&b, "Your share %s, partner share %s.\n", userShare.KES(), partnerShare.KES())
	}
	fmt.Fprintf(&b, "%s total so far: %s across %d entries.",
		monthLabel(month), totals.Total.KES(), totals.EntryCount)
	for _, w := range warnings {
		b.WriteString("\n\nHeads up: " + w.Message)
	}
	return text(b.String()), nil
}

// stashPending parks an entry during the boundary window. It commits on
// "yes", is dropped on "no" and auto-commits after the confirm timeout.
func (s *Service) stashPending(userID int64, name string, amount core.Money, solo bool, note string, now time.Time) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pending[userID]; ok {
		old.timer.Stop()
	}

	p := &pendingEntry{amount: amount, note: note, solo: solo, name: name, receivedAt: now}
	p.timer = time.AfterFunc(s.opts.ConfirmTimeout, func() { s.autoCommit(userID) })
	s.pending[userID] = p

	month := core.MonthOf(now, s.opts.Location)
	return text(fmt.Sprintf(
		"We are right at the month boundary. Record %s for %s?\nReply yes to confirm or no to discard. It is recorded automatically in %s.",
		amount.KES(), monthLabel(month), s.opts.ConfirmTimeout.Round(time.Second)))
}

// takePending removes and returns the actor's parked entry.
func (s *Service) takePending(userID int64) (*pendingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		return nil, false
	}
	p.timer.Stop()
	delete(s.pending, userID)
	return p, true
}

func (s *Service) resolvePending(ctx context.Context, userID int64, confirmed bool) (Response, bool) {
	p, ok := s.takePending(userID)
	if !ok {
		return Response{}, false
	}
	if !confirmed {
		return text(fmt.Sprintf("Discarded %s.", p.amount.KES())), true
	}
	// The entry lands in whichever month is open when the answer arrives;
	// a closed month is never written.
	resp, err := s.commit(ctx, userID, p.name, p.amount, p.solo, p.note, s.clock())
	if err != nil {
		s.logger.ErrorContext(ctx, "Confirmed entry failed", log.FieldActor, userID, log.FieldError, err)
	}
	return resp, true
}

// autoCommit fires when the confirm timeout lapses without an answer.
func (s *Service) autoCommit(userID int64) {
	p, ok := s.takePending(userID)
	if !ok {
		return
	}
	ctx := context.Background()
	resp, err := s.commit(ctx, userID, p.name, p.amount, p.solo, p.note, s.clock())
	if err != nil {
		s.logger.ErrorContext(ctx, "Auto-commit failed", log.FieldActor, userID, log.FieldError, err)
	}
	s.send(ctx, userID, "No answer, so: "+resp.Text)
}

// send is a best-effort notification; failures are logged and counted.
func (s *Service) send(ctx context.Context, userID int64, body string) {
	if err := s.notifier.Notify(ctx, userID, body); err != nil {
		metrics.NotifyFailures.Inc()
		s.logger.ErrorContext(ctx, "Notification failed",
			log.FieldActor, userID,
			log.FieldError, err)
	}
}

// announceStatements tells the owner about months sealed by a catch-up.
func (s *Service) announceStatements(ctx context.Context, closed []core.Statement) {
	for _, st := range closed {
		metrics.MonthsClosed.Inc()
		s.send(ctx, s.opts.OwnerID, statementText(st))
	}
}

// authorize gates every update. Unknown users get queued for the owner's
// decision; the returned response tells them to wait.
func (s *Service) authorize(ctx context.Context, userID int64, name string, now time.Time) (Response, bool, error) {
	if userID == s.opts.OwnerID {
		return Response{}, true, nil
	}
	ok, err := s.store.IsAuthorized(ctx, userID)
	if err != nil {
		resp, err := errResponse(err)
		return resp, false, err
	}
	if ok {
		return Response{}, true, nil
	}

	if err := s.store.AddPending(ctx, core.PendingAuthorization{
		UserID:      userID,
		Username:    name,
		FullName:    name,
		RequestedAt: now,
	}); err != nil {
		resp, err := errResponse(err)
		return resp, false, err
	}

	s.logger.InfoContext(ctx, "Access requested", log.FieldActor, userID, "name", name)
	s.send(ctx, s.opts.OwnerID, fmt.Sprintf(
		"%s (id %d) is asking for access. Approve with /approve %d or deny with /revoke %d.",
		name, userID, userID, userID))
	return text("This ledger is private. The owner has been asked to approve your access."), false, nil
}

// HandleCommand dispatches one slash command.
func (s *Service) HandleCommand(ctx context.Context, userID int64, name, command string, args []string) (Response, error) {
	now := s.clock()

	if resp, ok, err := s.authorize(ctx, userID, name, now); !ok {
		return resp, err
	}
	metrics.CommandsHandled.WithLabelValues(command).Inc()

	switch command {
	case "start":
		return text(welcomeText()), nil
	case "dashboard":
		return s.dashboard(ctx, userID, now)
	case "balance":
		return s.balance(ctx, args)
	case "paid":
		return s.paid(ctx, userID, name, args, now)
	case "undo":
		return s.undo(ctx, userID, now)
	case "stats":
		return s.stats(ctx, args, now)
	case "yearly":
		return s.yearly(ctx, args, now)
	case "export":
		return s.export(ctx, args, now)
	case "history":
		return s.history(ctx, args)
	case "audit":
		return s.audit(ctx, userID)
	case "settings":
		return s.settings(ctx, userID)
	case "approve":
		return s.approve(ctx, userID, args, now)
	case "revoke":
		return s.revoke(ctx, userID, args, now)
	case "clear_db":
		if userID != s.opts.OwnerID {
			return errResponse(core.ErrUnauthorized)
		}
		return Response{
			Text: "This permanently wipes every entry, payout and statement. Are you sure?",
			Buttons: [][]Button{{
				{Label: "Yes, wipe everything", Data: "clear_confirm"},
				{Label: "Cancel", Data: "clear_cancel"},
			}},
		}, nil
	default:
		return text(fmt.Sprintf("Unknown command /%s. Try /start for help.", command)), nil
	}
}

func (s *Service) dashboard(ctx context.Context, userID int64, now time.Time) (Response, error) {
	open, err := s.periods.Ensure(ctx, now)
	if err != nil {
		return errResponse(err)
	}
	stats, err := s.reports.Monthly(ctx, open, now)
	if err != nil {
		return errResponse(err)
	}
	recent, err := s.store.RecentEntriesByActor(ctx, userID, 5)
	if err != nil {
		return errResponse(err)
	}
	return text(dashboardText(stats, recent, s.opts.Location)), nil
}

// balance reports what is owed, all time or scoped to one month.
func (s *Service) balance(ctx context.Context, args []string) (Response, error) {
	if len(args) > 0 {
		month, err := core.ParseMonthKey(args[0])
		if err != nil {
			return text(fmt.Sprintf("%q is not a month, use YYYY-MM.", args[0])), nil
		}
		owed, err := s.store.BalanceOwedMonth(ctx, month)
		if err != nil {
			return errResponse(err)
		}
		return text(fmt.Sprintf("%s: %s", monthLabel(month), balanceText(owed))), nil
	}

	owed, err := s.store.BalanceOwed(ctx)
	if err != nil {
		return errResponse(err)
	}
	return text(balanceText(owed)), nil
}

func (s *Service) paid(ctx context.Context, userID int64, name string, args []string, now time.Time) (Response, error) {
	if len(args) == 0 {
		return text("Usage: /paid <amount> [YYYY-MM]"), nil
	}
	amount, err := core.ParseAmount(args[0])
	if err != nil {
		return errResponse(err)
	}

	month := core.MonthOf(now, s.opts.Location)
	if len(args) > 1 {
		if month, err = core.ParseMonthKey(args[1]); err != nil {
			return text(fmt.Sprintf("%q is not a month, use YYYY-MM.", args[1])), nil
		}
	}

	if err := s.store.EnsureUser(ctx, userID, name, now); err != nil {
		return errResponse(err)
	}
	trace := uuid.NewString()
	p, err := s.store.RecordPayout(ctx, core.Payout{
		Actor:  userID,
		Amount: amount,
		PaidAt: now,
		Month:  month,
	}, trace)
	if err != nil {
		return errResponse(err)
	}

	metrics.PayoutsRecorded.Inc()
	s.logger.InfoContext(ctx, "Payout recorded",
		log.FieldOperation, log.OpPayout,
		log.FieldActor, userID,
		log.FieldAmountCents, amount.Cents,
		log.FieldMonth, string(month),
		log.FieldTraceID, trace)

	owed, err := s.store.BalanceOwed(ctx)
	if err != nil {
		return errResponse(err)
	}
	return text(fmt.Sprintf("Marked %s as paid for %s (payout #%d).\n%s",
		amount.KES(), monthLabel(month), p.ID, balanceText(owed))), nil
}

func (s *Service) undo(ctx context.Context, userID int64, now time.Time) (Response, error) {
	trace := uuid.NewString()
	entry, err := s.store.UndoLast(ctx, userID, now, s.opts.UndoWindow, trace)
	if err != nil {
		return errResponse(err)
	}
	metrics.EntriesUndone.Inc()
	s.logger.InfoContext(ctx, "Entry undone",
		log.FieldOperation, log.OpUndo,
		log.FieldActor, userID,
		log.FieldEntryID, entry.ID,
		log.FieldTraceID, trace)
	return text(fmt.Sprintf("Removed %s (%s).", entry.Amount.KES(), monthLabel(entry.Month))), nil
}

func (s *Service) stats(ctx context.Context, args []string, now time.Time) (Response, error) {
	month := core.MonthOf(now, s.opts.Location)
	if len(args) > 0 {
		var err error
		if month, err = core.ParseMonthKey(args[0]); err != nil {
			return text(fmt.Sprintf("%q is not a month, use YYYY-MM.", args[0])), nil
		}
	}
	stats, err := s.reports.Monthly(ctx, month, now)
	if err != nil {
		return errResponse(err)
	}
	return text(statsText(stats)), nil
}

func (s *Service) yearly(ctx context.Context, args []string, now time.Time) (Response, error) {
	year := now.In(s.opts.Location).Year()
	if len(args) > 0 {
		y, err := strconv.Atoi(args[0])
		if err != nil || y < 2000 || y > 2100 {
			return text(fmt.Sprintf("%q is not a year.", args[0])), nil
		}
		year = y
	}
	ys, err := s.reports.Yearly(ctx, year)
	if err != nil {
		return errResponse(err)
	}
	return text(yearlyText(ys)), nil
}

func (s *Service) export(ctx context.Context, args []string, now time.Time) (Response, error) {
	month := core.MonthOf(now, s.opts.Location)
	if len(args) > 0 {
		if year, err := strconv.Atoi(args[0]); err == nil && year >= 2000 && year <= 2100 {
			var buf bytes.Buffer
			filename, err := s.reports.ExportYear(ctx, &buf, year)
			if err != nil {
				return errResponse(err)
			}
			return Response{
				Text: fmt.Sprintf("CSV export for %d.", year),
				File: &Attachment{Name: filename, Content: buf.Bytes()},
			}, nil
		}
		var err error
		if month, err = core.ParseMonthKey(args[0]); err != nil {
			return text(fmt.Sprintf("%q is not a month or year, use YYYY-MM or YYYY.", args[0])), nil
		}
	}

	var buf bytes.Buffer
	filename, err := s.reports.ExportMonth(ctx, &buf, month)
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Text: fmt.Sprintf("CSV export for %s.", monthLabel(month)),
		File: &Attachment{Name: filename, Content: buf.Bytes()},
	}, nil
}

// history lists closed-month statements, optionally for one year.
func (s *Service) history(ctx context.Context, args []string) (Response, error) {
	var (
		statements []core.Statement
		err        error
	)
	if len(args) > 0 {
		year, convErr := strconv.Atoi(args[0])
		if convErr != nil || year < 2000 || year > 2100 {
			return text(fmt.Sprintf("%q is not a year.", args[0])), nil
		}
		statements, err = s.store.StatementsByYear(ctx, year)
	} else {
		statements, err = s.store.Statements(ctx)
	}
	if err != nil {
		return errResponse(err)
	}
	return text(historyText(statements)), nil
}

// audit shows the owner the newest rows of the mutation log.
func (s *Service) audit(ctx context.Context, userID int64) (Response, error) {
	if userID != s.opts.OwnerID {
		return errResponse(core.ErrUnauthorized)
	}
	rows, err := s.store.RecentAudit(ctx, 15)
	if err != nil {
		return errResponse(err)
	}
	return text(auditText(rows, s.opts.Location)), nil
}

func (s *Service) settings(ctx context.Context, userID int64) (Response, error) {
	var b strings.Builder
	b.WriteString("Settings\n\n")
	fmt.Fprintf(&b, "Timezone: %s\n", s.opts.Location)
	fmt.Fprintf(&b, "Split: %s of each shared amount is yours\n", s.opts.Ratio)
	fmt.Fprintf(&b, "Undo window: %s\n", s.opts.UndoWindow)
	fmt.Fprintf(&b, "Duplicate warning window: %s\n", s.opts.Guard.DuplicateWindow)
	fmt.Fprintf(&b, "Quiet alert after: %d days\n", s.opts.Guard.ZeroActivityDays)

	if userID != s.opts.OwnerID {
		return text(strings.TrimRight(b.String(), "\n")), nil
	}

	users, err := s.store.AuthorizedUsers(ctx)
	if err != nil {
		return errResponse(err)
	}
	b.WriteString("\nAuthorized users:\n")
	if len(users) == 0 {
		b.WriteString("  none\n")
	}
	for _, u := range users {
		fmt.Fprintf(&b, "  %d (approved %s)\n", u.UserID, u.ApprovedAt.Format("2006-01-02"))
	}

	pending, err := s.store.PendingAuthorizations(ctx)
	if err != nil {
		return errResponse(err)
	}
	resp := Response{}
	if len(pending) > 0 {
		b.WriteString("\nPending requests:\n")
		for _, p := range pending {
			fmt.Fprintf(&b, "  %s (id %d)\n", p.FullName, p.UserID)
			resp.Buttons = append(resp.Buttons, []Button{
				{Label: fmt.Sprintf("Approve %s", p.FullName), Data: fmt.Sprintf("auth_approve_%d", p.UserID)},
				{Label: fmt.Sprintf("Deny %s", p.FullName), Data: fmt.Sprintf("auth_deny_%d", p.UserID)},
			})
		}
	}
	resp.Text = strings.TrimRight(b.String(), "\n")
	return resp, nil
}

func (s *Service) approve(ctx context.Context, userID int64, args []string, now time.Time) (Response, error) {
	if userID != s.opts.OwnerID {
		return errResponse(core.ErrUnauthorized)
	}
	if len(args) == 0 {
		return text("Usage: /approve <user id>"), nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return text(fmt.Sprintf("%q is not a user id.", args[0])), nil
	}

	if err := s.store.ApproveUser(ctx, target, userID, now, uuid.NewString()); err != nil {
		return errResponse(err)
	}
	s.send(ctx, target, "You now have access to the commission ledger. Send /start to begin.")
	return text(fmt.Sprintf("User %d approved.", target)), nil
}

func (s *Service) revoke(ctx context.Context, userID int64, args []string, now time.Time) (Response, error) {
	if userID != s.opts.OwnerID {
		return errResponse(core.ErrUnauthorized)
	}
	if len(args) == 0 {
		return text("Usage: /revoke <user id>"), nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return text(fmt.Sprintf("%q is not a user id.", args[0])), nil
	}

	if err := s.store.RevokeUser(ctx, target, userID, now, uuid.NewString()); err != nil {
		return errResponse(err)
	}
	if err := s.store.RemovePending(ctx, target); err != nil {
		return errResponse(err)
	}
	return text(fmt.Sprintf("User %d no longer has access.", target)), nil
}

// HandleCallback resolves an inline button press.
func (s *Service) HandleCallback(ctx context.Context, userID int64, data string) (Response, error) {
	now := s.clock()

	switch {
	case strings.HasPrefix(data, "auth_approve_"):
		return s.approve(ctx, userID, []string{strings.TrimPrefix(data, "auth_approve_")}, now)
	case strings.HasPrefix(data, "auth_deny_"):
		return s.revoke(ctx, userID, []string{strings.TrimPrefix(data, "auth_deny_")}, now)
	case data == "clear_confirm":
		if userID != s.opts.OwnerID {
			return errResponse(core.ErrUnauthorized)
		}
		if err := s.store.ClearAll(ctx, userID, uuid.NewString(), now); err != nil {
			return errResponse(err)
		}
		s.reports.Reset()
		if _, err := s.periods.Ensure(ctx, now); err != nil {
			return errResponse(err)
		}
		s.logger.WarnContext(ctx, "Database wiped", log.FieldActor, userID)
		return text("Everything has been wiped. The ledger starts fresh this month."), nil
	case data == "clear_cancel":
		if userID != s.opts.OwnerID {
			return errResponse(core.ErrUnauthorized)
		}
		return text("Nothing was deleted."), nil
	default:
		return text("That button is no longer valid."), nil
	}
}
