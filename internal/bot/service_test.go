package bot

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"commissioni/internal/guard"
	"commissioni/internal/log"
	"commissioni/internal/period"
	"commissioni/internal/report"
	"commissioni/internal/storage"
)

const ownerID int64 = 42

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	UserID int64
	Text   string
}

func (c *captureNotifier) Notify(_ context.Context, userID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{UserID: userID, Text: text})
	return nil
}

func (c *captureNotifier) Close() error { return nil }

func (c *captureNotifier) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type fixture struct {
	svc      *Service
	store    *storage.Store
	notifier *captureNotifier
	now      time.Time
}

func (f *fixture) setNow(t time.Time) { f.now = t }

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil), Component: "test"})
	machine := period.NewMachine(store, time.UTC, logger)
	engine := report.NewEngine(store, time.UTC)
	notifier := &captureNotifier{}

	f := &fixture{store: store, notifier: notifier, now: start}
	f.svc = NewService(store, machine, engine, notifier, logger, Options{
		OwnerID:    ownerID,
		Ratio:      decimal.NewFromFloat(0.5),
		Location:   time.UTC,
		UndoWindow: 5 * time.Minute,
		Guard: guard.Config{
			DuplicateWindow:   2 * time.Minute,
			ExtremeMultiplier: 2.0,
			ExtremeMinSample:  3,
			ZeroActivityDays:  7,
		},
		BoundaryWindow: 5 * time.Minute,
		ConfirmTimeout: 30 * time.Second,
	})
	f.svc.clock = func() time.Time { return f.now }

	if _, err := machine.Ensure(context.Background(), start); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	return f
}

func TestHandleTextRecordsEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "7500 website deposit")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "Recorded KES 7,500.00 for March 2024") {
		t.Errorf("response = %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "Your share KES 3,750.00, partner share KES 3,750.00") {
		t.Errorf("response missing split: %q", resp.Text)
	}

	entries, err := f.store.EntriesByMonth(ctx, "2024-03")
	if err != nil {
		t.Fatalf("EntriesByMonth() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Note != "website deposit" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestHandleTextSoloEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "1200.50 solo logo touch-up")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "Solo entry") {
		t.Errorf("response = %q", resp.Text)
	}

	entries, _ := f.store.EntriesByMonth(ctx, "2024-03")
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	e := entries[0]
	if !e.Solo || e.UserShare.Cents != 120050 || e.PartnerShare.Cents != 0 {
		t.Errorf("solo split = %+v", e)
	}
	if e.Note != "logo touch-up" {
		t.Errorf("Note = %q", e.Note)
	}
}

func TestHandleTextInvalidAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	for _, body := range []string{"hello", "-500", "12.3.4", ""} {
		resp, err := f.svc.HandleText(ctx, ownerID, "owner", body)
		if err != nil {
			t.Errorf("HandleText(%q) error = %v, want nil", body, err)
		}
		if !strings.Contains(resp.Text, "could not read that amount") {
			t.Errorf("HandleText(%q) = %q", body, resp.Text)
		}
	}
}

func TestHandleTextDuplicateWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	f.setNow(f.now.Add(time.Minute))

	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "5000")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "possible duplicate") {
		t.Errorf("no duplicate warning in %q", resp.Text)
	}

	// The warning is advisory: both entries are in the ledger.
	entries, _ := f.store.EntriesByMonth(ctx, "2024-03")
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestHandleTextDuplicateBehindNewerEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	f.setNow(f.now.Add(30 * time.Second))
	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "2500"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	f.setNow(f.now.Add(30 * time.Second))

	// The repeat is still inside the window even though another amount
	// was recorded in between.
	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "5000")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "possible duplicate") {
		t.Errorf("no duplicate warning in %q", resp.Text)
	}
}

func TestHandleTextExtremeUsesOpenMonthAverage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))

	// Big prior-month entries must not dilute the open month's average.
	for i := 0; i < 2; i++ {
		if _, err := f.svc.HandleText(ctx, ownerID, "owner", "50000"); err != nil {
			t.Fatalf("HandleText() error = %v", err)
		}
		f.setNow(f.now.Add(time.Hour))
	}

	f.setNow(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		if _, err := f.svc.HandleText(ctx, ownerID, "owner", "10"); err != nil {
			t.Fatalf("HandleText() error = %v", err)
		}
		f.setNow(f.now.Add(time.Hour))
	}

	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "50")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "this month's average") {
		t.Errorf("no extreme warning in %q", resp.Text)
	}
}

func TestUnknownUserGetsQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	resp, err := f.svc.HandleText(ctx, 7, "friend", "5000")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "owner has been asked") {
		t.Errorf("response = %q", resp.Text)
	}

	// Nothing was recorded and the owner was pinged.
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 0 {
		t.Errorf("unauthorized entry landed: %v", entries)
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || msgs[0].UserID != ownerID || !strings.Contains(msgs[0].Text, "asking for access") {
		t.Errorf("owner notifications = %v", msgs)
	}

	// Owner approves, the user can record.
	if _, err := f.svc.HandleCommand(ctx, ownerID, "owner", "approve", []string{"7"}); err != nil {
		t.Fatalf("approve error = %v", err)
	}
	if _, err := f.svc.HandleText(ctx, 7, "friend", "5000"); err != nil {
		t.Fatalf("HandleText() after approve error = %v", err)
	}
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 1 {
		t.Errorf("approved entry missing")
	}

	// Revoked users lose access again.
	if _, err := f.svc.HandleCommand(ctx, ownerID, "owner", "revoke", []string{"7"}); err != nil {
		t.Fatalf("revoke error = %v", err)
	}
	resp, _ = f.svc.HandleText(ctx, 7, "friend", "5000")
	if !strings.Contains(resp.Text, "owner has been asked") {
		t.Errorf("revoked user response = %q", resp.Text)
	}
}

func TestUndoCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	f.setNow(f.now.Add(2 * time.Minute))
	resp, err := f.svc.HandleCommand(ctx, ownerID, "owner", "undo", nil)
	if err != nil {
		t.Fatalf("undo error = %v", err)
	}
	if !strings.Contains(resp.Text, "Removed KES 5,000.00") {
		t.Errorf("undo response = %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "undo", nil)
	if err != nil {
		t.Fatalf("second undo error = %v", err)
	}
	if !strings.Contains(resp.Text, "nothing of yours to undo") {
		t.Errorf("second undo response = %q", resp.Text)
	}
}

func TestPaidAndBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "10000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	resp, err := f.svc.HandleCommand(ctx, ownerID, "owner", "balance", nil)
	if err != nil {
		t.Fatalf("balance error = %v", err)
	}
	if !strings.Contains(resp.Text, "owe your partner KES 5,000.00") {
		t.Errorf("balance = %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "paid", []string{"2000"})
	if err != nil {
		t.Fatalf("paid error = %v", err)
	}
	if !strings.Contains(resp.Text, "Marked KES 2,000.00 as paid") {
		t.Errorf("paid response = %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "owe your partner KES 3,000.00") {
		t.Errorf("paid balance = %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "balance", []string{"2024-03"})
	if err != nil {
		t.Fatalf("balance month error = %v", err)
	}
	if !strings.Contains(resp.Text, "March 2024") || !strings.Contains(resp.Text, "KES 3,000.00") {
		t.Errorf("month balance = %q", resp.Text)
	}
	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "balance", []string{"2024-02"})
	if err != nil {
		t.Fatalf("balance empty month error = %v", err)
	}
	if !strings.Contains(resp.Text, "settled up") {
		t.Errorf("empty month balance = %q", resp.Text)
	}
}

func TestExportCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "7500 deposit"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	resp, err := f.svc.HandleCommand(ctx, ownerID, "owner", "export", nil)
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if resp.File == nil {
		t.Fatal("export has no attachment")
	}
	if resp.File.Name != "commissions_2024-03.csv" {
		t.Errorf("filename = %q", resp.File.Name)
	}
	if !strings.Contains(string(resp.File.Content), "7500.00") {
		t.Errorf("csv content = %q", resp.File.Content)
	}
}

func TestBoundaryConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 31, 23, 58, 0, 0, time.UTC))

	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "5000 late invoice")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if !strings.Contains(resp.Text, "month boundary") {
		t.Fatalf("no confirmation question: %q", resp.Text)
	}
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 0 {
		t.Fatal("entry recorded before confirmation")
	}

	resp, err = f.svc.HandleText(ctx, ownerID, "owner", "yes")
	if err != nil {
		t.Fatalf("confirm error = %v", err)
	}
	if !strings.Contains(resp.Text, "Recorded KES 5,000.00") {
		t.Errorf("confirm response = %q", resp.Text)
	}
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 1 {
		t.Error("confirmed entry missing")
	}
}

func TestBoundaryDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 31, 23, 58, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "no")
	if err != nil {
		t.Fatalf("discard error = %v", err)
	}
	if !strings.Contains(resp.Text, "Discarded") {
		t.Errorf("discard response = %q", resp.Text)
	}
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 0 {
		t.Error("discarded entry landed")
	}
}

func TestBoundaryAutoCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 31, 23, 58, 0, 0, time.UTC))
	f.svc.opts.ConfirmTimeout = 50 * time.Millisecond

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, _ := f.store.EntriesByMonth(ctx, "2024-03")
		if len(entries) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auto-commit never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	found := false
	for _, m := range f.notifier.messages() {
		if m.UserID == ownerID && strings.Contains(m.Text, "No answer") {
			found = true
		}
	}
	if !found {
		t.Error("auto-commit did not notify the user")
	}
}

func TestWriteAfterDowntimeClosesBacklog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "10000 january work"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	// The process "comes back" two boundaries later.
	f.setNow(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	resp, err := f.svc.HandleText(ctx, ownerID, "owner", "2500 march work")
	if err != nil {
		t.Fatalf("HandleText() after downtime error = %v", err)
	}
	if !strings.Contains(resp.Text, "March 2024") {
		t.Errorf("entry not in March: %q", resp.Text)
	}

	if _, ok, _ := f.store.StatementByMonth(ctx, "2024-01"); !ok {
		t.Error("January was not sealed")
	}
	if _, ok, _ := f.store.StatementByMonth(ctx, "2024-02"); !ok {
		t.Error("February was not sealed")
	}

	var announced int
	for _, m := range f.notifier.messages() {
		if strings.Contains(m.Text, "statement STMT-") {
			announced++
		}
	}
	if announced != 2 {
		t.Errorf("statement announcements = %d, want 2", announced)
	}
}

func TestHistoryAndAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "10000 january work"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	f.setNow(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "2500 march work"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	resp, err := f.svc.HandleCommand(ctx, ownerID, "owner", "history", nil)
	if err != nil {
		t.Fatalf("HandleCommand(history) error = %v", err)
	}
	if !strings.Contains(resp.Text, "STMT-0001-2024-01") || !strings.Contains(resp.Text, "STMT-0002-2024-02") {
		t.Errorf("history missing statements: %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "history", []string{"2023"})
	if err != nil {
		t.Fatalf("HandleCommand(history 2023) error = %v", err)
	}
	if resp.Text != "No closed months yet." {
		t.Errorf("empty year history = %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, ownerID, "owner", "audit", nil)
	if err != nil {
		t.Fatalf("HandleCommand(audit) error = %v", err)
	}
	if !strings.Contains(resp.Text, "add_commission") || !strings.Contains(resp.Text, "close_month") {
		t.Errorf("audit log missing actions: %q", resp.Text)
	}

	resp, err = f.svc.HandleCommand(ctx, 77, "partner", "audit", nil)
	if err != nil {
		t.Fatalf("HandleCommand(audit) as stranger error = %v", err)
	}
	if strings.Contains(resp.Text, "Recent activity") {
		t.Error("stranger can read the audit log")
	}
}

func TestClearDatabaseFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "5000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	resp, err := f.svc.HandleCommand(ctx, ownerID, "owner", "clear_db", nil)
	if err != nil {
		t.Fatalf("clear_db error = %v", err)
	}
	if len(resp.Buttons) == 0 {
		t.Fatal("clear_db did not ask for confirmation")
	}

	// Non-owners cannot confirm.
	resp, err = f.svc.HandleCallback(ctx, 7, "clear_confirm")
	if err != nil {
		t.Fatalf("callback error = %v", err)
	}
	if !strings.Contains(resp.Text, "Only the owner") {
		t.Errorf("non-owner confirm = %q", resp.Text)
	}

	resp, err = f.svc.HandleCallback(ctx, ownerID, "clear_confirm")
	if err != nil {
		t.Fatalf("confirm error = %v", err)
	}
	if !strings.Contains(resp.Text, "wiped") {
		t.Errorf("confirm response = %q", resp.Text)
	}
	if entries, _ := f.store.EntriesByMonth(ctx, "2024-03"); len(entries) != 0 {
		t.Error("entries survived the wipe")
	}

	// The period state is reseeded so writes keep working.
	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "100"); err != nil {
		t.Fatalf("HandleText() after wipe error = %v", err)
	}
}

func TestScheduledJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	if _, err := f.svc.HandleText(ctx, ownerID, "owner", "10000"); err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}

	fired := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)
	if err := f.svc.WeeklySummary(ctx, fired, false); err != nil {
		t.Fatalf("WeeklySummary() error = %v", err)
	}
	if err := f.svc.PayoutReminder(ctx, fired, false); err != nil {
		t.Fatalf("PayoutReminder() error = %v", err)
	}

	quiet := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	if err := f.svc.ZeroActivityCheck(ctx, quiet, false); err != nil {
		t.Fatalf("ZeroActivityCheck() error = %v", err)
	}

	var weekly, payout, inactive bool
	for _, m := range f.notifier.messages() {
		switch {
		case strings.Contains(m.Text, "Weekly summary"):
			weekly = true
		case strings.Contains(m.Text, "Payout reminder"):
			payout = true
		case strings.Contains(m.Text, "no entries recorded"):
			inactive = true
		}
	}
	if !weekly {
		t.Error("weekly summary not sent")
	}
	if !payout {
		t.Error("payout reminder not sent")
	}
	if !inactive {
		t.Error("zero-activity alert not sent")
	}

	// A missed month-start replay seals the backlog without announcing.
	f.setNow(time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC))
	before := len(f.notifier.messages())
	if err := f.svc.MonthStart(ctx, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), true); err != nil {
		t.Fatalf("MonthStart() error = %v", err)
	}
	if _, ok, _ := f.store.StatementByMonth(ctx, "2024-03"); !ok {
		t.Error("March not sealed by replayed month start")
	}
	var freshMonth bool
	for _, m := range f.notifier.messages()[before:] {
		if strings.Contains(m.Text, "Fresh month") {
			freshMonth = true
		}
	}
	if freshMonth {
		t.Error("missed month start still announced the fresh month")
	}
}
