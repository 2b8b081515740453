package report

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"commissioni/internal/core"
	"commissioni/internal/storage"
)

func testEngine(t *testing.T, open core.MonthKey) (*Engine, *storage.Store) {
	t.Helper()

	s, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.InitPeriod(ctx, open); err != nil {
		t.Fatalf("InitPeriod() error = %v", err)
	}
	if err := s.EnsureUser(ctx, 42, "owner", time.Now()); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	return NewEngine(s, time.UTC), s
}

func addEntry(t *testing.T, s *storage.Store, cents int64, month core.MonthKey, at time.Time) {
	t.Helper()
	e := core.Entry{
		Actor:        42,
		Amount:       core.Money{Cents: cents},
		UserShare:    core.Money{Cents: cents / 2},
		PartnerShare: core.Money{Cents: cents - cents/2},
		CreatedAt:    at,
		Month:        month,
	}
	if _, err := s.AddEntry(context.Background(), e, "t"); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
}

func TestMonthlyStats(t *testing.T) {
	ctx := context.Background()
	e, s := testEngine(t, "2024-03")

	addEntry(t, s, 100000, "2024-03", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	addEntry(t, s, 300000, "2024-03", time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC))
	addEntry(t, s, 200000, "2024-03", time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC))

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	stats, err := e.Monthly(ctx, "2024-03", now)
	if err != nil {
		t.Fatalf("Monthly() error = %v", err)
	}
	if stats.Totals.Total.Cents != 600000 {
		t.Errorf("Total = %d, want 600000", stats.Totals.Total.Cents)
	}
	if stats.Average.Cents != 200000 {
		t.Errorf("Average = %d, want 200000", stats.Average.Cents)
	}
	if stats.Largest.Cents != 300000 {
		t.Errorf("Largest = %d, want 300000", stats.Largest.Cents)
	}
	if stats.Smallest.Cents != 100000 {
		t.Errorf("Smallest = %d, want 100000", stats.Smallest.Cents)
	}
	if stats.ActiveDays != 2 {
		t.Errorf("ActiveDays = %d, want 2", stats.ActiveDays)
	}
	if len(stats.Days) != 2 || stats.Days[0].Day != 5 || stats.Days[0].Total.Cents != 400000 {
		t.Errorf("Days = %v", stats.Days)
	}
	// Mar 5 2024 is ISO week 10, Mar 12 is week 11.
	if len(stats.Weeks) != 2 || stats.Weeks[0].Week != "2024-W10" || stats.Weeks[0].Total.Cents != 400000 {
		t.Errorf("Weeks = %v", stats.Weeks)
	}
	// 20 elapsed days in the running month, 2 active.
	if stats.InactiveDays != 18 {
		t.Errorf("InactiveDays = %d, want 18", stats.InactiveDays)
	}
	if stats.Closed {
		t.Error("open month reported as closed")
	}
}

func TestMonthlyStatsCachesClosedMonths(t *testing.T) {
	ctx := context.Background()
	e, s := testEngine(t, "2024-03")

	addEntry(t, s, 100000, "2024-03", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	closeAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.CloseMonth(ctx, "2024-03", closeAt, "t"); err != nil {
		t.Fatalf("CloseMonth() error = %v", err)
	}

	first, err := e.Monthly(ctx, "2024-03", closeAt)
	if err != nil {
		t.Fatalf("Monthly() error = %v", err)
	}
	if !first.Closed {
		t.Fatal("closed month not reported as closed")
	}
	// Closed month stats use the full month length.
	if first.InactiveDays != 30 {
		t.Errorf("InactiveDays = %d, want 30", first.InactiveDays)
	}

	if _, ok := e.cache.get("2024-03"); !ok {
		t.Error("closed month stats not cached")
	}

	e.Reset()
	if _, ok := e.cache.get("2024-03"); ok {
		t.Error("cache survived Reset()")
	}
}

func TestYearlyStats(t *testing.T) {
	ctx := context.Background()
	e, s := testEngine(t, "2024-02")

	addEntry(t, s, 100000, "2024-02", time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC))
	addEntry(t, s, 200000, "2024-02", time.Date(2024, 2, 6, 10, 0, 0, 0, time.UTC))
	if _, err := s.CloseMonth(ctx, "2024-02", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "t"); err != nil {
		t.Fatalf("CloseMonth() error = %v", err)
	}
	addEntry(t, s, 400000, "2024-03", time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC))

	ys, err := e.Yearly(ctx, 2024)
	if err != nil {
		t.Fatalf("Yearly() error = %v", err)
	}
	if ys.Total.Cents != 700000 || ys.Count != 3 {
		t.Errorf("year total = %d/%d, want 700000/3", ys.Total.Cents, ys.Count)
	}
	if len(ys.Months) != 2 || ys.Months[0].Month != "2024-02" || ys.Months[1].Month != "2024-03" {
		t.Errorf("Months = %v", ys.Months)
	}
	if ys.MonthAverage.Cents != 350000 {
		t.Errorf("MonthAverage = %d, want 350000", ys.MonthAverage.Cents)
	}
	if ys.BestMonth.Month != "2024-03" {
		t.Errorf("BestMonth = %s, want 2024-03", ys.BestMonth.Month)
	}
	if len(ys.TopWeeks) == 0 {
		t.Fatal("TopWeeks is empty")
	}
	// The March entry alone beats the two February ones combined per week.
	if ys.TopWeeks[0].Total.Cents != 400000 {
		t.Errorf("TopWeeks[0].Total = %d, want 400000", ys.TopWeeks[0].Total.Cents)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, s := testEngine(t, "2024-03")

	addEntry(t, s, 750000, "2024-03", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	addEntry(t, s, 123450, "2024-03", time.Date(2024, 3, 6, 11, 30, 0, 0, time.UTC))

	var buf bytes.Buffer
	name, err := e.ExportMonth(ctx, &buf, "2024-03")
	if err != nil {
		t.Fatalf("ExportMonth() error = %v", err)
	}
	if name != "commissions_2024-03.csv" {
		t.Errorf("filename = %q", name)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "id,timestamp,amount,user_share,partner_share,note") {
		t.Errorf("csv missing header: %q", out)
	}
	if !strings.Contains(out, "TOTAL,,8734.50,4367.25,4367.25,") {
		t.Errorf("csv missing total row: %q", out)
	}

	parsed, err := ReadCSV(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("ReadCSV() returned %d entries, want 2", len(parsed))
	}
	if parsed[0].Amount.Cents != 750000 || parsed[1].Amount.Cents != 123450 {
		t.Errorf("round trip amounts = %d, %d", parsed[0].Amount.Cents, parsed[1].Amount.Cents)
	}
	if parsed[0].UserShare.Cents+parsed[0].PartnerShare.Cents != parsed[0].Amount.Cents {
		t.Error("round trip shares do not sum to amount")
	}
}

func TestExportYear(t *testing.T) {
	ctx := context.Background()
	e, s := testEngine(t, "2024-02")

	addEntry(t, s, 100000, "2024-02", time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC))
	if _, err := s.CloseMonth(ctx, "2024-02", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "t"); err != nil {
		t.Fatalf("CloseMonth() error = %v", err)
	}
	addEntry(t, s, 200000, "2024-03", time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	name, err := e.ExportYear(ctx, &buf, 2024)
	if err != nil {
		t.Fatalf("ExportYear() error = %v", err)
	}
	if name != "commissions_2024.csv" {
		t.Errorf("filename = %q", name)
	}
	parsed, err := ReadCSV(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(parsed) != 2 {
		t.Errorf("year export has %d entries, want 2", len(parsed))
	}
	if !strings.Contains(buf.String(), "TOTAL,,3000.00,1500.00,1500.00,") {
		t.Errorf("year total row missing: %q", buf.String())
	}
}

func TestExportEmptyMonth(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, "2024-03")

	var buf bytes.Buffer
	if _, err := e.ExportMonth(ctx, &buf, "2024-03"); err != nil {
		t.Fatalf("ExportMonth() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("empty export has %d lines, want header and total", len(lines))
	}
	if lines[1] != "TOTAL,,0.00,0.00,0.00," {
		t.Errorf("empty total row = %q", lines[1])
	}
}
