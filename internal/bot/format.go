package bot

import (
	"fmt"
	"strings"
	"time"

	"commissioni/internal/core"
	"commissioni/internal/report"
	"commissioni/internal/storage"
)

func monthLabel(m core.MonthKey) string {
	t := m.Start(time.UTC)
	return t.Format("January 2006")
}

func welcomeText() string {
	var b strings.Builder
	b.WriteString("Welcome to the commission ledger.\n\n")
	b.WriteString("Send an amount to record a shared commission, e.g.:\n")
	b.WriteString("  7500 website deposit\n")
	b.WriteString("  1200.50 solo logo touch-up\n\n")
	b.WriteString("Shared amounts are split with your partner; add \"solo\" to keep the full amount.\n\n")
	b.WriteString("Commands:\n")
	b.WriteString("  /dashboard - current month overview\n")
	b.WriteString("  /balance [YYYY-MM] - what you owe your partner\n")
	b.WriteString("  /paid <amount> [YYYY-MM] - record a payout\n")
	b.WriteString("  /undo      - remove your last entry\n")
	b.WriteString("  /stats [YYYY-MM], /yearly [YYYY]\n")
	b.WriteString("  /history [YYYY] - closed-month statements\n")
	b.WriteString("  /export [YYYY-MM|YYYY] - CSV download\n")
	b.WriteString("  /settings  - configuration and access")
	return b.String()
}

func entryLine(e core.Entry, loc *time.Location) string {
	line := fmt.Sprintf("%s  %s", e.CreatedAt.In(loc).Format("Jan 02 15:04"), e.Amount.KES())
	if e.Solo {
		line += " (solo)"
	}
	if e.Note != "" {
		line += "  " + e.Note
	}
	return line
}

func dashboardText(stats report.MonthlyStats, recent []core.Entry, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s so far\n\n", monthLabel(stats.Month))
	fmt.Fprintf(&b, "Total: %s across %d entries\n", stats.Totals.Total.KES(), stats.Totals.EntryCount)
	fmt.Fprintf(&b, "Your share: %s\n", stats.Totals.UserTotal.KES())
	fmt.Fprintf(&b, "Partner share: %s\n", stats.Totals.PartnerTotal.KES())
	if stats.PaidOut.Cents > 0 {
		fmt.Fprintf(&b, "Paid out: %s\n", stats.PaidOut.KES())
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent entries:\n")
		for _, e := range recent {
			b.WriteString("  " + entryLine(e, loc) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func balanceText(owed core.Money) string {
	if owed.Cents <= 0 {
		return "You are settled up with your partner."
	}
	return fmt.Sprintf("You owe your partner %s.", owed.KES())
}

func statsText(stats report.MonthlyStats) string {
	var b strings.Builder
	state := "open"
	if stats.Closed {
		state = "closed"
	}
	fmt.Fprintf(&b, "%s (%s)\n\n", monthLabel(stats.Month), state)
	fmt.Fprintf(&b, "Total: %s across %d entries\n", stats.Totals.Total.KES(), stats.Totals.EntryCount)
	fmt.Fprintf(&b, "Average entry: %s\n", stats.Average.KES())
	fmt.Fprintf(&b, "Largest entry: %s, smallest: %s\n", stats.Largest.KES(), stats.Smallest.KES())
	fmt.Fprintf(&b, "Active days: %d, quiet days: %d", stats.ActiveDays, stats.InactiveDays)
	if len(stats.Weeks) > 0 {
		b.WriteString("\n\nBy week:\n")
		for _, w := range stats.Weeks {
			fmt.Fprintf(&b, "  %s  %s (%d)\n", w.Week, w.Total.KES(), w.Count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func yearlyText(ys report.YearlyStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n\n", ys.Year)
	fmt.Fprintf(&b, "Total: %s across %d entries\n", ys.Total.KES(), ys.Count)
	if len(ys.Months) > 0 {
		fmt.Fprintf(&b, "Monthly average: %s, best month: %s (%s)\n",
			ys.MonthAverage.KES(), ys.BestMonth.Month, ys.BestMonth.Total.KES())
		b.WriteString("\nBy month:\n")
		for _, m := range ys.Months {
			fmt.Fprintf(&b, "  %s  %s (%d)\n", m.Month, m.Total.KES(), m.EntryCount)
		}
	}
	if len(ys.TopWeeks) > 0 {
		b.WriteString("\nBusiest weeks:\n")
		for _, w := range ys.TopWeeks {
			fmt.Fprintf(&b, "  %s  %s (%d)\n", w.Week, w.Total.KES(), w.Count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func historyText(statements []core.Statement) string {
	if len(statements) == 0 {
		return "No closed months yet."
	}
	var b strings.Builder
	b.WriteString("Closed months:\n")
	for _, st := range statements {
		fmt.Fprintf(&b, "  %s  %s  %s (%d entries)\n",
			st.StatementID, st.Month, st.Total.KES(), st.EntryCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func auditText(rows []storage.AuditEntry, loc *time.Location) string {
	if len(rows) == 0 {
		return "The audit log is empty."
	}
	var b strings.Builder
	b.WriteString("Recent activity:\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %s  %s by %d", r.CreatedAt.In(loc).Format("Jan 02 15:04"), r.Action, r.Actor)
		if r.Detail != "" {
			b.WriteString("  " + r.Detail)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statementText(st core.Statement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s closed, statement %s\n\n", monthLabel(st.Month), st.StatementID)
	fmt.Fprintf(&b, "Total: %s across %d entries\n", st.Total.KES(), st.EntryCount)
	fmt.Fprintf(&b, "Your share: %s\n", st.UserTotal.KES())
	fmt.Fprintf(&b, "Partner share: %s", st.PartnerTotal.KES())
	return b.String()
}
