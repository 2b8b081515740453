// Package guard implements advisory safety checks on incoming entries.
// Warnings never block a write, they only annotate the response.
package guard

import (
	"fmt"
	"time"

	"commissioni/internal/core"
)

type Kind string

const (
	KindDuplicate    Kind = "duplicate"
	KindExtreme      Kind = "extreme_amount"
	KindZeroActivity Kind = "zero_activity"
)

// Warning is an advisory note attached to an accepted entry.
type Warning struct {
	Kind    Kind
	Message string
}

// Config holds the thresholds for the checks. Zero values disable the
// corresponding check.
type Config struct {
	DuplicateWindow   time.Duration
	ExtremeMultiplier float64
	ExtremeMinSample  int
	ZeroActivityDays  int
}

// CheckDuplicate flags a new amount that matches any of the actor's
// entries within the window. recent must be the actor's entries, newest
// first, as stored before the new entry is written.
func CheckDuplicate(cfg Config, recent []core.Entry, amount core.Money, now time.Time) *Warning {
	if cfg.DuplicateWindow <= 0 {
		return nil
	}
	for _, e := range recent {
		// Newest first, so everything past the window edge is older too.
		if now.Sub(e.CreatedAt) > cfg.DuplicateWindow {
			return nil
		}
		if e.Amount == amount {
			return &Warning{
				Kind: KindDuplicate,
				Message: fmt.Sprintf("same amount (%s) recorded %s ago, possible duplicate",
					amount.KES(), now.Sub(e.CreatedAt).Round(time.Second)),
			}
		}
	}
	return nil
}

// CheckExtreme flags an amount far above the open month's average.
// totals must be the open month's aggregate before the new entry is
// written; the check stays silent until the month has enough entries to
// make the average meaningful.
func CheckExtreme(cfg Config, totals core.MonthTotals, amount core.Money) *Warning {
	if cfg.ExtremeMultiplier <= 0 || totals.EntryCount < cfg.ExtremeMinSample {
		return nil
	}
	avg := float64(totals.Total.Cents) / float64(totals.EntryCount)
	if avg <= 0 || float64(amount.Cents) <= avg*cfg.ExtremeMultiplier {
		return nil
	}
	return &Warning{
		Kind: KindExtreme,
		Message: fmt.Sprintf("%s is %.1fx this month's average of %s",
			amount.KES(), float64(amount.Cents)/avg, core.Money{Cents: int64(avg)}.KES()),
	}
}

// CheckZeroActivity flags a ledger that has gone quiet. hasEntries is
// false for a fresh database, which is not worth nagging about.
func CheckZeroActivity(cfg Config, lastEntryAt time.Time, hasEntries bool, now time.Time) *Warning {
	if cfg.ZeroActivityDays <= 0 || !hasEntries {
		return nil
	}
	quiet := now.Sub(lastEntryAt)
	threshold := time.Duration(cfg.ZeroActivityDays) * 24 * time.Hour
	if quiet < threshold {
		return nil
	}
	return &Warning{
		Kind: KindZeroActivity,
		Message: fmt.Sprintf("no entries recorded for %d days, last one was %s",
			int(quiet.Hours()/24), lastEntryAt.Format("2006-01-02")),
	}
}
