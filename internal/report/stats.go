// Package report computes monthly and yearly aggregates and exports the
// ledger as CSV. Closed months are immutable, so their stats are cached.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"commissioni/internal/core"
	"commissioni/internal/storage"
)

// MonthlyStats summarizes one month, open or closed.
type MonthlyStats struct {
	Month        core.MonthKey
	Totals       core.MonthTotals
	Average      core.Money
	Largest      core.Money
	Smallest     core.Money
	Days         []DayTotal
	Weeks        []WeekTotal
	ActiveDays   int
	InactiveDays int
	PaidOut      core.Money
	Closed       bool
}

// DayTotal is one calendar day's aggregate within a month.
type DayTotal struct {
	Day   int
	Total core.Money
	Count int
}

// WeekTotal is one ISO week's aggregate within a year.
type WeekTotal struct {
	Week  string // e.g. "2024-W09"
	Total core.Money
	Count int
}

// YearlyStats summarizes a calendar year across all its months.
type YearlyStats struct {
	Year         int
	Total        core.Money
	Count        int
	MonthAverage core.Money // across months with at least one entry
	BestMonth    core.MonthTotals
	Months       []core.MonthTotals
	TopWeeks     []WeekTotal
}

// Engine answers reporting queries against the store.
type Engine struct {
	store *storage.Store
	loc   *time.Location
	cache *statsCache
}

func NewEngine(store *storage.Store, loc *time.Location) *Engine {
	return &Engine{
		store: store,
		loc:   loc,
		cache: newStatsCache(24),
	}
}

// Monthly computes a month's stats. Stats for closed months are served
// from the cache, an open month is always recomputed because entries may
// still arrive.
func (e *Engine) Monthly(ctx context.Context, month core.MonthKey, now time.Time) (MonthlyStats, error) {
	if s, ok := e.cache.get(month); ok {
		return s, nil
	}

	entries, err := e.store.EntriesByMonth(ctx, month)
	if err != nil {
		return MonthlyStats{}, err
	}
	totals, err := e.store.MonthTotals(ctx, month)
	if err != nil {
		return MonthlyStats{}, err
	}
	payouts, err := e.store.PayoutsByMonth(ctx, month)
	if err != nil {
		return MonthlyStats{}, err
	}
	_, closed, err := e.store.StatementByMonth(ctx, month)
	if err != nil {
		return MonthlyStats{}, err
	}

	s := MonthlyStats{Month: month, Totals: totals, Closed: closed}
	for _, p := range payouts {
		s.PaidOut = s.PaidOut.Add(p.Amount)
	}

	byDay := make(map[int]*DayTotal)
	byWeek := make(map[string]*WeekTotal)
	for i, en := range entries {
		if en.Amount.Cents > s.Largest.Cents {
			s.Largest = en.Amount
		}
		if i == 0 || en.Amount.Cents < s.Smallest.Cents {
			s.Smallest = en.Amount
		}

		day := en.CreatedAt.In(e.loc).Day()
		dt, ok := byDay[day]
		if !ok {
			dt = &DayTotal{Day: day}
			byDay[day] = dt
		}
		dt.Total = dt.Total.Add(en.Amount)
		dt.Count++

		wy, ww := en.CreatedAt.In(e.loc).ISOWeek()
		week := fmt.Sprintf("%04d-W%02d", wy, ww)
		wt, ok := byWeek[week]
		if !ok {
			wt = &WeekTotal{Week: week}
			byWeek[week] = wt
		}
		wt.Total = wt.Total.Add(en.Amount)
		wt.Count++
	}
	for _, dt := range byDay {
		s.Days = append(s.Days, *dt)
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Day < s.Days[j].Day })
	for _, wt := range byWeek {
		s.Weeks = append(s.Weeks, *wt)
	}
	sort.Slice(s.Weeks, func(i, j int) bool { return s.Weeks[i].Week < s.Weeks[j].Week })

	s.ActiveDays = len(s.Days)
	if totals.EntryCount > 0 {
		s.Average = core.Money{Cents: totals.Total.Cents / int64(totals.EntryCount)}
	}

	// Inactive days count against the real month length; for the month
	// in progress only the days elapsed so far.
	span := month.Days()
	if month == core.MonthOf(now, e.loc) {
		span = now.In(e.loc).Day()
	}
	if s.InactiveDays = span - s.ActiveDays; s.InactiveDays < 0 {
		s.InactiveDays = 0
	}

	if closed {
		e.cache.put(month, s)
	}
	return s, nil
}

// Yearly aggregates a calendar year: month totals in order plus the five
// busiest ISO weeks.
func (e *Engine) Yearly(ctx context.Context, year int) (YearlyStats, error) {
	entries, err := e.store.EntriesByYear(ctx, year)
	if err != nil {
		return YearlyStats{}, err
	}

	ys := YearlyStats{Year: year}
	byMonth := make(map[core.MonthKey]*core.MonthTotals)
	byWeek := make(map[string]*WeekTotal)

	for _, en := range entries {
		ys.Total = ys.Total.Add(en.Amount)
		ys.Count++

		mt, ok := byMonth[en.Month]
		if !ok {
			mt = &core.MonthTotals{Month: en.Month}
			byMonth[en.Month] = mt
		}
		mt.Total = mt.Total.Add(en.Amount)
		mt.UserTotal = mt.UserTotal.Add(en.UserShare)
		mt.PartnerTotal = mt.PartnerTotal.Add(en.PartnerShare)
		mt.EntryCount++

		wy, ww := en.CreatedAt.In(e.loc).ISOWeek()
		week := fmt.Sprintf("%04d-W%02d", wy, ww)
		wt, ok := byWeek[week]
		if !ok {
			wt = &WeekTotal{Week: week}
			byWeek[week] = wt
		}
		wt.Total = wt.Total.Add(en.Amount)
		wt.Count++
	}

	for _, mt := range byMonth {
		ys.Months = append(ys.Months, *mt)
		if mt.Total.Cents > ys.BestMonth.Total.Cents {
			ys.BestMonth = *mt
		}
	}
	sort.Slice(ys.Months, func(i, j int) bool {
		return ys.Months[i].Month.Before(ys.Months[j].Month)
	})
	if len(ys.Months) > 0 {
		ys.MonthAverage = core.Money{Cents: ys.Total.Cents / int64(len(ys.Months))}
	}

	for _, wt := range byWeek {
		ys.TopWeeks = append(ys.TopWeeks, *wt)
	}
	sort.Slice(ys.TopWeeks, func(i, j int) bool {
		if ys.TopWeeks[i].Total.Cents == ys.TopWeeks[j].Total.Cents {
			return ys.TopWeeks[i].Week < ys.TopWeeks[j].Week
		}
		return ys.TopWeeks[i].Total.Cents > ys.TopWeeks[j].Total.Cents
	})
	if len(ys.TopWeeks) > 5 {
		ys.TopWeeks = ys.TopWeeks[:5]
	}

	return ys, nil
}
