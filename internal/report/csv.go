package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"commissioni/internal/core"
)

var csvHeader = []string{"id", "timestamp", "amount", "user_share", "partner_share", "note"}

// WriteCSV renders entries as CSV with a trailing TOTAL row. Timestamps
// are written in the engine's timezone.
func (e *Engine) WriteCSV(w io.Writer, entries []core.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	var total, user, partner core.Money
	for _, en := range entries {
		rec := []string{
			strconv.FormatInt(en.ID, 10),
			en.CreatedAt.In(e.loc).Format(time.RFC3339),
			en.Amount.String(),
			en.UserShare.String(),
			en.PartnerShare.String(),
			en.Note,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
		total = total.Add(en.Amount)
		user = user.Add(en.UserShare)
		partner = partner.Add(en.PartnerShare)
	}

	totalRow := []string{"TOTAL", "", total.String(), user.String(), partner.String(), ""}
	if err := cw.Write(totalRow); err != nil {
		return fmt.Errorf("write csv total: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// ExportMonth writes one month's entries as CSV and returns the
// suggested filename.
func (e *Engine) ExportMonth(ctx context.Context, w io.Writer, month core.MonthKey) (string, error) {
	entries, err := e.store.EntriesByMonth(ctx, month)
	if err != nil {
		return "", err
	}
	if err := e.WriteCSV(w, entries); err != nil {
		return "", err
	}
	return fmt.Sprintf("commissions_%s.csv", month), nil
}

// ExportYear writes a whole calendar year's entries as CSV and returns
// the suggested filename.
func (e *Engine) ExportYear(ctx context.Context, w io.Writer, year int) (string, error) {
	entries, err := e.store.EntriesByYear(ctx, year)
	if err != nil {
		return "", err
	}
	if err := e.WriteCSV(w, entries); err != nil {
		return "", err
	}
	return fmt.Sprintf("commissions_%d.csv", year), nil
}

// ReadCSV parses a CSV produced by WriteCSV back into entries, dropping
// the TOTAL row. Used to verify exports.
func ReadCSV(r io.Reader) ([]core.Entry, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header")
	}

	var out []core.Entry
	for _, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("csv row has %d fields, want %d", len(rec), len(csvHeader))
		}
		if rec[0] == "TOTAL" {
			continue
		}
		var en core.Entry
		if en.ID, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
			return nil, fmt.Errorf("csv id %q: %w", rec[0], err)
		}
		if en.CreatedAt, err = time.Parse(time.RFC3339, rec[1]); err != nil {
			return nil, fmt.Errorf("csv timestamp %q: %w", rec[1], err)
		}
		if en.Amount, err = parseMoney(rec[2]); err != nil {
			return nil, fmt.Errorf("csv amount %q: %w", rec[2], err)
		}
		if en.UserShare, err = parseMoney(rec[3]); err != nil {
			return nil, fmt.Errorf("csv user share %q: %w", rec[3], err)
		}
		if en.PartnerShare, err = parseMoney(rec[4]); err != nil {
			return nil, fmt.Errorf("csv partner share %q: %w", rec[4], err)
		}
		en.Note = rec[5]
		out = append(out, en)
	}
	return out, nil
}

// parseMoney accepts the "1234.56" column format including a zero share,
// which the user-facing amount parser deliberately rejects.
func parseMoney(s string) (core.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, err
	}
	if d.IsNegative() {
		return core.Money{}, fmt.Errorf("negative value")
	}
	return core.Money{Cents: d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()}, nil
}
