package core

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

type (
	// MonthKey identifies one accounting period in "YYYY-MM" form.
	// Lexicographic ordering of keys matches chronological ordering.
	MonthKey string

	Money struct {
		Cents int64
	}

	// Entry is a single recorded commission. Once its month is closed the
	// entry is immutable; while the month is open it may only be removed
	// through the undo window.
	Entry struct {
		ID           int64
		Actor        int64
		Amount       Money
		Note         string
		Solo         bool
		UserShare    Money
		PartnerShare Money
		CreatedAt    time.Time
		Month        MonthKey
	}

	// Payout records money handed to the partner against the running balance.
	// Append-only.
	Payout struct {
		ID     int64
		Actor  int64
		Amount Money
		PaidAt time.Time
		Month  MonthKey
	}

	// Statement is the immutable record produced when a month closes.
	Statement struct {
		ID           int64
		StatementID  string
		Month        MonthKey
		Total        Money
		UserTotal    Money
		PartnerTotal Money
		EntryCount   int
		ClosedAt     time.Time
	}

	// MonthTotals is the running aggregate of an open or closed month.
	MonthTotals struct {
		Month        MonthKey
		Total        Money
		UserTotal    Money
		PartnerTotal Money
		EntryCount   int
	}

	AuthorizedUser struct {
		UserID     int64
		ApprovedBy int64
		ApprovedAt time.Time
		Name       string
	}

	PendingAuthorization struct {
		UserID      int64
		Username    string
		FullName    string
		RequestedAt time.Time
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPeriodClosed        = errors.New("period closed")
	ErrUndoExpired         = errors.New("undo window expired")
	ErrNothingToUndo       = errors.New("nothing to undo")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

var monthKeyRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// MonthOf resolves the accounting month an instant belongs to, in the
// configured timezone. This is the only place a timestamp is mapped to a
// month key.
func MonthOf(t time.Time, loc *time.Location) MonthKey {
	return MonthKey(t.In(loc).Format("2006-01"))
}

// ParseMonthKey validates a "YYYY-MM" string.
func ParseMonthKey(s string) (MonthKey, error) {
	if !monthKeyRe.MatchString(s) {
		return "", fmt.Errorf("invalid month key %q", s)
	}
	return MonthKey(s), nil
}

func (m MonthKey) Validate() error {
	_, err := ParseMonthKey(string(m))
	return err
}

// Start returns midnight on the first day of the month in loc.
func (m MonthKey) Start(loc *time.Location) time.Time {
	t, _ := time.ParseInLocation("2006-01", string(m), loc)
	return t
}

// Next returns the chronologically following month.
func (m MonthKey) Next() MonthKey {
	t := m.Start(time.UTC)
	return MonthKey(t.AddDate(0, 1, 0).Format("2006-01"))
}

// Before reports whether m is strictly earlier than other.
func (m MonthKey) Before(other MonthKey) bool {
	return string(m) < string(other)
}

// Days returns the number of days in the month.
func (m MonthKey) Days() int {
	start := m.Start(time.UTC)
	return start.AddDate(0, 1, -1).Day()
}

// StatementID builds the immutable statement identifier for a close event.
// seq is the statement row id, which grows monotonically per close.
func StatementID(seq int64, month MonthKey) string {
	return fmt.Sprintf("STMT-%04d-%s", seq, month)
}
