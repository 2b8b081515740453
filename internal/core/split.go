package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultSplitRatio is the user's fraction of every shared commission.
var DefaultSplitRatio = decimal.NewFromFloat(0.5)

// ParseSplitRatio parses the configured user fraction, e.g. "0.5".
// The ratio must lie in (0, 1].
func ParseSplitRatio(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid split ratio %q: %w", s, err)
	}
	if r.LessThanOrEqual(decimal.Zero) || r.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("split ratio %s out of range (0, 1]", r)
	}
	return r, nil
}

// Split divides a commission amount between the user and the partner.
// ratio is the user's fraction. solo assigns the full amount to the user.
// The shares always sum exactly to the amount: the user share is the
// half-up rounded ratio portion and the partner share is the remainder.
func Split(amount Money, ratio decimal.Decimal, solo bool) (user, partner Money) {
	if solo {
		return amount, Money{}
	}
	userCents := decimal.NewFromInt(amount.Cents).Mul(ratio).Round(0).IntPart()
	if userCents < 0 {
		userCents = 0
	}
	if userCents > amount.Cents {
		userCents = amount.Cents
	}
	return Money{Cents: userCents}, Money{Cents: amount.Cents - userCents}
}
