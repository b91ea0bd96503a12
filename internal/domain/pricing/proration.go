package pricing

import (
	"time"

	"github.com/go-faster/errors"
)

const (
	day         = 24 * time.Hour
	daysInMonth = 30
)

// Prorate converts a monthly unit price into a one-time charge for the whole
// months remaining until end. At least one month is always charged, even when
// end is already in the past.
func Prorate(monthly Money, end, now time.Time) (Money, int, error) {
	if monthly < 0 {
		return 0, 0, errors.Wrapf(ErrNegativePrice, "prorate monthly price %d", monthly)
	}
	months := RemainingMonths(end, now)
	charged, err := monthly.Mul(int64(months))
	if err != nil {
		return 0, 0, errors.Wrap(err, "prorate")
	}
	return charged, months, nil
}

// RemainingMonths returns ceil(remaining whole days / 30), never less than 1.
func RemainingMonths(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	days := int(remaining / day)
	months := (days + daysInMonth - 1) / daysInMonth
	if months < 1 {
		months = 1
	}
	return months
}

// MonthsInPeriod returns how many monthly add-on charges a billing period of
// the given length carries.
func MonthsInPeriod(days int) int {
	months := days / daysInMonth
	if months < 1 {
		months = 1
	}
	return months
}
