package execution

import (
	"fmt"
	"time"

	"signalengine/internal/markethours"
	"signalengine/internal/model"
)

// ExpiryBucket selects which expiry an option contract is taken from.
type ExpiryBucket string

const (
	ExpiryWeekly     ExpiryBucket = "weekly"
	ExpiryNextWeekly ExpiryBucket = "next_weekly"
	ExpiryMonthly    ExpiryBucket = "monthly"
)

// ExpiryDate returns the expiry (midnight IST) for bucket as seen on the
// calendar day of at. Weekly is the nearest Thursday on or after that day,
// next_weekly is the Thursday after, and monthly is the last Thursday of the
// month (rolling to next month once it has passed). An expiry Thursday that
// is an exchange holiday moves to the previous trading day.
func ExpiryDate(bucket ExpiryBucket, at time.Time) (time.Time, error) {
	day := markethours.Date(at)

	var exp time.Time
	switch bucket {
	case ExpiryWeekly, "":
		exp = weeklyExpiry(day)
	case ExpiryNextWeekly:
		exp = markethours.PreviousTradingDay(nextThursday(day).AddDate(0, 0, 7))
	case ExpiryMonthly:
		exp = markethours.PreviousTradingDay(lastThursday(day.Year(), day.Month()))
		if exp.Before(day) {
			next := day.AddDate(0, 1, 1-day.Day())
			exp = markethours.PreviousTradingDay(lastThursday(next.Year(), next.Month()))
		}
	default:
		return time.Time{}, fmt.Errorf("%w: unknown expiry bucket %q", model.ErrInvalidConfiguration, bucket)
	}
	return exp, nil
}

// weeklyExpiry handles the case where this week's Thursday is a holiday that
// shifts the expiry before day (e.g. Thursday holiday, asking on Thursday).
func weeklyExpiry(day time.Time) time.Time {
	thu := nextThursday(day)
	exp := markethours.PreviousTradingDay(thu)
	if exp.Before(day) {
		exp = markethours.PreviousTradingDay(thu.AddDate(0, 0, 7))
	}
	return exp
}

func nextThursday(day time.Time) time.Time {
	delta := (int(time.Thursday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, delta)
}

func lastThursday(year int, month time.Month) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, markethours.IST)
	delta := (int(last.Weekday()) - int(time.Thursday) + 7) % 7
	return last.AddDate(0, 0, -delta)
}
