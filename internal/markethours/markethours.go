// Package markethours knows the NSE session clock and trading calendar.
package markethours

import (
	"fmt"
	"time"

	"signalengine/internal/model"
)

// IST is the exchange time zone.
var IST = model.IST

// Cash-market session, minutes after midnight IST.
const (
	OpenMinute  = 9*60 + 15
	CloseMinute = 15*60 + 30
)

// lookahead bounds calendar scans; no NSE closure runs longer.
const lookahead = 10

// Date returns midnight IST of the calendar day containing t.
func Date(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

func clockOn(t time.Time, minute int) time.Time {
	return Date(t).Add(time.Duration(minute) * time.Minute)
}

// TodayOpen returns 09:15 IST on t's day.
func TodayOpen(t time.Time) time.Time { return clockOn(t, OpenMinute) }

// TodayClose returns 15:30 IST on t's day.
func TodayClose(t time.Time) time.Time { return clockOn(t, CloseMinute) }

// IsTradingDay reports whether t falls on a weekday that is not an NSE
// holiday.
func IsTradingDay(t time.Time) bool {
	switch t.In(IST).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(t)
}

// IsMarketOpen reports whether t is inside the session [09:15, 15:30) of a
// trading day.
func IsMarketOpen(t time.Time) bool {
	return IsTradingDay(t) && !t.Before(TodayOpen(t)) && t.Before(TodayClose(t))
}

// PreviousTradingDay returns d itself when it is a trading day, otherwise the
// closest earlier trading day (midnight IST).
func PreviousTradingDay(d time.Time) time.Time {
	return scan(Date(d), -1)
}

// NextTradingDay is PreviousTradingDay in the other direction.
func NextTradingDay(d time.Time) time.Time {
	return scan(Date(d), 1)
}

func scan(day time.Time, step int) time.Time {
	for i := 0; i < lookahead && !IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, step)
	}
	return day
}

// NextOpen returns the first session open at or after t.
func NextOpen(t time.Time) time.Time {
	if IsTradingDay(t) && t.Before(TodayOpen(t)) {
		return TodayOpen(t)
	}
	return TodayOpen(NextTradingDay(Date(t).AddDate(0, 0, 1)))
}

// StatusString describes the session state at t for logs.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "market open, closes in " + shortDur(TodayClose(t).Sub(t))
	}
	next := NextOpen(t).In(IST)
	return fmt.Sprintf("market closed, opens %s %s (in %s)",
		next.Format("Mon"), next.Format("15:04"), shortDur(next.Sub(t)))
}

func shortDur(d time.Duration) string {
	d = d.Truncate(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
