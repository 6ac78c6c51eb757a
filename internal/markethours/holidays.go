package markethours

import "time"

type holiday struct {
	month time.Month
	day   int
}

// NSE trading holidays by year, as published in the exchange circulars.
// Weekend holidays are omitted; they are non-trading days regardless.
var nseHolidays = map[int][]holiday{
	2025: {
		{time.February, 26}, // Mahashivratri
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr
		{time.April, 10},    // Mahavir Jayanti
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.April, 18},    // Good Friday
		{time.May, 1},       // Maharashtra Day
		{time.August, 15},   // Independence Day
		{time.August, 27},   // Ganesh Chaturthi
		{time.October, 2},   // Mahatma Gandhi Jayanti / Dussehra
		{time.October, 21},  // Diwali Laxmi Pujan
		{time.October, 22},  // Diwali Balipratipada
		{time.November, 5},  // Prakash Gurpurb
		{time.December, 25}, // Christmas
	},
	2026: {
		{time.January, 26},   // Republic Day
		{time.March, 3},      // Holi
		{time.March, 26},     // Shri Ram Navami
		{time.March, 31},     // Shri Mahavir Jayanti
		{time.April, 3},      // Good Friday
		{time.April, 14},     // Dr. Ambedkar Jayanti
		{time.May, 1},        // Maharashtra Day
		{time.May, 28},       // Bakri Id
		{time.June, 26},      // Muharram
		{time.September, 14}, // Ganesh Chaturthi
		{time.October, 2},    // Mahatma Gandhi Jayanti
		{time.October, 20},   // Dussehra
		{time.November, 10},  // Diwali Balipratipada
		{time.November, 24},  // Prakash Gurpurb
		{time.December, 25},  // Christmas
	},
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, 32)
	for year, days := range nseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
