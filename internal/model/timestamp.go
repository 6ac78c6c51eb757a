package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// IST is the exchange-local zone used for zoneless timestamps and interval
// truncation.
var IST = time.FixedZone("IST", 5*3600+30*60)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 seconds is far in the future; 1e12 ms is September 2001.
const epochMillisThreshold = 1e12

// maxEpochMillis is the largest epoch value that still converts to int64
// without overflow.
const maxEpochMillis = math.MaxInt64 / 1e3

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// NormalizeTimestamp resolves the timestamp formats seen across feeds and
// stores into a UTC time.Time. Zoneless strings are read as IST.
func NormalizeTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedTick)
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero timestamp", ErrMalformedTick)
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedTick)
		}
		return NormalizeTimestamp(*t)
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	case float64:
		return fromEpoch(t)
	case string:
		return parseTimestampString(t)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported timestamp type %T", ErrMalformedTick, v)
	}
}

func fromEpoch(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v > maxEpochMillis {
		return time.Time{}, fmt.Errorf("%w: epoch %v out of range", ErrMalformedTick, v)
	}
	if v <= 0 {
		return time.Time{}, fmt.Errorf("%w: non-positive epoch %v", ErrMalformedTick, v)
	}
	if v >= epochMillisThreshold {
		ms := int64(v)
		return time.UnixMilli(ms).UTC(), nil
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedTick)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, IST); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedTick, s)
}

// TruncateToInterval returns the start of the interval containing ts.
// Truncation is done on IST wall-clock minutes, so a 5-minute interval maps
// 09:17:42 to 09:15:00.
func TruncateToInterval(ts time.Time, interval time.Duration) time.Time {
	if interval < time.Minute {
		if interval < time.Second {
			interval = time.Second
		}
		return ts.UTC().Truncate(interval)
	}
	local := ts.In(IST)
	mins := int(interval / time.Minute)
	minuteOfDay := local.Hour()*60 + local.Minute()
	start := minuteOfDay - minuteOfDay%mins
	return time.Date(local.Year(), local.Month(), local.Day(), start/60, start%60, 0, 0, IST).UTC()
}
