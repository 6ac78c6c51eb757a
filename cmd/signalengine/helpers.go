package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"signalengine/internal/backtest"
	"signalengine/internal/marketdata/replay"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseWhen parses a flag time. Values without a zone are IST.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range whenLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, model.IST)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD[ HH:MM[:SS]] (IST) or RFC 3339", s)
}

// timeRange resolves --from/--to. An empty to means the end of from's day.
func timeRange(from, to string) (time.Time, time.Time, error) {
	start, err := parseWhen(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to == "" {
		d := start.In(model.IST)
		end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, model.IST)
		return start, end, nil
	}
	end, err := parseWhen(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(to) == len("2006-01-02") {
		end = end.Add(24*time.Hour - time.Second)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, end, nil
}

// instrumentsOf lists the distinct feed instruments of cfgs in order.
func instrumentsOf(cfgs []strategy.Config) []replay.Instrument {
	seen := map[string]bool{}
	var out []replay.Instrument
	for _, c := range cfgs {
		c = c.WithDefaults()
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, replay.Instrument{Exchange: c.Exchange, Token: c.Token})
	}
	return out
}

// ticksFor keeps the ticks of one instrument key.
func ticksFor(ticks []model.Tick, key string) []model.Tick {
	var out []model.Tick
	for i := range ticks {
		if ticks[i].Key() == key {
			out = append(out, ticks[i])
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeResults prints a one-line summary per run.
func writeResults(w io.Writer, results []backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tTYPE\tINSTRUMENT\tTICKS\tTRADES\tWIN%\tPNL\tMAX DD")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f\t%.2f\t%.2f\n",
			r.StrategyID, r.Kind, r.Instrument, r.Ticks, r.Trades, r.WinRate, r.PnL, r.MaxDrawdown)
	}
	return tw.Flush()
}

// writeStatuses prints final snapshots.
func writeStatuses(w io.Writer, statuses []strategy.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tNAME\tTYPE\tSTATE\tTRADES\tPNL\tMESSAGE")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			s.StrategyID, s.Name, s.Kind, s.State, s.Trades, s.PnL, s.Message)
	}
	return tw.Flush()
}
