package closedetector

import (
	"testing"
	"time"

	"signalengine/internal/model"
)

func tick(token string, price int64) model.Tick {
	return model.Tick{Exchange: "NSE", Token: token, Price: price}
}

func TestDetector_PriceStabilization(t *testing.T) {
	closeTime := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC) // 15:30 IST
	d := New(closeTime)
	d.StableFor = 3 * time.Second

	if d.Observe(tick("1", 50000), closeTime.Add(-time.Minute)) {
		t.Error("done before close")
	}
	if d.Observe(tick("1", 50100), closeTime.Add(1*time.Second)) {
		t.Error("done while price is changing")
	}
	if d.Observe(tick("1", 50200), closeTime.Add(2*time.Second)) {
		t.Error("done while price is changing")
	}
	if d.Observe(tick("1", 50200), closeTime.Add(3*time.Second)) {
		t.Error("done after 1s of stability")
	}
	if !d.Observe(tick("1", 50200), closeTime.Add(5*time.Second)) {
		t.Error("not done after 3s of stability")
	}

	p, ok := d.ClosingPrice("NSE:1")
	if !ok || p != 50200 {
		t.Errorf("closing price = %d, %v; want 50200", p, ok)
	}
}

func TestDetector_WaitsForEveryInstrument(t *testing.T) {
	closeTime := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	d := New(closeTime)
	d.StableFor = 2 * time.Second

	d.Observe(tick("1", 100), closeTime.Add(time.Second))
	d.Observe(tick("2", 200), closeTime.Add(time.Second))
	d.Observe(tick("2", 201), closeTime.Add(2*time.Second))

	if d.Observe(tick("1", 100), closeTime.Add(3*time.Second)) {
		t.Error("done while instrument 2 moved 1s ago")
	}
	if !d.Observe(tick("2", 201), closeTime.Add(4*time.Second)) {
		t.Error("not done with both instruments stable")
	}
}

func TestDetector_HardDeadline(t *testing.T) {
	closeTime := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	d := New(closeTime)
	d.MaxGrace = time.Minute

	if d.Observe(tick("1", 1), closeTime.Add(30*time.Second)) {
		t.Error("done before the deadline")
	}
	if !d.Observe(tick("1", 2), closeTime.Add(time.Minute)) {
		t.Error("not done at the deadline")
	}
	if got := d.Deadline(); !got.Equal(closeTime.Add(time.Minute)) {
		t.Errorf("deadline = %v", got)
	}
}
