package bus

import (
	"context"
	"testing"
	"time"

	"signalengine/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[[]model.Tick](10)
	out1 := fo.Subscribe("strategies")
	out2 := fo.Subscribe("recorder")

	input := make(chan []model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- []model.Tick{{Token: "99926000", Exchange: "NSE", Price: 2216340}}

	for i, out := range []<-chan []model.Tick{out1, out2} {
		select {
		case batch := <-out:
			if len(batch) != 1 || batch[0].Token != "99926000" {
				t.Errorf("out%d: unexpected batch %+v", i+1, batch)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for batch", i+1)
		}
	}
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New[int](1)
	slow := fo.Subscribe("slow")
	fast := fo.Subscribe("fast")
	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- 1
	if v := <-fast; v != 1 {
		t.Fatalf("fast got %d", v)
	}
	input <- 2 // slow is still full
	close(input)
	<-done

	select {
	case name := <-dropped:
		if name != "slow" {
			t.Errorf("drop on %q, want slow", name)
		}
	default:
		t.Fatal("expected a drop")
	}
	if len(dropped) != 0 {
		t.Errorf("unexpected extra drops: %d", len(dropped))
	}

	if v, ok := <-slow; !ok || v != 1 {
		t.Errorf("expected first value 1, got %d (open=%v)", v, ok)
	}
	if _, ok := <-slow; ok {
		t.Error("expected output closed after input closed")
	}

	stats := fo.Stats()
	if len(stats) != 2 {
		t.Fatalf("stats: %+v", stats)
	}
	if stats[0].Name != "slow" || stats[0].Dropped != 1 || stats[0].Cap != 1 {
		t.Errorf("slow stats %+v", stats[0])
	}
	if stats[1].Dropped != 0 {
		t.Errorf("fast stats %+v", stats[1])
	}
}

func TestFanOut_SubscribeAfterRunPanics(t *testing.T) {
	fo := New[int](1)
	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	// Run marks itself running before reading input.
	input <- 1
	defer func() {
		close(input)
		<-done
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fo.Subscribe("late")
}
