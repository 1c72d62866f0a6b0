package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sessionworks/broker/clock"
)

func TestFake_NowOnlyMovesOnAdvance(t *testing.T) {
	fake := clock.NewFake()

	before := fake.Now()
	if got := fake.Now(); !got.Equal(before) {
		t.Errorf("time moved without Advance: %v -> %v", before, got)
	}

	fake.Advance(5 * time.Second)
	if got := fake.Now().Sub(before); got != 5*time.Second {
		t.Errorf("advanced by %v, want 5s", got)
	}
}

func TestFake_AfterFuncFiresAtDeadline(t *testing.T) {
	fake := clock.NewFake()

	var fired atomic.Int32
	fake.AfterFunc(10*time.Second, func() { fired.Add(1) })

	fake.Advance(9 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("timer fired before deadline")
	}

	fake.Advance(1 * time.Second)
	if fired.Load() != 1 {
		t.Fatal("timer did not fire at deadline")
	}

	fake.Advance(time.Minute)
	if fired.Load() != 1 {
		t.Fatal("timer fired more than once")
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	fake := clock.NewFake()

	var fired atomic.Int32
	timer := fake.AfterFunc(time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}

	fake.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}
}

func TestFake_TimersFireInDeadlineOrder(t *testing.T) {
	fake := clock.NewFake()

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("timers fired in order %v, want [1 2 3]", order)
	}
}

func TestFake_TickerDelivers(t *testing.T) {
	fake := clock.NewFake()
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	fake.Advance(time.Second)

	select {
	case <-ticker.Chan():
	default:
		t.Fatal("no tick after one interval")
	}
}

func TestReal_AfterFunc(t *testing.T) {
	real := clock.Real()

	done := make(chan struct{})
	real.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real AfterFunc never fired")
	}
}
