package timeutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	clock := RealClock{}
	done := make(chan struct{})
	timer := clock.AfterFunc(10*time.Millisecond, func() { close(done) })
	defer timer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("AfterFunc callback did not run")
	}
}

func TestRealClock_AfterFunc_Stop(t *testing.T) {
	clock := RealClock{}
	var ran atomic.Bool
	timer := clock.AfterFunc(50*time.Millisecond, func() { ran.Store(true) })

	if !timer.Stop() {
		t.Error("Stop() on an active timer should return true")
	}
	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Error("stopped callback ran")
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(5 * time.Millisecond)

	if got := clock.Since(start); got != 5*time.Millisecond {
		t.Errorf("Since(start) = %v, want 5ms", got)
	}
}

func TestMockClock_AfterFunc(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	calls := 0
	clock.AfterFunc(10*time.Millisecond, func() { calls++ })

	clock.Advance(9 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("callback ran early: calls = %d", calls)
	}
	if clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", clock.Pending())
	}

	clock.Advance(time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls = %d after deadline, want 1", calls)
	}

	clock.Advance(time.Hour)
	if calls != 1 {
		t.Errorf("callback ran more than once: calls = %d", calls)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestMockClock_AfterFunc_ZeroDuration(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	calls := 0
	clock.AfterFunc(0, func() { calls++ })

	clock.Advance(0)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMockClock_AfterFunc_Order(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var order []int
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	clock.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })

	clock.Advance(time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callbacks ran in order %v, want [1 2 3]", order)
	}
}

func TestMockClock_AfterFunc_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	calls := 0
	timer := clock.AfterFunc(10*time.Millisecond, func() { calls++ })

	if !timer.Stop() {
		t.Error("Stop() on an active timer should return true")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}

	clock.Advance(time.Second)
	if calls != 0 {
		t.Errorf("stopped callback ran %d times", calls)
	}
}

func TestMockClock_AfterFunc_CallbackMayReadClock(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var seen time.Time
	clock.AfterFunc(time.Second, func() { seen = clock.Now() })

	clock.Advance(2 * time.Second)

	if !seen.Equal(time.Unix(2, 0)) {
		t.Errorf("callback saw %v, want %v", seen, time.Unix(2, 0))
	}
}

func TestMockClock_Ticker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(5 * time.Millisecond)

	clock.Advance(5 * time.Millisecond)

	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker should have fired")
	}

	clock.Advance(time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its next interval")
	default:
	}
}

func TestMockClock_Ticker_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(5 * time.Millisecond)
	ticker.Stop()

	clock.Advance(10 * time.Millisecond)

	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
	if !ticker.(*MockTicker).Stopped() {
		t.Error("Stopped() = false after Stop()")
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Hour).(*MockTicker)

	now := time.Unix(42, 0)
	ticker.Trigger(now)

	select {
	case got := <-ticker.C():
		if !got.Equal(now) {
			t.Errorf("Trigger delivered %v, want %v", got, now)
		}
	default:
		t.Error("Trigger did not deliver a tick")
	}
}
