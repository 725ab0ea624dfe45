package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRealClock_After(t *testing.T) {
	select {
	case <-RealClock{}.After(5 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestRealClock_Ticker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestMockClock_ZeroDurationFiresImmediately(t *testing.T) {
	c := NewMockClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Error("After(0) should be ready")
	}
}

func TestMockClock_WaitForTimers(t *testing.T) {
	c := NewMockClock(epoch)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.After(time.Minute)
	}()
	if !c.WaitForTimers(1, time.Second) {
		t.Fatal("WaitForTimers timed out")
	}
	if c.WaitForTimers(2, 20*time.Millisecond) {
		t.Error("WaitForTimers reported a timer that was never created")
	}
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second)

	c.Advance(time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("no tick after one period")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Error("tick after Stop")
	default:
	}
}
