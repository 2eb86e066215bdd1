package clock

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Expected %v, got %v", start, c.Now())
	}

	c.Advance(30 * time.Minute)
	if !c.Now().Equal(start.Add(30 * time.Minute)) {
		t.Errorf("Advance: expected %v, got %v", start.Add(30*time.Minute), c.Now())
	}

	c.Set(start)
	if got := c.Since(start.Add(-time.Hour)); got != time.Hour {
		t.Errorf("Since: expected 1h, got %v", got)
	}
	if got := c.Until(start.Add(time.Hour)); got != time.Hour {
		t.Errorf("Until: expected 1h, got %v", got)
	}
}

func TestRealClock(t *testing.T) {
	c := &RealClock{}
	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("RealClock.Now() %v outside [%v, %v]", now, before, after)
	}
}
