package timeutil

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	got := c.Advance(250 * time.Millisecond)
	if want := start.Add(250 * time.Millisecond); !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("Advance() = %v, want %v", got, want)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set() did not reset time")
	}
}

func TestMsRoundTrip(t *testing.T) {
	a := Ms(1000)
	b := Ms(1250)
	if d := SinceMs(b, a); d != 250 {
		t.Errorf("SinceMs = %v, want 250", d)
	}
}
