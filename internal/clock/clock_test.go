package clock

import (
	"testing"
	"time"
)

func TestVirtualAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	if v.Unix() != start.Unix() {
		t.Fatalf("Expected start unix %d, got %d", start.Unix(), v.Unix())
	}

	v.Advance(300 * time.Second)
	if v.Unix() != start.Unix()+300 {
		t.Errorf("Expected unix %d after advance, got %d", start.Unix()+300, v.Unix())
	}
}

func TestVirtualToday(t *testing.T) {
	v := NewVirtual(time.Date(2025, 3, 1, 23, 55, 0, 0, time.UTC))

	if v.Today() != "2025-03-01" {
		t.Errorf("Expected 2025-03-01, got %s", v.Today())
	}

	v.Advance(10 * time.Minute)
	if v.Today() != "2025-03-02" {
		t.Errorf("Expected day rollover to 2025-03-02, got %s", v.Today())
	}
}
