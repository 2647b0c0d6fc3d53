package overload

import (
	"testing"
	"time"
)

func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenial_AndCounts verifies that denials count toward both totals.
func TestRecordDenial_AndCounts(t *testing.T) {
	Reset()
	RecordAccepted()
	RecordDenial()
	RecordDenial()
	if n := RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	if n := DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
}

func TestIsOverloaded(t *testing.T) {
	Reset()
	// capacity = 1 rps * 10s * 50% = 5
	for i := 0; i < 5; i++ {
		RecordAccepted()
	}
	if IsOverloaded(10*time.Second, 1, 50) {
		t.Error("IsOverloaded() = true at capacity, want false")
	}
	RecordDenial()
	if !IsOverloaded(10*time.Second, 1, 50) {
		t.Error("IsOverloaded() = false above capacity, want true")
	}
	if IsOverloaded(10*time.Second, 0, 50) {
		t.Error("IsOverloaded() with rps=0 should be disabled")
	}
	Reset()
}
