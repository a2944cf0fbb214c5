package backoff

import (
	"testing"
	"time"
)

const samples = 1000

// TestDelay_WithinEqualJitterWindow verifies every sample lies in
// [delay/2, delay] for the clamped exponential delay.
func TestDelay_WithinEqualJitterWindow(t *testing.T) {
	base, maxDelay := time.Second, 8*time.Second
	tests := []struct {
		attempt int
		low     time.Duration
		high    time.Duration
	}{
		{attempt: -1, low: 500 * time.Millisecond, high: time.Second},
		{attempt: 0, low: 500 * time.Millisecond, high: time.Second},
		{attempt: 1, low: time.Second, high: 2 * time.Second},
		{attempt: 2, low: 2 * time.Second, high: 4 * time.Second},
		{attempt: 3, low: 4 * time.Second, high: 8 * time.Second},
		{attempt: 10, low: 4 * time.Second, high: 8 * time.Second},
		{attempt: 1000, low: 4 * time.Second, high: 8 * time.Second},
	}
	for _, tt := range tests {
		for range samples {
			if d := Delay(tt.attempt, base, maxDelay); d < tt.low || d > tt.high {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", tt.attempt, d, tt.low, tt.high)
			}
		}
	}
}

// TestDelay_IsJittered verifies samples are not all identical.
func TestDelay_IsJittered(t *testing.T) {
	seen := map[time.Duration]bool{}
	for range samples {
		seen[Delay(2, time.Second, time.Minute)] = true
	}
	if len(seen) < 2 {
		t.Error("Delay returned the same value every time")
	}
}

func TestDelay_ZeroBase(t *testing.T) {
	if d := Delay(3, 0, time.Second); d != 0 {
		t.Errorf("Delay = %v, want 0", d)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Attempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond}
	for range samples {
		if d := p.Delay(5); d < 75*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("Delay = %v", d)
		}
	}
	if Upload.Attempts < 1 || Upload.BaseDelay <= 0 {
		t.Errorf("Upload policy = %+v", Upload)
	}
}
