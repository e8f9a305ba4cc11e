package queue

import "testing"

func TestBackoffDelayCappedAtVisibilityBound(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		delay := backoffDelay(attempt)
		if delay > visibilityBackoffCap {
			t.Fatalf("backoffDelay(%d) = %v, exceeds cap %v", attempt, delay, visibilityBackoffCap)
		}
		if delay <= 0 {
			t.Fatalf("backoffDelay(%d) = %v, want positive", attempt, delay)
		}
	}
}

func TestBackoffDelayGrowsWithAttempt(t *testing.T) {
	early := backoffDelay(0)
	later := backoffDelay(5)
	if later < early {
		t.Errorf("expected backoff to grow (or plateau at the cap) with attempt count, got early=%v later=%v", early, later)
	}
}
