package stream

import (
	"testing"
	"time"

	"bookflow/config"
)

func defaultRetry() config.RetryConfig {
	return config.RetryConfig{Multiplier: 1, MinWait: 2 * time.Second, MaxWait: 20 * time.Second}
}

func TestBackoffWaitBounds(t *testing.T) {
	retry := defaultRetry()

	prev := time.Duration(0)
	for attempt := 0; attempt < 64; attempt++ {
		wait := backoffWait(attempt, retry)
		if wait < retry.MinWait {
			t.Fatalf("attempt %d: wait %v below min %v", attempt, wait, retry.MinWait)
		}
		if wait > retry.MaxWait {
			t.Fatalf("attempt %d: wait %v above max %v", attempt, wait, retry.MaxWait)
		}
		if wait < prev {
			t.Fatalf("attempt %d: wait %v decreased from %v", attempt, wait, prev)
		}
		prev = wait
	}

	if got := backoffWait(63, retry); got != retry.MaxWait {
		t.Fatalf("large attempt should sit at max, got %v", got)
	}
}

func TestBackoffWaitProgression(t *testing.T) {
	retry := config.RetryConfig{Multiplier: 1, MinWait: time.Second, MaxWait: 64 * time.Second}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 32 * time.Second,
		64 * time.Second, 64 * time.Second,
	}
	for attempt, expected := range want {
		if got := backoffWait(attempt, retry); got != expected {
			t.Fatalf("attempt %d: wait = %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoffWaitMultiplier(t *testing.T) {
	retry := config.RetryConfig{Multiplier: 3, MinWait: time.Second, MaxWait: time.Hour}
	if got := backoffWait(2, retry); got != 12*time.Second {
		t.Fatalf("wait = %v, want 12s", got)
	}
}
