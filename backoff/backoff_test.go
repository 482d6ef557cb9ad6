package backoff_test

import (
	"math"
	"testing"
	"time"

	"github.com/xraph/spool/backoff"
)

func TestExponential_Doubles(t *testing.T) {
	e := backoff.NewExponential(2*time.Second, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{10, 1024 * time.Second},
	}

	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_StrictlyIncreasing(t *testing.T) {
	e := backoff.NewExponential(time.Millisecond, 0)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		d := e.Delay(attempt)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v not greater than %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v", got, 10*time.Second)
	}
}

func TestExponential_Saturates(t *testing.T) {
	e := backoff.NewExponential(time.Hour, 0)
	if got := e.Delay(200); got != math.MaxInt64 {
		t.Errorf("Delay(200) = %v, want saturation", got)
	}
}

func TestDecide(t *testing.T) {
	base := 2 * time.Second

	tests := []struct {
		name         string
		attemptsMade int
		maxAttempts  int
		want         backoff.Decision
	}{
		{"first failure", 1, 3, backoff.Decision{Retry: true, Delay: base}},
		{"second failure", 2, 3, backoff.Decision{Retry: true, Delay: 2 * base}},
		{"exhausted", 3, 3, backoff.Decision{}},
		{"over budget", 4, 3, backoff.Decision{}},
		{"single attempt", 1, 1, backoff.Decision{}},
		{"zero budget", 1, 0, backoff.Decision{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoff.Decide(tt.attemptsMade, tt.maxAttempts, base); got != tt.want {
				t.Errorf("Decide(%d, %d) = %+v, want %+v", tt.attemptsMade, tt.maxAttempts, got, tt.want)
			}
		})
	}
}

func TestDecide_TerminatesWithinBudget(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 10; maxAttempts++ {
		retries := 0
		for attempt := 1; ; attempt++ {
			if !backoff.Decide(attempt, maxAttempts, time.Second).Retry {
				break
			}
			retries++
		}
		if retries != maxAttempts-1 {
			t.Errorf("maxAttempts=%d: %d retries, want %d", maxAttempts, retries, maxAttempts-1)
		}
	}
}
