package ratelimit

import (
	"math"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{BaseDelay: time.Second, jitter: func() time.Duration { return 0 }}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{11, 2048 * time.Second},
		{12, MaxDelay},
		{30, MaxDelay},
		{100, MaxDelay},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_DelaySaturates(t *testing.T) {
	tests := []struct {
		name string
		base time.Duration
	}{
		{"ten seconds", 10 * time.Second},
		{"one day", 24 * time.Hour},
		{"max duration", time.Duration(math.MaxInt64 - int64(time.Second))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Backoff{BaseDelay: tt.base, jitter: func() time.Duration { return time.Second - 1 }}
			for _, attempt := range []int{0, 1, 29, 30} {
				got := b.Delay(attempt)
				if got <= 0 || got > MaxDelay+time.Second {
					t.Errorf("Delay(%d) = %v, want in (0, %v]", attempt, got, MaxDelay+time.Second)
				}
			}
		})
	}
}

func TestBackoff_DelayJitterRange(t *testing.T) {
	b := NewBackoff(nil, time.Second)

	for attempt := 0; attempt < 4; attempt++ {
		base := time.Duration(1<<uint(attempt)) * time.Second
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < base || d >= base+time.Second {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, base, base+time.Second)
			}
		}
	}
}

func TestBackoff_OnRateLimited(t *testing.T) {
	t.Run("retry after honored", func(t *testing.T) {
		l, _ := newTestLimiter(t, Config{})
		b := NewBackoff(l, time.Second)

		if got := b.OnRateLimited(2, 12*time.Second); got != 12*time.Second {
			t.Errorf("expected retry-after verbatim, got %v", got)
		}
		if _, wait := l.CheckAvailableCapacity(1); wait != 12*time.Second {
			t.Errorf("expected limiter paused for 12s, got %v", wait)
		}
	})

	t.Run("no retry after", func(t *testing.T) {
		l, _ := newTestLimiter(t, Config{})
		b := NewBackoff(l, time.Second)

		if got := b.OnRateLimited(2, 0); got != 4*time.Second {
			t.Errorf("expected Delay(2)=4s, got %v", got)
		}
		if _, wait := l.CheckAvailableCapacity(1); wait != 70*time.Second {
			t.Errorf("expected default pause, got %v", wait)
		}
	})
}

func TestNewBackoff_DefaultBase(t *testing.T) {
	b := NewBackoff(nil, 0)
	if b.BaseDelay != DefaultBaseDelay {
		t.Errorf("expected default base delay, got %v", b.BaseDelay)
	}
}
