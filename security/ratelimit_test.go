package security

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != DefaultRateLimiterMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimiterMaxEntries)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 5, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Allow() should return false once the burst is spent")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Allow() should track identifiers independently")
	}
}

func TestRateLimiter_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter(20, 1, slog.Default())
	defer rl.Stop()

	if !rl.Allow("id") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("id") {
		t.Fatal("second request should be limited")
	}

	time.Sleep(100 * time.Millisecond)

	if !rl.Allow("id") {
		t.Error("request should be allowed after refill")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	tests := []struct {
		name string
		rps  int
		want int
	}{
		{name: "fast", rps: 10, want: 1},
		{name: "one per second", rps: 1, want: 1},
		{name: "disabled rate", rps: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.rps, 1, nil)
			defer rl.Stop()

			if got := rl.RetryAfter(); got != tt.want {
				t.Errorf("RetryAfter() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 1, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // b is now least recently used
	rl.Allow("c")

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
	if _, ok := rl.entries["b"]; ok {
		t.Error("b should have been evicted")
	}
	if stats.MemoryPressure != 100.0 {
		t.Errorf("MemoryPressure = %v, want 100", stats.MemoryPressure)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1, slog.Default())
	defer rl.Stop()

	rl.Allow("idle")
	time.Sleep(20 * time.Millisecond)
	rl.Allow("active")

	rl.Cleanup(10 * time.Millisecond)

	if _, ok := rl.entries["idle"]; ok {
		t.Error("idle entry should be removed")
	}
	if _, ok := rl.entries["active"]; !ok {
		t.Error("active entry should be kept")
	}
	if rl.GetStats().TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", rl.GetStats().TotalCleanups)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiterWithConfig(1000, 1000, 50, slog.Default())
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow(fmt.Sprintf("id-%d-%d", id, j%10))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.GetStats().CurrentEntries; got > 50 {
		t.Errorf("CurrentEntries = %d, exceeds bound 50", got)
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 1, nil)
	rl.Stop()
	rl.Stop()
}
