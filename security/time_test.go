package security

import (
	"testing"
	"time"
)

func TestIsExpiredAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, grace: 0, want: false},
		{name: "future", expiresAt: now.Add(time.Minute), grace: 0, want: false},
		{name: "past without grace", expiresAt: now.Add(-time.Second), grace: 0, want: true},
		{name: "past within grace", expiresAt: now.Add(-3 * time.Second), grace: 5 * time.Second, want: false},
		{name: "past beyond grace", expiresAt: now.Add(-6 * time.Second), grace: 5 * time.Second, want: true},
		{name: "exactly at boundary", expiresAt: now.Add(-5 * time.Second), grace: 5 * time.Second, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredAt(tt.expiresAt, now, tt.grace); got != tt.want {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpired(t *testing.T) {
	if IsTokenExpired(time.Now().Add(-2 * time.Second)) {
		t.Error("token within the default grace period should not be expired")
	}
	if !IsTokenExpired(time.Now().Add(-time.Minute)) {
		t.Error("token a minute past expiry should be expired")
	}
	if !IsExpiredAt(time.Now().Add(-2*time.Second), time.Now(), 0) {
		t.Error("token past expiry without grace should be expired")
	}
}

func TestExpiresIn(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      int64
	}{
		{name: "one hour", expiresAt: now.Add(time.Hour), want: 3600},
		{name: "rounds sub-second", expiresAt: now.Add(3600*time.Second - 200*time.Millisecond), want: 3600},
		{name: "past", expiresAt: now.Add(-time.Second), want: 0},
		{name: "zero", expiresAt: time.Time{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiresIn(tt.expiresAt, now); got != tt.want {
				t.Errorf("ExpiresIn() = %d, want %d", got, tt.want)
			}
		})
	}
}
