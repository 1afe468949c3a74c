package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestUnlimitedWhenUnconfigured(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestBurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("request %d rejected within burst: %v", i, err)
		}
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("u1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("u1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestPerUserIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("u1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("u1 second request = %v", err)
	}
	// Another user has an untouched bucket.
	if err := l.Allow("u2"); err != nil {
		t.Errorf("u2 first request rejected: %v", err)
	}
}

func TestLazyRefill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("u1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("bucket not exhausted: %v", err)
	}

	// Backdate the last fill instead of sleeping; 60/min refills one token
	// per second.
	l.mu.Lock()
	l.users["u1"].lastFill = time.Now().Add(-2 * time.Second)
	l.mu.Unlock()

	if err := l.Allow("u1"); err != nil {
		t.Errorf("refilled bucket rejected: %v", err)
	}
}

func TestRefillCapsAtBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 600, BurstSize: 2})

	if err := l.Allow("u1"); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	l.users["u1"].lastFill = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	// A long idle period refills to the burst cap only.
	for i := 0; i < 2; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("request %d after idle rejected: %v", i, err)
		}
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("burst cap not enforced: %v", err)
	}
}
