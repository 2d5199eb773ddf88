package server

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	bucket := newTokenBucket(100, 2)

	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("expected burst capacity of 2")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be empty")
	}

	time.Sleep(30 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("expected bucket to refill at 100/s")
	}
}

func TestAllowCreateEnforcesPerClientLimit(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{CreateLimit: 2, CreateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowCreate("10.0.0.1")
		if err != nil {
			t.Fatalf("AllowCreate: %v", err)
		}
		if !allowed {
			t.Fatalf("create %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := rl.AllowCreate("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowCreate: %v", err)
	}
	if allowed {
		t.Fatal("third create should be throttled")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a retry hint")
	}

	// A different client has its own bucket.
	allowed, _, err = rl.AllowCreate("10.0.0.2")
	if err != nil {
		t.Fatalf("AllowCreate: %v", err)
	}
	if !allowed {
		t.Fatal("distinct clients must not share a bucket")
	}
}

func TestAllowCreateDisabledWhenLimitUnset(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})

	for i := 0; i < 50; i++ {
		allowed, _, err := rl.AllowCreate("10.0.0.1")
		if err != nil || !allowed {
			t.Fatalf("unlimited limiter rejected create %d: %v", i, err)
		}
	}
}

type stubThrottleStore struct {
	calls []string
	allow bool
	retry time.Duration
}

func (s *stubThrottleStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.calls = append(s.calls, key)
	return s.allow, s.retry, nil
}

func TestAllowCreatePrefersSharedStore(t *testing.T) {
	stub := &stubThrottleStore{allow: false, retry: 42 * time.Second}
	rl := newRateLimiter(RateLimitConfig{CreateLimit: 3, CreateWindow: time.Minute})
	rl.store = stub

	allowed, retryAfter, err := rl.AllowCreate("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowCreate: %v", err)
	}
	if allowed {
		t.Fatal("store verdict should win")
	}
	if retryAfter != 42*time.Second {
		t.Fatalf("expected store retry hint, got %v", retryAfter)
	}
	if len(stub.calls) != 1 || stub.calls[0] != "vodgate:create:10.0.0.1" {
		t.Fatalf("unexpected store keys %v", stub.calls)
	}
}
