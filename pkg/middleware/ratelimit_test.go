package middleware

import (
	"sync"
	"testing"
	"time"
)

func TestTokenBucket_Allow(t *testing.T) {
	tb := NewTokenBucket(10, 10)

	for i := 0; i < 10; i++ {
		if !tb.Allow("user1") {
			t.Errorf("request %d should be allowed (burst)", i+1)
		}
	}

	if tb.Allow("user1") {
		t.Error("request 11 should be blocked (exhausted burst)")
	}

	time.Sleep(100 * time.Millisecond)

	if !tb.Allow("user1") {
		t.Error("request should be allowed after refill")
	}
	if tb.Allow("user1") {
		t.Error("request should be blocked after consuming refilled token")
	}
}

func TestTokenBucket_PerKeyIsolation(t *testing.T) {
	tb := NewTokenBucket(5, 5)

	for i := 0; i < 5; i++ {
		tb.Allow("user1")
	}
	if tb.Allow("user1") {
		t.Error("user1 should be blocked")
	}
	if !tb.Allow("user2") {
		t.Error("user2 should be allowed (separate bucket)")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(100, 10)

	for i := 0; i < 10; i++ {
		tb.Allow("user1")
	}
	time.Sleep(100 * time.Millisecond)

	allowed := 0
	for i := 0; i < 15; i++ {
		if tb.Allow("user1") {
			allowed++
		}
	}
	if allowed < 8 || allowed > 12 {
		t.Errorf("expected ~10 allowed requests after refill, got %d", allowed)
	}
}

func TestTokenBucket_MaxCap(t *testing.T) {
	tb := NewTokenBucket(10, 5)

	time.Sleep(1 * time.Second)

	allowed := 0
	for i := 0; i < 10; i++ {
		if tb.Allow("user1") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected 5 allowed requests (max cap), got %d", allowed)
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb := NewTokenBucket(100, 100)

	var wg sync.WaitGroup
	var allowed, blocked int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if tb.Allow("concurrent") {
					allowed++
				} else {
					blocked++
				}
			}
		}()
	}
	wg.Wait()

	if allowed < 90 || allowed > 120 {
		t.Errorf("expected ~100 allowed, got %d (blocked: %d)", allowed, blocked)
	}
}

func BenchmarkTokenBucket_Allow(b *testing.B) {
	tb := NewTokenBucket(1000000, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tb.Allow("user1")
	}
}

func BenchmarkTokenBucket_AllowParallel(b *testing.B) {
	tb := NewTokenBucket(1000000, 10000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tb.Allow("concurrent")
		}
	})
}
