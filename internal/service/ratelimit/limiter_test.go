package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenExhaustion(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(3, 1, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected token %d allowed", i)
		}
	}
	if l.Allow() {
		t.Fatalf("expected empty bucket to deny")
	}
}

func TestRefill(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(2, 2, WithClock(func() time.Time { return now }))

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatalf("expected denial before refill")
	}

	now = now.Add(500 * time.Millisecond) // +1 token at 2/sec
	if !l.Allow() {
		t.Fatalf("expected refilled token")
	}
	if l.Allow() {
		t.Fatalf("expected only one token refilled")
	}
}

func TestRefillCapped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(2, 10, WithClock(func() time.Time { return now }))

	now = now.Add(time.Minute)
	if got := l.Tokens(); got != 2 {
		t.Fatalf("expected tokens capped at capacity, got %v", got)
	}
}
