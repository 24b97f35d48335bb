package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter()
	key := "/articles"
	if err := l.Register(key, Config{RequestsPerSecond: 1, Burst: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !l.Allow(key) {
		t.Errorf("expected Allow to return true for initial request")
	}
	if l.Allow(key) {
		t.Errorf("expected Allow to return false when burst exceeded")
	}

	// Raise the rate; a token appears within 10ms.
	if err := l.Register(key, Config{RequestsPerSecond: 100, Burst: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow(key) {
		t.Errorf("expected Allow to return true after increasing rate and waiting")
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := NewLimiter()
	for _, k := range []string{"A", "B"} {
		if err := l.Register(k, Config{RequestsPerSecond: 1, Burst: 1}); err != nil {
			t.Fatalf("register %s: %v", k, err)
		}
	}

	if !l.Allow("A") {
		t.Error("A should be allowed")
	}
	if l.Allow("A") {
		t.Error("A should be blocked")
	}
	if !l.Allow("B") {
		t.Error("B should be allowed (independent of A)")
	}
}

func TestLimiter_UnknownKeyIsUnlimited(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 10; i++ {
		if !l.Allow("nope") {
			t.Fatalf("request %d: unknown key must not be limited", i)
		}
	}

	if err := l.Register("gone", Config{RequestsPerSecond: 1, Burst: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	l.Allow("gone")
	if err := l.Replace(nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !l.Allow("gone") {
		t.Error("removed key must not be limited")
	}
}

func TestLimiter_Replace(t *testing.T) {
	l := NewLimiter()
	for _, k := range []string{"/kept", "/dropped"} {
		if err := l.Register(k, Config{RequestsPerSecond: 1, Burst: 1}); err != nil {
			t.Fatalf("register %s: %v", k, err)
		}
		l.Allow(k)
	}

	if err := l.Replace(map[string]Config{"/kept": {RequestsPerSecond: 1, Burst: 1}, "/new": {RequestsPerSecond: 1, Burst: 1}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if l.Len() != 2 {
		t.Errorf("buckets: got %d, want 2", l.Len())
	}
	if l.Allow("/kept") {
		t.Error("a kept bucket must keep its drained tokens")
	}
	if !l.Allow("/dropped") || !l.Allow("/dropped") {
		t.Error("a dropped key must not be limited")
	}
	if !l.Allow("/new") {
		t.Error("a new bucket starts full")
	}
}

func TestLimiter_ReplaceInvalidChangesNothing(t *testing.T) {
	l := NewLimiter()
	if err := l.Register("/a", Config{RequestsPerSecond: 1, Burst: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := l.Replace(map[string]Config{"/b": {RequestsPerSecond: 1, Burst: 1}, "/c": {RequestsPerSecond: 0, Burst: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if l.Len() != 1 {
		t.Errorf("buckets: got %d, want 1", l.Len())
	}
	l.Allow("/a")
	if l.Allow("/a") {
		t.Error("/a must still be limited")
	}
}

func TestLimiter_InvalidConfig(t *testing.T) {
	l := NewLimiter()
	for _, c := range []Config{{RequestsPerSecond: 0, Burst: 1}, {RequestsPerSecond: 1, Burst: 0}} {
		if err := l.Register("k", c); err == nil {
			t.Errorf("config %+v: expected error", c)
		}
	}
}
