package database

import "testing"

func TestUserMonthLockKey_DeterministicAndDistinct(t *testing.T) {
	a := UserMonthLockKey("user-1", "2026-01")
	b := UserMonthLockKey("user-1", "2026-01")
	if a != b {
		t.Fatalf("expected deterministic key, got %d != %d", a, b)
	}

	c := UserMonthLockKey("user-1", "2026-02")
	if a == c {
		t.Fatalf("expected distinct keys for different months, got %d == %d", a, c)
	}

	d := UserMonthLockKey("user-2", "2026-01")
	if a == d {
		t.Fatalf("expected distinct keys for different users, got %d == %d", a, d)
	}
}
