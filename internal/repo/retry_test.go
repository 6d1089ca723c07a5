package repo

import (
	"errors"
	"testing"
)

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"database is locked (5) (SQLITE_BUSY)": true,
		"database table is locked":             true,
		"constraint failed":                    false,
		"no such table: middleman_requests":    false,
	}
	for msg, want := range cases {
		if got := isBusy(errors.New(msg)); got != want {
			t.Errorf("isBusy(%q) = %v; want %v", msg, got, want)
		}
	}
	if isBusy(nil) {
		t.Fatalf("isBusy(nil) = true")
	}
}

func TestWithBusyRetry_StopsOnNonBusyError(t *testing.T) {
	permanent := errors.New("constraint failed")
	calls := 0
	err := withBusyRetry(func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v; want the permanent error unmodified", err)
	}
	if calls != 1 {
		t.Fatalf("non-busy error retried %d times", calls)
	}
}

func TestWithBusyRetry_BoundedOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	calls := 0
	err := withBusyRetry(func() error {
		calls++
		return busy
	})
	if err == nil {
		t.Fatalf("expected busy error after exhausting retries")
	}
	if calls != 1+busyRetries {
		t.Fatalf("busy error attempted %d times; want %d", calls, 1+busyRetries)
	}
}

func TestWithBusyRetry_RecoversAfterTransientBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	calls := 0
	err := withBusyRetry(func() error {
		calls++
		if calls < 3 {
			return busy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
