package flock

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestTryLock_ExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".App.switch.lock")
	ctx := context.Background()

	first := New(path)
	ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}

	second := New(path)
	ok, err = second.TryLock(ctx)
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if ok {
		t.Fatal("second holder must not acquire a held lock")
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = second.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("TryLock after release: ok=%v err=%v", ok, err)
	}
	if err := second.Unlock(ctx); err != nil {
		t.Fatalf("Unlock second: %v", err)
	}
}

func TestTryLock_SameInstanceIsNotReentrant(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "lock"))
	ctx := context.Background()

	if ok, err := l.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	if ok, err := l.TryLock(ctx); err != nil || ok {
		t.Fatalf("re-entrant TryLock must fail: ok=%v err=%v", ok, err)
	}
	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestLock_RespectsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	holder := New(path)
	if ok, err := holder.TryLock(context.Background()); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer holder.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := New(path).Lock(ctx); err == nil {
		t.Fatal("expected Lock to fail when context expires")
	}
}
