package kinflight

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRespectsCap(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", l.Pending())
	}

	blocked := make(chan error, 1)
	go func() { blocked <- l.Acquire(ctx) }()

	select {
	case <-blocked:
		t.Fatal("third Acquire should block while the cap is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("acquire 3 after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire never unblocked after Release")
	}
}

func TestAcquireUnboundedNeverBlocks(t *testing.T) {
	l := New(Unbounded)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if l.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 for an unbounded limiter", l.Pending())
	}
}

func TestAcquireCanceledContext(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to return an error for an already-canceled context")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- l.Acquire(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	l.Close()
	select {
	case err := <-blocked:
		if err == nil {
			t.Fatal("expected Close to unblock Acquire with an error")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the pending Acquire")
	}
}
