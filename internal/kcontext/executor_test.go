package kcontext

import (
	"context"
	"testing"
	"time"
)

func TestEmitOnInlineRunsSynchronously(t *testing.T) {
	var d Dispatcher
	ran := false
	d.EmitOn(context.Background(), func() { ran = true })
	if !ran {
		t.Fatal("expected the zero-value Dispatcher to run fn inline")
	}
}

func TestEmitOnUsesConfiguredRunner(t *testing.T) {
	var invokedOn string
	d := Dispatcher{Run: func(fn func()) {
		invokedOn = "worker"
		fn()
	}}
	d.EmitOn(context.Background(), func() {})
	if invokedOn != "worker" {
		t.Fatal("expected EmitOn to dispatch through Run")
	}
}

func TestEmitOnResultDeliversValue(t *testing.T) {
	var d Dispatcher
	ch := EmitOnResult(context.Background(), d, func() int { return 42 })
	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("EmitOnResult never delivered a value")
	}
}

func TestEmitOnResultRunsEvenWithCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var d Dispatcher
	ch := EmitOnResult(ctx, d, func() int { return 7 })
	select {
	case v := <-ch:
		if v != 7 {
			t.Fatalf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("EmitOnResult must still run fn on a canceled context; callers check ctx themselves")
	}
}
