// Package kcontext implements the Go analog of the ContextExecutor from
// spec.md §4.8/§9 and KafkaTransactionsImpl.java's inner ContextExecutor
// class. The original captures a Vert.x Context and whether the caller was
// on the event-loop thread, then re-emits continuations onto that context
// so application code stays affine to its originating thread across
// broker-callback boundaries. Go has no event-loop/worker-thread split to
// mirror directly; the analog captured here is the caller's
// context.Context, with continuations dispatched either inline (when the
// caller supplies no worker pool) or onto a bounded worker pool — the
// "run everything on one executor" alternative spec.md §9 calls out.
package kcontext

import "context"

// Dispatcher runs a function, optionally off the calling goroutine. The
// zero value runs inline.
type Dispatcher struct {
	// Run, if non-nil, is used to execute continuations, e.g. a worker
	// pool's Submit method. Nil means "run inline", matching a caller that
	// was already on its own affine goroutine (the event-loop case).
	Run func(func())
}

// Capture snapshots the calling context for later use. It exists mainly to
// document the capture point; ctx itself carries any deadline/cancellation
// that must be honored when the continuation runs.
func Capture(ctx context.Context) context.Context { return ctx }

// EmitOn runs fn, either inline or on the configured dispatcher. It does
// not itself inspect ctx's cancellation — callers that need to bail out on
// a canceled context should check ctx.Err() before or inside fn.
func (d Dispatcher) EmitOn(ctx context.Context, fn func()) {
	_ = ctx
	if d.Run == nil {
		fn()
		return
	}
	d.Run(fn)
}

// EmitOnResult runs fn on the dispatcher and returns its result through a
// channel, for call sites that need to await the continuation (e.g.
// re-emitting a transaction's return value onto the caller's context
// before returning from withTransaction, per §4.6's ordering rule).
func EmitOnResult[T any](ctx context.Context, d Dispatcher, fn func() T) <-chan T {
	out := make(chan T, 1)
	d.EmitOn(ctx, func() {
		out <- fn()
	})
	return out
}
