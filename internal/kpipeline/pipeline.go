// Package kpipeline implements the SenderPipeline from spec.md §4.3: a
// single-subscriber, single-upstream component enforcing an at-most-N
// inflight cap with completion-ordered downstream acks. Per spec.md §9's
// design note ("stateful object with atomic counters... not a class
// hierarchy"), this is expressed as a worker-bounded consumer loop over a
// channel rather than a Reactive-Streams-style Publisher/Subscriber pair —
// the idiomatic Go shape for the same demand discipline.
package kpipeline

import (
	"context"
	"sync"

	"github.com/prakashelango/reactive-kafka-connector/internal/kinflight"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
)

// WriteFunc sends one message and reports the outcome. It is responsible
// for resolving msg's ack/nack itself (§4.5) — the pipeline only tracks
// how many writes are outstanding.
type WriteFunc func(ctx context.Context, msg *kmsg.Message) error

// Pipeline enforces spec.md §4.3's demand discipline around a WriteFunc.
type Pipeline struct {
	limiter *kinflight.Limiter
	write   WriteFunc
	wg      sync.WaitGroup
}

// New builds a Pipeline. maxInflight must be >= 1 or kinflight.Unbounded.
func New(maxInflight int64, write WriteFunc) *Pipeline {
	return &Pipeline{limiter: kinflight.New(maxInflight), write: write}
}

// Run consumes upstream until it closes or ctx is done, dispatching each
// message to write under the inflight cap. It blocks until upstream closes
// and all in-flight writes finish; on ctx cancellation it returns promptly
// without waiting for outstanding writes, which "may still complete and
// are quietly discarded" per spec.md §4.3/§5.
func (p *Pipeline) Run(ctx context.Context, upstream <-chan *kmsg.Message) {
	for {
		select {
		case <-ctx.Done():
			p.limiter.Close()
			return
		case msg, ok := <-upstream:
			if !ok {
				p.wg.Wait()
				return
			}
			if err := p.limiter.Acquire(ctx); err != nil {
				return
			}
			p.wg.Add(1)
			go func(m *kmsg.Message) {
				defer p.wg.Done()
				defer p.limiter.Release()
				_ = p.write(ctx, m)
			}(msg)
		}
	}
}

// Pending reports the current inflight count (best effort; for tests and
// health reporting).
func (p *Pipeline) Pending() int64 { return p.limiter.Pending() }

// Close releases the pipeline's limiter so any blocked Acquire returns,
// matching KafkaSink.closeQuietly's processor.cancel() (§4.5).
func (p *Pipeline) Close() { p.limiter.Close() }
