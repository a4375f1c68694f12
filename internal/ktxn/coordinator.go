// Package ktxn implements the TransactionCoordinator and TransactionalEmitter
// from spec.md §4.6: open/commit/abort a broker transaction around a user
// function, plus exactly-once offset fencing against a consumer group's
// generation id. Grounded on KafkaTransactionsImpl.java's withTransaction
// state machine and sarama's BeginTxn/CommitTxn/AbortTxn/AddOffsetsToTxn
// producer API (source/kafka/driver_sarama.go supplies the
// ConsumerGroupSession plumbing kbroker.ConsumerBinding wraps).
package ktxn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prakashelango/reactive-kafka-connector/internal/kbroker"
	"github.com/prakashelango/reactive-kafka-connector/internal/kcontext"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/kretry"
	"github.com/prakashelango/reactive-kafka-connector/internal/telemetry"
)

// ErrTransactionInProgress is returned by withTransaction when another
// transaction is already open on this coordinator (§4.6 "re-entry ... is an
// error").
var ErrTransactionInProgress = errors.New("ktxn: a transaction is already in progress")

// ErrNoConsumerBound guards the exactly-once path's "locate the consumer
// bound to channel" step (§4.6). kbroker.BindingRegistry tracks at most one
// binding per channel by construction (Bind replaces any prior binding), so
// there is no "more than one consumer" case to detect here; see DESIGN.md.
var ErrNoConsumerBound = errors.New("ktxn: no consumer bound to channel")

// RebalanceError reports a consumer-group generation id mismatch detected
// while committing offsets inside a transaction (§4.6, §7).
type RebalanceError struct {
	Channel  string
	Expected int32
	Actual   int32
}

func (e *RebalanceError) Error() string {
	return fmt.Sprintf("ktxn: rebalance on channel %q: generation %d no longer matches live generation %d", e.Channel, e.Expected, e.Actual)
}

// state is the transaction slot's variant from §3: Idle or InProgress.
type state int

const (
	stateIdle state = iota
	stateInProgress
)

// Coordinator implements withTransaction over one transactional producer.
// One Coordinator instance owns exactly one transaction slot, guarded by mu
// per §4.6's concurrency guard.
type Coordinator struct {
	producer kbroker.Producer
	bindings *kbroker.BindingRegistry
	metrics  *telemetry.Collectors
	dispatch kcontext.Dispatcher

	mu    sync.Mutex
	state state
}

// New builds a Coordinator over producer. bindings resolves the consumer
// bound to a channel for the exactly-once path; it may be nil if the
// message-carrying withTransaction variant is never used.
func New(producer kbroker.Producer, bindings *kbroker.BindingRegistry, metrics *telemetry.Collectors, dispatch kcontext.Dispatcher) *Coordinator {
	return &Coordinator{producer: producer, bindings: bindings, metrics: metrics, dispatch: dispatch}
}

// Emitter is the API exposed to work (§4.6): submit sends into the open
// transaction and optionally flag a terminal abort.
type Emitter struct {
	producer kbroker.Producer

	mu      sync.Mutex
	pending []func() error
	abort   bool
}

// Send records rec for produce inside the open transaction. The record is
// not handed to the producer here: the coordinator's pre-commit join sends
// the recorded records one after another, in Send order, after work returns.
func (e *Emitter) Send(ctx context.Context, rec *kmsg.ProducerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, func() error {
		_, err := e.producer.Send(ctx, rec)
		return err
	})
}

// MarkForAbort flags the transaction for a terminal abort without raising
// an exception from work (§4.6).
func (e *Emitter) MarkForAbort() {
	e.mu.Lock()
	e.abort = true
	e.mu.Unlock()
}

// IsMarkedForAbort reports whether MarkForAbort was called.
func (e *Emitter) IsMarkedForAbort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort
}

func (e *Emitter) join() error {
	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()

	var joined error
	for _, f := range pending {
		if err := f(); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return joined
}

// acquire transitions Idle -> InProgress or returns ErrTransactionInProgress.
func (c *Coordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateInProgress {
		return ErrTransactionInProgress
	}
	c.state = stateInProgress
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
}

// WithTransaction implements §4.6's withTransaction(work): begin, run work,
// join sends, commit; abort on any error, cancellation, or explicit mark. A
// commit failure degrades to an abort.
func (c *Coordinator) WithTransaction(ctx context.Context, work func(ctx context.Context, e *Emitter) (any, error)) (any, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.producer.BeginTxn(); err != nil {
		return nil, fmt.Errorf("ktxn: begin transaction: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TransactionsBegun.Inc()
	}

	emitter := &Emitter{producer: c.producer}
	resultCh := kcontext.EmitOnResult(ctx, c.dispatch, func() pairResult {
		v, e := work(ctx, emitter)
		return pairResult{value: v, err: e}
	})

	var result any
	var workErr error
	select {
	case r := <-resultCh:
		result, workErr = r.value, r.err
	case <-ctx.Done():
		workErr = ctx.Err()
	}

	if workErr == nil {
		workErr = emitter.join()
	}
	if workErr == nil && emitter.IsMarkedForAbort() {
		workErr = errors.New("ktxn: transaction marked for abort")
	}

	if workErr != nil {
		c.abort()
		return nil, workErr
	}

	if err := c.producer.CommitTxn(); err != nil {
		c.abort()
		return nil, fmt.Errorf("ktxn: commit failed, aborted: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TransactionsOK.Inc()
	}
	return result, nil
}

// pairResult lets a generic dispatcher return (value, error) through
// kcontext.EmitOnResult's single-type channel.
type pairResult struct {
	value any
	err   error
}

// WithTransactionForMessage implements §4.6's withTransaction(message,
// work): as WithTransaction, plus exactly-once offset fencing against the
// consumer group bound to msg's channel.
func (c *Coordinator) WithTransactionForMessage(ctx context.Context, msg *kmsg.Message, groupID string, work func(ctx context.Context, e *Emitter) (any, error)) (any, error) {
	channel, offsets, generation, err := extractOffsets(msg)
	if err != nil {
		return nil, err
	}

	binding, ok := c.bindings.Lookup(channel)
	if !ok {
		return nil, ErrNoConsumerBound
	}

	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.producer.BeginTxn(); err != nil {
		return nil, fmt.Errorf("ktxn: begin transaction: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TransactionsBegun.Inc()
	}

	emitter := &Emitter{producer: c.producer}
	resultCh := kcontext.EmitOnResult(ctx, c.dispatch, func() pairResult {
		v, e := work(ctx, emitter)
		return pairResult{value: v, err: e}
	})

	var result any
	var workErr error
	select {
	case r := <-resultCh:
		result, workErr = r.value, r.err
	case <-ctx.Done():
		workErr = ctx.Err()
	}

	if workErr == nil {
		workErr = emitter.join()
	}
	if workErr == nil && emitter.IsMarkedForAbort() {
		workErr = errors.New("ktxn: transaction marked for abort")
	}

	if workErr != nil {
		c.abortWithSeek(ctx, binding)
		return nil, workErr
	}

	if binding.GenerationID() != generation {
		rebalanceErr := &RebalanceError{Channel: channel, Expected: generation, Actual: binding.GenerationID()}
		c.abortWithSeek(ctx, binding)
		return nil, kretry.Classify(kretry.TransactionAborted, rebalanceErr)
	}

	if err := c.producer.AddOffsetsToTxn(offsets, groupID); err != nil {
		c.abortWithSeek(ctx, binding)
		return nil, fmt.Errorf("ktxn: send offsets to transaction: %w", err)
	}

	if err := c.producer.CommitTxn(); err != nil {
		c.abortWithSeek(ctx, binding)
		return nil, fmt.Errorf("ktxn: commit failed, aborted: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TransactionsOK.Inc()
	}
	return result, nil
}

func (c *Coordinator) abort() {
	if err := c.producer.AbortTxn(); err != nil {
		// Nothing further to degrade to; the transaction slot still frees.
		_ = err
	}
	if c.metrics != nil {
		c.metrics.TransactionsAbort.Inc()
	}
}

func (c *Coordinator) abortWithSeek(ctx context.Context, binding kbroker.ConsumerBinding) {
	c.abort()
	_ = binding.ResetToLastCommitted(ctx)
}

// extractOffsets implements §4.6's "extract channel, offsets map, and
// consumer-group generation id from the message (from either a batch
// metadata or a single-record metadata; the map's offset is
// record.offset + 1)".
func extractOffsets(msg *kmsg.Message) (channel string, offsets []kmsg.TopicPartitionOffset, generation int32, err error) {
	if im, ok := msg.IncomingMetadata(); ok {
		return im.Channel, []kmsg.TopicPartitionOffset{{Topic: im.Topic, Partition: im.Partition, Offset: im.Offset + 1}}, im.ConsumerGroupGenerationID, nil
	}
	if batch, ok := msg.IncomingBatchMetadata(); ok {
		out := make([]kmsg.TopicPartitionOffset, len(batch.Offsets))
		for i, o := range batch.Offsets {
			out[i] = kmsg.TopicPartitionOffset{Topic: o.Topic, Partition: o.Partition, Offset: o.Offset + 1}
		}
		return batch.Channel, out, batch.ConsumerGroupGenerationID, nil
	}
	return "", nil, 0, errors.New("ktxn: message carries neither incoming record nor batch metadata")
}
