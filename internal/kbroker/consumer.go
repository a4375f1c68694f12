package kbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
)

// ConsumerBinding is the subset of consumer-group state the transaction
// coordinator needs for exactly-once processing (§4.6): the generation id
// active when a record was read (to detect a rebalance that fenced the
// in-flight transaction) and a way to rewind to the last committed offset
// when a transaction aborts, so the aborted record is redelivered rather
// than skipped.
type ConsumerBinding interface {
	GenerationID() int32
	Topic() string
	Partition() int32
	ResetToLastCommitted(ctx context.Context) error
}

// SaramaConsumerBinding implements ConsumerBinding over a live
// sarama.ConsumerGroupSession/Claim pair, the same pair
// source/kafka/driver_sarama.go's groupHandler.ConsumeClaim receives per
// partition. It is constructed once per claim and handed to whichever
// TransactionCoordinator processes records from that partition.
type SaramaConsumerBinding struct {
	client sarama.Client
	sess   sarama.ConsumerGroupSession
	claim  sarama.ConsumerGroupClaim
	groupID string

	mu sync.Mutex
}

// NewSaramaConsumerBinding wraps sess/claim for the partition claim's
// lifetime. client is used to look up the group's committed offset when
// resetting after an aborted transaction.
func NewSaramaConsumerBinding(client sarama.Client, groupID string, sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) *SaramaConsumerBinding {
	return &SaramaConsumerBinding{client: client, groupID: groupID, sess: sess, claim: claim}
}

// GenerationID returns the consumer group generation active for sess.
// The coordinator captures this when a record is read and compares it
// again before committing offsets in the same transaction; a mismatch
// means a rebalance happened mid-transaction and the commit must be
// abandoned (§4.6).
func (b *SaramaConsumerBinding) GenerationID() int32 { return b.sess.GenerationID() }

func (b *SaramaConsumerBinding) Topic() string     { return b.claim.Topic() }
func (b *SaramaConsumerBinding) Partition() int32  { return b.claim.Partition() }

// ResetToLastCommitted rewinds the session's view of this partition to the
// last committed offset. It does not itself trigger redelivery — sarama's
// consumer group only re-fetches from where consumption resumes after
// Cleanup/Setup — but it clears the session's local marks so the next
// commit cannot advance past the aborted record, and callers should follow
// it by returning from ConsumeClaim so the group rejoins and restarts the
// claim at the offset this call resets to.
func (b *SaramaConsumerBinding) ResetToLastCommitted(ctx context.Context) error {
	om, err := sarama.NewOffsetManagerFromClient(b.groupID, b.client)
	if err != nil {
		return fmt.Errorf("kbroker: offset manager: %w", err)
	}
	defer om.Close()

	pom, err := om.ManagePartition(b.claim.Topic(), b.claim.Partition())
	if err != nil {
		return fmt.Errorf("kbroker: manage partition %s/%d: %w", b.claim.Topic(), b.claim.Partition(), err)
	}
	defer pom.Close()

	offset, _ := pom.NextOffset()
	b.mu.Lock()
	b.sess.ResetOffset(b.claim.Topic(), b.claim.Partition(), offset, "")
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// BindingRegistry tracks the active ConsumerBinding per channel name, so a
// TransactionCoordinator constructed independently of the consumer loop can
// look up the binding for the channel it is fencing against. Grounded on
// source/kafka/registry.go's map-with-mutex driver registry pattern,
// repurposed here for live bindings instead of driver factories.
type BindingRegistry struct {
	mu       sync.RWMutex
	bindings map[string]ConsumerBinding
}

// NewBindingRegistry builds an empty registry.
func NewBindingRegistry() *BindingRegistry {
	return &BindingRegistry{bindings: make(map[string]ConsumerBinding)}
}

// Bind registers binding as the active one for channel, replacing any
// prior binding (e.g. after a rebalance produces a new session).
func (r *BindingRegistry) Bind(channel string, binding ConsumerBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[channel] = binding
}

// Unbind removes channel's binding, e.g. when its claim ends.
func (r *BindingRegistry) Unbind(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, channel)
}

// Lookup returns channel's current binding, if any.
func (r *BindingRegistry) Lookup(channel string) (ConsumerBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[channel]
	return b, ok
}
