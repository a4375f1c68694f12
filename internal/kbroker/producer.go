// Package kbroker adapts github.com/IBM/sarama to the Producer and
// ConsumerBinding contracts the sink and transaction coordinator need.
// Grounded on the teacher's sink/kafka/driver_sarama.go (producer
// construction) and source/kafka/driver_sarama.go (the pending-map
// correlation pattern used here to match async completions back to
// waiting callers, and the consumer-group session plumbing used for
// exactly-once offset commits).
package kbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/kretry"
)

// Config bundles the sarama-specific connection settings §6 calls out
// (bootstrap.servers, client.id) alongside the transactional id a
// TransactionCoordinator needs to request a transactional producer.
type Config struct {
	Brokers         []string
	ClientID        string
	TransactionalID string // empty = non-transactional producer
}

// Producer is the subset of broker-client behavior KafkaSink and
// TransactionCoordinator depend on. Fakes implementing this interface
// drive the ksink and ktxn unit tests without a live broker.
type Producer interface {
	Send(ctx context.Context, rec *kmsg.ProducerRecord) (kmsg.RecordMetadata, error)
	ClientID() string

	BeginTxn() error
	CommitTxn() error
	AbortTxn() error
	AddOffsetsToTxn(offsets []kmsg.TopicPartitionOffset, groupID string) error

	Close() error
}

// SaramaProducer implements Producer over a sarama.AsyncProducer, matching
// sink/kafka/driver_sarama.go's use of sarama.NewAsyncProducer plus the
// correlation-map pattern from source/kafka/driver_sarama.go to turn the
// async Successes()/Errors() channels back into per-call results.
type SaramaProducer struct {
	cfg Config
	ap  sarama.AsyncProducer

	mu      sync.Mutex
	pending map[uint64]chan sendOutcome
	nextID  uint64

	closeOnce sync.Once
	done      chan struct{}
}

type sendOutcome struct {
	metadata kmsg.RecordMetadata
	err      error
}

// NewSaramaProducer builds and connects a sarama-backed Producer.
func NewSaramaProducer(cfg Config) (*SaramaProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	if cfg.TransactionalID != "" {
		sc.Producer.Transaction.ID = cfg.TransactionalID
	}

	ap, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kbroker: new producer: %w", err)
	}

	p := &SaramaProducer{
		cfg:     cfg,
		ap:      ap,
		pending: make(map[uint64]chan sendOutcome),
		done:    make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

func (p *SaramaProducer) pump() {
	for {
		select {
		case msg, ok := <-p.ap.Successes():
			if !ok {
				return
			}
			p.resolve(msg.Metadata, sendOutcome{
				metadata: kmsg.RecordMetadata{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset},
			})
		case perr, ok := <-p.ap.Errors():
			if !ok {
				return
			}
			p.resolve(perr.Msg.Metadata, sendOutcome{err: classify(perr.Err)})
		case <-p.done:
			return
		}
	}
}

func (p *SaramaProducer) resolve(metadata any, outcome sendOutcome) {
	id, ok := metadata.(uint64)
	if !ok {
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if ok {
		ch <- outcome
	}
}

// Send submits rec and blocks until the broker resolves it (success or
// error), classifying the error per §3's recoverability set.
func (p *SaramaProducer) Send(ctx context.Context, rec *kmsg.ProducerRecord) (kmsg.RecordMetadata, error) {
	if err := rec.Validate(); err != nil {
		return kmsg.RecordMetadata{}, kretry.Classify(kretry.Serialization, err)
	}

	id := atomic.AddUint64(&p.nextID, 1)
	out := make(chan sendOutcome, 1)
	p.mu.Lock()
	p.pending[id] = out
	p.mu.Unlock()

	pm := &sarama.ProducerMessage{
		Topic:    rec.Topic,
		Headers:  toSaramaHeaders(rec.Headers),
		Metadata: id,
	}
	if rec.Partition != kmsg.UnsetPartition {
		pm.Partition = rec.Partition
	}
	if rec.Timestamp >= 0 {
		pm.Timestamp = time.UnixMilli(rec.Timestamp)
	}
	if rec.Key != nil {
		enc, err := toEncoder(rec.Key)
		if err != nil {
			p.clearPending(id)
			return kmsg.RecordMetadata{}, kretry.Classify(kretry.Serialization, err)
		}
		pm.Key = enc
	}
	enc, err := toEncoder(rec.Payload)
	if err != nil {
		p.clearPending(id)
		return kmsg.RecordMetadata{}, kretry.Classify(kretry.Serialization, err)
	}
	pm.Value = enc

	select {
	case p.ap.Input() <- pm:
	case <-ctx.Done():
		p.clearPending(id)
		return kmsg.RecordMetadata{}, ctx.Err()
	}

	select {
	case outcome := <-out:
		return outcome.metadata, outcome.err
	case <-ctx.Done():
		p.clearPending(id)
		return kmsg.RecordMetadata{}, ctx.Err()
	}
}

func (p *SaramaProducer) clearPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// ClientID returns the producer's configured client id (used for tracing
// metadata, §4.5 step 3).
func (p *SaramaProducer) ClientID() string { return p.cfg.ClientID }

// BeginTxn/CommitTxn/AbortTxn/AddOffsetsToTxn delegate to sarama's
// transactional producer API, the direct analog of the original's
// producer.beginTransaction()/commitTransaction()/abortTransaction()/
// sendOffsetsToTransaction (§4.6).
func (p *SaramaProducer) BeginTxn() error { return p.ap.BeginTxn() }
func (p *SaramaProducer) CommitTxn() error { return p.ap.CommitTxn() }
func (p *SaramaProducer) AbortTxn() error  { return p.ap.AbortTxn() }

func (p *SaramaProducer) AddOffsetsToTxn(offsets []kmsg.TopicPartitionOffset, groupID string) error {
	byTopic := make(map[string][]*sarama.PartitionOffsetMetadata, len(offsets))
	for _, o := range offsets {
		byTopic[o.Topic] = append(byTopic[o.Topic], &sarama.PartitionOffsetMetadata{
			Partition: o.Partition,
			Offset:    o.Offset,
		})
	}
	return p.ap.AddOffsetsToTxn(byTopic, groupID)
}

// Close stops the completion pump and closes the sarama producer. Outcomes
// that arrive after the pump stops are not delivered to Send calls still
// waiting on them; those return when their context is done.
func (p *SaramaProducer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.ap.Close()
}

func toSaramaHeaders(h kmsg.Headers) []sarama.RecordHeader {
	if len(h) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(h))
	for _, hd := range h {
		out = append(out, sarama.RecordHeader{Key: []byte(hd.Key), Value: hd.Value})
	}
	return out
}

func toEncoder(v any) (sarama.Encoder, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case sarama.Encoder:
		return t, nil
	case []byte:
		return sarama.ByteEncoder(t), nil
	case string:
		return sarama.StringEncoder(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("kbroker: encode value of type %T: %w", v, err)
		}
		return sarama.ByteEncoder(b), nil
	}
}

// classify maps broker errors onto the §3 recoverability set. sarama wraps
// delivery errors in *sarama.ProducerError; the cause is checked against
// the broker error codes of the non-recoverable kinds (Serialization is
// classified in Send, TransactionAborted in ktxn). Errors outside this set
// default to recoverable, per §3/§7.
func classify(err error) error {
	switch {
	case isKafkaErr(err, sarama.ErrInvalidTopic):
		return kretry.Classify(kretry.InvalidTopic, err)
	case isKafkaErr(err, sarama.ErrOffsetMetadataTooLarge):
		return kretry.Classify(kretry.OffsetMetadataTooLarge, err)
	case isKafkaErr(err, sarama.ErrMessageSetSizeTooLarge):
		return kretry.Classify(kretry.RecordBatchTooLarge, err)
	case isKafkaErr(err, sarama.ErrMessageSizeTooLarge):
		return kretry.Classify(kretry.RecordTooLarge, err)
	case isKafkaErr(err, sarama.ErrUnknown):
		return kretry.Classify(kretry.UnknownServer, err)
	default:
		return kretry.Classify(kretry.Retryable, err)
	}
}

func isKafkaErr(err error, target sarama.KError) bool {
	kerr, ok := err.(sarama.KError)
	return ok && kerr == target
}
