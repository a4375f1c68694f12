// Package kmsg defines the message contract shared by the sink and the
// transactional emitter: an opaque payload with metadata and an ack/nack
// handle, plus the Kafka-specific metadata kinds attached to it.
package kmsg

import (
	"context"
	"sync/atomic"
)

// AckFunc acknowledges successful delivery of a Message.
type AckFunc func(ctx context.Context) error

// NackFunc reports a delivery failure for a Message.
type NackFunc func(ctx context.Context, cause error) error

// Message is the unit the sink and the transactional emitter operate on.
// Exactly one of Ack or Nack must be invoked per Message.
type Message struct {
	Payload  any
	metadata map[metadataKind]any
	ack      AckFunc
	nack     NackFunc

	resolved atomic.Bool
}

type metadataKind int

const (
	kindOutgoing metadataKind = iota
	kindIncoming
	kindIncomingBatch
	kindCloudEvent
	kindResult
)

// NewMessage builds a Message with the given payload and ack/nack handles.
// A nil AckFunc/NackFunc is replaced by a no-op.
func NewMessage(payload any, ack AckFunc, nack NackFunc) *Message {
	if ack == nil {
		ack = func(context.Context) error { return nil }
	}
	if nack == nil {
		nack = func(context.Context, error) error { return nil }
	}
	return &Message{Payload: payload, ack: ack, nack: nack, metadata: map[metadataKind]any{}}
}

// Ack invokes the message's ack handle. It is safe to call Ack/Nack exactly
// once; subsequent calls are no-ops so retry paths that race a cancellation
// can't double-resolve a message.
func (m *Message) Ack(ctx context.Context) error {
	if !m.resolved.CompareAndSwap(false, true) {
		return nil
	}
	return m.ack(ctx)
}

// Nack invokes the message's nack handle, subject to the same
// exactly-once-resolution rule as Ack.
func (m *Message) Nack(ctx context.Context, cause error) error {
	if !m.resolved.CompareAndSwap(false, true) {
		return nil
	}
	return m.nack(ctx, cause)
}

// WithOutgoingMetadata attaches OutgoingRecordMetadata, returning the same
// Message for chaining.
func (m *Message) WithOutgoingMetadata(om OutgoingRecordMetadata) *Message {
	m.metadata[kindOutgoing] = om
	return m
}

// WithIncomingMetadata attaches IncomingRecordMetadata, returning the same
// Message for chaining.
func (m *Message) WithIncomingMetadata(im IncomingRecordMetadata) *Message {
	m.metadata[kindIncoming] = im
	return m
}

// WithIncomingBatchMetadata attaches IncomingRecordBatchMetadata, returning
// the same Message for chaining, for messages built from a consumed batch
// rather than a single record (§4.6).
func (m *Message) WithIncomingBatchMetadata(bm IncomingRecordBatchMetadata) *Message {
	m.metadata[kindIncomingBatch] = bm
	return m
}

// WithCloudEventMetadata attaches CloudEventMetadata, returning the same
// Message for chaining.
func (m *Message) WithCloudEventMetadata(ce CloudEventMetadata) *Message {
	m.metadata[kindCloudEvent] = ce
	return m
}

// WithResultMetadata attaches the RecordMetadata the broker returned for a
// successful send, returning the same Message for chaining (§4.5 step 5).
func (m *Message) WithResultMetadata(rm RecordMetadata) *Message {
	m.metadata[kindResult] = rm
	return m
}

// OutgoingMetadata returns the attached OutgoingRecordMetadata, if any.
func (m *Message) OutgoingMetadata() (OutgoingRecordMetadata, bool) {
	v, ok := m.metadata[kindOutgoing]
	if !ok {
		return OutgoingRecordMetadata{}, false
	}
	return v.(OutgoingRecordMetadata), true
}

// IncomingMetadata returns the attached IncomingRecordMetadata, if any.
func (m *Message) IncomingMetadata() (IncomingRecordMetadata, bool) {
	v, ok := m.metadata[kindIncoming]
	if !ok {
		return IncomingRecordMetadata{}, false
	}
	return v.(IncomingRecordMetadata), true
}

// IncomingBatchMetadata returns the attached IncomingRecordBatchMetadata, if
// any.
func (m *Message) IncomingBatchMetadata() (IncomingRecordBatchMetadata, bool) {
	v, ok := m.metadata[kindIncomingBatch]
	if !ok {
		return IncomingRecordBatchMetadata{}, false
	}
	return v.(IncomingRecordBatchMetadata), true
}

// CloudEventMetadataValue returns the attached CloudEventMetadata, if any.
func (m *Message) CloudEventMetadataValue() (CloudEventMetadata, bool) {
	v, ok := m.metadata[kindCloudEvent]
	if !ok {
		return CloudEventMetadata{}, false
	}
	return v.(CloudEventMetadata), true
}

// ResultMetadata returns the RecordMetadata stamped by WithResultMetadata,
// if any.
func (m *Message) ResultMetadata() (RecordMetadata, bool) {
	v, ok := m.metadata[kindResult]
	if !ok {
		return RecordMetadata{}, false
	}
	return v.(RecordMetadata), true
}
