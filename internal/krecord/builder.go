// Package krecord implements the RecordBuilder described in spec.md §4.1:
// resolving a broker-bound ProducerRecord from a Message plus its outgoing
// and incoming metadata and the channel's configured defaults. It is a pure
// function of its inputs (§8 "Record build is pure and deterministic").
package krecord

import (
	"encoding/binary"

	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
)

// Builder resolves ProducerRecords from messages using a fixed runtime
// configuration, mirroring KafkaSink.java's getProducerRecord/getKey/
// getActualPartition/getActualTopic.
type Builder struct {
	cfg kconfig.RuntimeConfig
}

// New constructs a Builder bound to the given runtime configuration.
func New(cfg kconfig.RuntimeConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build resolves msg into a ProducerRecord. If msg's payload is already a
// *kmsg.ProducerRecord, it is returned verbatim and topic routing is
// skipped, per §4.1's last paragraph.
func (b *Builder) Build(msg *kmsg.Message) *kmsg.ProducerRecord {
	if rec, ok := msg.Payload.(*kmsg.ProducerRecord); ok {
		return rec
	}

	om, hasOutgoing := msg.OutgoingMetadata()
	if !hasOutgoing {
		om.Partition = kmsg.UnsetPartition
	}
	im, hasIncoming := msg.IncomingMetadata()

	topic := b.resolveTopic(om, im, hasIncoming)
	partition := b.resolvePartition(om, im, hasIncoming)
	key := b.resolveKey(msg, om)
	timestamp := resolveTimestamp(om)
	headers := b.resolveHeaders(om, im, hasIncoming)
	payload := resolvePayload(msg)

	return &kmsg.ProducerRecord{
		Topic:     topic,
		Partition: partition,
		Timestamp: timestamp,
		Key:       key,
		Payload:   payload,
		Headers:   headers,
	}
}

// resolveTopic implements §4.1 rule 1.
func (b *Builder) resolveTopic(om kmsg.OutgoingRecordMetadata, im kmsg.IncomingRecordMetadata, hasIncoming bool) string {
	if hasIncoming {
		if v, ok := im.Headers.Last(kconfig.ReplyTopicHeader); ok {
			return string(v)
		}
	}
	if om.Topic != "" {
		return om.Topic
	}
	return b.cfg.DefaultTopic
}

// resolvePartition implements §4.1 rule 2.
func (b *Builder) resolvePartition(om kmsg.OutgoingRecordMetadata, im kmsg.IncomingRecordMetadata, hasIncoming bool) int32 {
	if hasIncoming {
		if v, ok := im.Headers.Last(kconfig.ReplyPartitionHeader); ok && len(v) == 4 {
			return int32(binary.BigEndian.Uint32(v))
		}
	}
	if om.Partition >= 0 {
		return om.Partition
	}
	return b.cfg.DefaultPartition
}

// resolveKey implements §4.1 rule 3.
func (b *Builder) resolveKey(msg *kmsg.Message, om kmsg.OutgoingRecordMetadata) any {
	if om.HasKey && om.Key != nil {
		return om.Key
	}
	if key, _, ok := kmsg.AsRecord(msg.Payload); ok {
		return key
	}
	if b.cfg.PropagateRecordKey {
		if im, ok := msg.IncomingMetadata(); ok {
			return im.Key
		}
	}
	if b.cfg.HasDefaultKey {
		return b.cfg.DefaultKey
	}
	return nil
}

// resolveTimestamp implements §4.1 rule 4.
func resolveTimestamp(om kmsg.OutgoingRecordMetadata) int64 {
	if !om.HasTime {
		return -1
	}
	return om.Timestamp.UnixMilli()
}

// resolveHeaders implements §4.1 rule 5.
func (b *Builder) resolveHeaders(om kmsg.OutgoingRecordMetadata, im kmsg.IncomingRecordMetadata, hasIncoming bool) kmsg.Headers {
	var base kmsg.Headers
	if hasIncoming && b.cfg.PropagateRecordKey {
		base = append(base, im.Headers...)
	}
	return base.Merge(om.Headers)
}

// resolvePayload implements §4.1 rule 6.
func resolvePayload(msg *kmsg.Message) any {
	if _, value, ok := kmsg.AsRecord(msg.Payload); ok {
		return value
	}
	return msg.Payload
}
