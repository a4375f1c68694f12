package krecord

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
)

func TestBuildUsesConfiguredDefaults(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	msg := kmsg.NewMessage("payload", nil, nil)

	rec := b.Build(msg)
	if rec.Topic != "orders-out" {
		t.Fatalf("Topic = %q, want default", rec.Topic)
	}
	if rec.Partition != -1 {
		t.Fatalf("Partition = %d, want unset sentinel", rec.Partition)
	}
	if rec.Key != nil {
		t.Fatalf("Key = %v, want nil", rec.Key)
	}
	if rec.Timestamp != -1 {
		t.Fatalf("Timestamp = %d, want -1 when unset", rec.Timestamp)
	}
	if rec.Payload != "payload" {
		t.Fatalf("Payload = %v, want passthrough", rec.Payload)
	}
}

func TestBuildOutgoingMetadataOverridesDefaults(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	msg := kmsg.NewMessage("payload", nil, nil)
	when := time.UnixMilli(1_700_000_000_000)
	msg.WithOutgoingMetadata(kmsg.OutgoingRecordMetadata{
		Topic:     "priority-out",
		Partition: 2,
		Key:       "explicit-key",
		HasKey:    true,
		Timestamp: when,
		HasTime:   true,
	})

	rec := b.Build(msg)
	if rec.Topic != "priority-out" {
		t.Fatalf("Topic = %q, want override", rec.Topic)
	}
	if rec.Partition != 2 {
		t.Fatalf("Partition = %d, want override", rec.Partition)
	}
	if rec.Key != "explicit-key" {
		t.Fatalf("Key = %v, want override", rec.Key)
	}
	if rec.Timestamp != when.UnixMilli() {
		t.Fatalf("Timestamp = %d, want %d", rec.Timestamp, when.UnixMilli())
	}
}

func TestBuildReplyHeadersOverrideOutgoing(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	msg := kmsg.NewMessage("payload", nil, nil)

	partitionBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(partitionBytes, 7)
	msg.WithIncomingMetadata(kmsg.IncomingRecordMetadata{
		Headers: kmsg.Headers{
			{Key: kconfig.ReplyTopicHeader, Value: []byte("reply-topic")},
			{Key: kconfig.ReplyPartitionHeader, Value: partitionBytes},
		},
	})
	msg.WithOutgoingMetadata(kmsg.OutgoingRecordMetadata{Topic: "priority-out", Partition: 2})

	rec := b.Build(msg)
	if rec.Topic != "reply-topic" {
		t.Fatalf("Topic = %q, want reply header to win over om.Topic", rec.Topic)
	}
	if rec.Partition != 7 {
		t.Fatalf("Partition = %d, want reply header to win over om.Partition", rec.Partition)
	}
}

func TestBuildKeyFromTypedRecordPayload(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	rec := kmsg.NewRecord("order-42", "body")
	msg := kmsg.NewMessage(rec, nil, nil)

	built := b.Build(msg)
	if built.Key != "order-42" {
		t.Fatalf("Key = %v, want record key", built.Key)
	}
	if built.Payload != "body" {
		t.Fatalf("Payload = %v, want record value unwrapped", built.Payload)
	}
}

func TestBuildPropagatesIncomingKeyWhenEnabled(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1, PropagateRecordKey: true})
	msg := kmsg.NewMessage("payload", nil, nil)
	msg.WithIncomingMetadata(kmsg.IncomingRecordMetadata{Key: "inherited-key"})

	rec := b.Build(msg)
	if rec.Key != "inherited-key" {
		t.Fatalf("Key = %v, want propagated incoming key", rec.Key)
	}
}

func TestBuildPreBuiltRecordPassesThroughVerbatim(t *testing.T) {
	b := New(kconfig.RuntimeConfig{DefaultTopic: "orders-out"})
	preBuilt := &kmsg.ProducerRecord{Topic: "explicit-topic", Partition: -1, Timestamp: -1}
	msg := kmsg.NewMessage(preBuilt, nil, nil)

	rec := b.Build(msg)
	if rec != preBuilt {
		t.Fatal("expected the pre-built record to be returned verbatim, skipping topic routing")
	}
}
