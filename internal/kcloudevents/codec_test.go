package kcloudevents

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/krecord"
)

func TestNewCodecRejectsStructuredWithoutStringSerializer(t *testing.T) {
	builder := krecord.New(kconfig.RuntimeConfig{DefaultTopic: "orders-out"})
	_, err := NewCodec(kconfig.CloudEventsStructured, false, "order.created", "orders-service", builder)
	if err != ErrStructuredRequiresStringSerializer {
		t.Fatalf("err = %v, want ErrStructuredRequiresStringSerializer", err)
	}
}

func TestApplicable(t *testing.T) {
	if Applicable(false, true, true) {
		t.Fatal("expected disabled CE mode to never apply")
	}
	if !Applicable(true, true, false) {
		t.Fatal("expected metadata presence alone to make CE applicable")
	}
	if !Applicable(true, false, true) {
		t.Fatal("expected mandatory attributes alone to make CE applicable")
	}
	if Applicable(true, false, false) {
		t.Fatal("expected neither metadata nor mandatory attributes to make CE inapplicable")
	}
}

func TestEncodeBinaryProducesCeHeaders(t *testing.T) {
	builder := krecord.New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	codec, err := NewCodec(kconfig.CloudEventsBinary, false, "order.created", "orders-service", builder)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	msg := kmsg.NewMessage([]byte("payload"), nil, nil)
	msg.WithCloudEventMetadata(kmsg.CloudEventMetadata{Subject: "order-42"})

	rec, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(rec.Payload.([]byte)) != "payload" {
		t.Fatalf("binary mode must leave the payload untouched, got %v", rec.Payload)
	}

	want := map[string]string{"ce_type": "order.created", "ce_source": "orders-service", "ce_subject": "order-42"}
	for name, value := range want {
		v, ok := rec.Headers.Last(name)
		if !ok || string(v) != value {
			t.Fatalf("header %q = %q, %v; want %q", name, v, ok, value)
		}
	}
	if _, ok := rec.Headers.Last("ce_id"); !ok {
		t.Fatal("expected a generated ce_id header")
	}
}

func TestEncodeStructuredProducesJSONEnvelope(t *testing.T) {
	builder := krecord.New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	codec, err := NewCodec(kconfig.CloudEventsStructured, true, "order.created", "orders-service", builder)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	msg := kmsg.NewMessage("payload-string", nil, nil)
	rec, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	body, ok := rec.Payload.(string)
	if !ok {
		t.Fatalf("structured mode must produce a string payload, got %T", rec.Payload)
	}
	if !strings.Contains(body, `"specversion":"1.0"`) {
		t.Fatalf("envelope missing specversion: %s", body)
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope["type"] != "order.created" {
		t.Fatalf("envelope type = %v, want order.created", envelope["type"])
	}
}

func TestEncodePartitionKeyBecomesRecordKeyWhenUnset(t *testing.T) {
	builder := krecord.New(kconfig.RuntimeConfig{DefaultTopic: "orders-out", DefaultPartition: -1})
	codec, err := NewCodec(kconfig.CloudEventsBinary, false, "order.created", "orders-service", builder)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	msg := kmsg.NewMessage("payload", nil, nil)
	msg.WithCloudEventMetadata(kmsg.CloudEventMetadata{PartitionKey: "order-42", HasPartitionKey: true})

	rec, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if rec.Key != "order-42" {
		t.Fatalf("Key = %v, want partitionkey fallback", rec.Key)
	}
}
