package kmsg

import "testing"

func TestHeadersLastPrefersMostRecent(t *testing.T) {
	h := Headers{
		{Key: "kafka_replyTopic", Value: []byte("first")},
		{Key: "kafka_replyTopic", Value: []byte("second")},
	}
	v, ok := h.Last("kafka_replyTopic")
	if !ok || string(v) != "second" {
		t.Fatalf("Last = %q, %v; want %q, true", v, ok, "second")
	}
	if _, ok := h.Last("missing"); ok {
		t.Fatal("expected missing key to report not found")
	}
}

func TestHeadersMergeOverridesOnCollision(t *testing.T) {
	base := Headers{
		{Key: "a", Value: []byte("base-a")},
		{Key: "b", Value: []byte("base-b")},
	}
	override := Headers{
		{Key: "a", Value: []byte("override-a")},
		{Key: "c", Value: []byte("override-c")},
	}
	merged := base.Merge(override)

	want := map[string]string{"a": "override-a", "b": "base-b", "c": "override-c"}
	if len(merged) != len(want) {
		t.Fatalf("merged = %+v, want %d entries", merged, len(want))
	}
	for _, h := range merged {
		if string(h.Value) != want[h.Key] {
			t.Fatalf("header %q = %q, want %q", h.Key, h.Value, want[h.Key])
		}
	}
}

func TestAsRecordUnwrapsTypedRecord(t *testing.T) {
	r := NewRecord("order-42", []byte("payload"))
	key, value, ok := AsRecord(r)
	if !ok {
		t.Fatal("expected AsRecord to recognize a Record[K,V]")
	}
	if key.(string) != "order-42" {
		t.Fatalf("key = %v, want order-42", key)
	}
	if string(value.([]byte)) != "payload" {
		t.Fatalf("value = %v, want payload", value)
	}
}

func TestAsRecordRejectsPlainPayload(t *testing.T) {
	if _, _, ok := AsRecord("just a string"); ok {
		t.Fatal("expected AsRecord to reject a non-Record payload")
	}
}
