package kbroker

import (
	"testing"

	"github.com/IBM/sarama"

	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/kretry"
)

func TestToEncoderTypes(t *testing.T) {
	if enc, err := toEncoder(nil); err != nil || enc != nil {
		t.Fatalf("nil -> (%v, %v), want (nil, nil)", enc, err)
	}
	if enc, err := toEncoder([]byte("raw")); err != nil {
		t.Fatalf("[]byte: %v", err)
	} else if string(mustEncode(t, enc)) != "raw" {
		t.Fatalf("[]byte encoded = %q", mustEncode(t, enc))
	}
	if enc, err := toEncoder("text"); err != nil {
		t.Fatalf("string: %v", err)
	} else if string(mustEncode(t, enc)) != "text" {
		t.Fatalf("string encoded = %q", mustEncode(t, enc))
	}
	if enc, err := toEncoder(map[string]int{"a": 1}); err != nil {
		t.Fatalf("default json: %v", err)
	} else if string(mustEncode(t, enc)) != `{"a":1}` {
		t.Fatalf("json encoded = %q", mustEncode(t, enc))
	}
}

func mustEncode(t *testing.T, enc sarama.Encoder) []byte {
	t.Helper()
	b, err := enc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

func TestToSaramaHeaders(t *testing.T) {
	h := toSaramaHeaders(kmsg.Headers{{Key: "a", Value: []byte("1")}})
	if len(h) != 1 || string(h[0].Key) != "a" || string(h[0].Value) != "1" {
		t.Fatalf("headers = %+v", h)
	}
	if toSaramaHeaders(nil) != nil {
		t.Fatal("expected nil headers to stay nil")
	}
}

func TestClassifyMapsKnownKErrors(t *testing.T) {
	cases := []struct {
		kerr sarama.KError
		kind kretry.ErrorKind
	}{
		{sarama.ErrInvalidTopic, kretry.InvalidTopic},
		{sarama.ErrOffsetMetadataTooLarge, kretry.OffsetMetadataTooLarge},
		{sarama.ErrMessageSizeTooLarge, kretry.RecordTooLarge},
		{sarama.ErrUnknown, kretry.UnknownServer},
	}
	for _, tc := range cases {
		err := classify(tc.kerr)
		var c *kretry.Classified
		if !as(err, &c) {
			t.Fatalf("classify(%v) did not produce a *kretry.Classified", tc.kerr)
		}
		if c.Kind != tc.kind {
			t.Fatalf("classify(%v).Kind = %v, want %v", tc.kerr, c.Kind, tc.kind)
		}
	}
}

func TestClassifyDefaultsToRecoverable(t *testing.T) {
	err := classify(sarama.ErrOutOfBrokers)
	if !kretry.Recoverable(err) {
		t.Fatal("expected an unmapped KError to classify as recoverable")
	}
}

func as(err error, target **kretry.Classified) bool {
	c, ok := err.(*kretry.Classified)
	if !ok {
		return false
	}
	*target = c
	return true
}
