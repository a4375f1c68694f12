// Package kcloudevents implements the CloudEventCodec from spec.md §4.2:
// binary framing (attributes as ce_ headers, value untouched) and structured
// framing (one JSON envelope as the value, which requires a string-typed
// value serializer). No CloudEvents SDK appears anywhere in the retrieval
// pack, so this is built directly on encoding/json and internal/kmsg.
package kcloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/krecord"
)

// ErrStructuredRequiresStringSerializer is returned by NewCodec when
// structured mode is requested without a string value serializer (§4.2,
// ConfigError in §7).
var ErrStructuredRequiresStringSerializer = fmt.Errorf("kcloudevents: structured mode requires a string value serializer")

// Codec encodes a Message as a CloudEvent ProducerRecord.
type Codec struct {
	mode          kconfig.CloudEventsMode
	builder       *krecord.Builder
	defaultType   string
	defaultSource string
}

// NewCodec validates the serializer constraint (§4.2) and constructs a
// Codec. builder supplies the non-CloudEvent field resolution (topic,
// partition, base headers) that CloudEvents framing layers on top of.
func NewCodec(mode kconfig.CloudEventsMode, valueSerializerIsString bool, defaultType, defaultSource string, builder *krecord.Builder) (*Codec, error) {
	if mode == kconfig.CloudEventsStructured && !valueSerializerIsString {
		return nil, ErrStructuredRequiresStringSerializer
	}
	return &Codec{mode: mode, builder: builder, defaultType: defaultType, defaultSource: defaultSource}, nil
}

// Applicable reports whether CloudEvents framing applies to msg, per §4.2's
// enablement rule: CE mode is on AND (the message carries CE metadata OR
// type+source are configured).
func Applicable(ceEnabled bool, hasMetadata bool, mandatoryAttributesSet bool) bool {
	return ceEnabled && (hasMetadata || mandatoryAttributesSet)
}

// Encode builds the ProducerRecord for msg under the codec's mode.
func (c *Codec) Encode(msg *kmsg.Message) (*kmsg.ProducerRecord, error) {
	base := c.builder.Build(msg)
	ce, hasCE := msg.CloudEventMetadataValue()
	ce = fillDefaults(ce, hasCE, c.defaultType, c.defaultSource)

	switch c.mode {
	case kconfig.CloudEventsStructured:
		return c.encodeStructured(base, ce)
	default:
		return c.encodeBinary(base, ce)
	}
}

func fillDefaults(ce kmsg.CloudEventMetadata, had bool, defaultType, defaultSource string) kmsg.CloudEventMetadata {
	if ce.ID == "" {
		ce.ID = uuid.NewString()
	}
	if ce.Type == "" {
		ce.Type = defaultType
	}
	if ce.Source == "" {
		ce.Source = defaultSource
	}
	if !ce.HasTime {
		ce.Time = time.Now().UTC()
		ce.HasTime = true
	}
	_ = had
	return ce
}

// encodeBinary implements §4.2's binary mode: attributes become ce_<name>
// headers, the payload becomes the value unchanged.
func (c *Codec) encodeBinary(base *kmsg.ProducerRecord, ce kmsg.CloudEventMetadata) (*kmsg.ProducerRecord, error) {
	headers := base.Headers
	headers = appendHeader(headers, "id", ce.ID)
	headers = appendHeader(headers, "source", ce.Source)
	headers = appendHeader(headers, "type", ce.Type)
	if ce.Subject != "" {
		headers = appendHeader(headers, "subject", ce.Subject)
	}
	if ce.HasTime {
		headers = appendHeader(headers, "time", ce.Time.Format(time.RFC3339Nano))
	}
	if ce.DataSchema != "" {
		headers = appendHeader(headers, "dataschema", ce.DataSchema)
	}
	if ce.DataContentType != "" {
		headers = append(headers, kmsg.Header{Key: "datacontenttype", Value: []byte(ce.DataContentType)})
	}
	for k, v := range ce.Extensions {
		headers = appendHeader(headers, k, v)
	}

	key := base.Key
	if ce.HasPartitionKey && base.Key == nil {
		key = ce.PartitionKey
	}

	return &kmsg.ProducerRecord{
		Topic:     base.Topic,
		Partition: base.Partition,
		Timestamp: base.Timestamp,
		Key:       key,
		Payload:   base.Payload,
		Headers:   headers,
	}, nil
}

func appendHeader(h kmsg.Headers, name, value string) kmsg.Headers {
	return append(h, kmsg.Header{Key: kconfig.CloudEventHeaderPrefix + name, Value: []byte(value)})
}

// structuredEnvelope is the single JSON object written as the record value
// in structured mode (§4.2).
type structuredEnvelope struct {
	SpecVersion     string            `json:"specversion"`
	ID              string            `json:"id"`
	Source          string            `json:"source"`
	Type            string            `json:"type"`
	Subject         string            `json:"subject,omitempty"`
	Time            string            `json:"time,omitempty"`
	DataContentType string            `json:"datacontenttype,omitempty"`
	DataSchema      string            `json:"dataschema,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
	Data            json.RawMessage   `json:"data,omitempty"`
}

// encodeStructured implements §4.2's structured mode.
func (c *Codec) encodeStructured(base *kmsg.ProducerRecord, ce kmsg.CloudEventMetadata) (*kmsg.ProducerRecord, error) {
	data, err := marshalData(base.Payload)
	if err != nil {
		return nil, fmt.Errorf("kcloudevents: marshal data: %w", err)
	}
	env := structuredEnvelope{
		SpecVersion:     "1.0",
		ID:              ce.ID,
		Source:          ce.Source,
		Type:            ce.Type,
		Subject:         ce.Subject,
		DataContentType: ce.DataContentType,
		DataSchema:      ce.DataSchema,
		Extensions:      ce.Extensions,
		Data:            data,
	}
	if ce.HasTime {
		env.Time = ce.Time.Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("kcloudevents: marshal envelope: %w", err)
	}

	headers := base.Headers
	if ce.DataContentType != "" {
		headers = append(headers, kmsg.Header{Key: "datacontenttype", Value: []byte(ce.DataContentType)})
	}

	key := base.Key
	if ce.HasPartitionKey && base.Key == nil {
		key = ce.PartitionKey
	}

	return &kmsg.ProducerRecord{
		Topic:     base.Topic,
		Partition: base.Partition,
		Timestamp: base.Timestamp,
		Key:       key,
		Payload:   string(body),
		Headers:   headers,
	}, nil
}

func marshalData(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return json.Marshal(string(v))
	case string:
		return json.Marshal(v)
	default:
		return json.Marshal(v)
	}
}
