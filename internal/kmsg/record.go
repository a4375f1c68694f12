package kmsg

import "fmt"

// ProducerRecord is the broker-bound record produced by RecordBuilder or
// CloudEventCodec, or supplied verbatim as a Message payload (§3, §4.1).
type ProducerRecord struct {
	Topic     string
	Partition int32 // UnsetPartition = unset
	Timestamp int64 // epoch-millis; -1 = unset
	Key       any
	Payload   any
	Headers   Headers
}

// Validate checks the §3 ProducerRecord invariants.
func (r *ProducerRecord) Validate() error {
	if r.Topic == "" {
		return fmt.Errorf("kmsg: producer record topic must not be empty")
	}
	if r.Partition != UnsetPartition && r.Partition < 0 {
		return fmt.Errorf("kmsg: producer record partition must be -1 or >= 0, got %d", r.Partition)
	}
	if r.Timestamp != -1 && r.Timestamp < 0 {
		return fmt.Errorf("kmsg: producer record timestamp must be -1 or >= 0, got %d", r.Timestamp)
	}
	return nil
}

// RecordMetadata is what the broker hands back on a successful send and
// gets stamped onto the originating Message (§4.5 step 5).
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
}
