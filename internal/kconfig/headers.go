package kconfig

// Reserved headers (§6). ReplyPartitionHeader's value is a 32-bit
// big-endian integer, matching KafkaRequestReply.replyPartitionFromBytes in
// the original.
const (
	ReplyTopicHeader     = "kafka_replyTopic"
	ReplyPartitionHeader = "kafka_replyPartition"

	// CloudEventHeaderPrefix prefixes binary-mode CloudEvent headers (§4.2).
	CloudEventHeaderPrefix = "ce_"
)
