// Package kconfig loads the configuration keys in spec.md §6 the way the
// teacher's source/kafka/config.go loads its own: koanf over a YAML file
// overlaid by environment variables, with a schema_version guard borrowed
// from internal/config/pipeline.go's LoadPipelineSpec.
package kconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SupportedSchema is the only schema_version this loader accepts.
const SupportedSchema = "v1"

// CloudEventsMode selects binary or structured CloudEvent framing (§4.2).
type CloudEventsMode string

const (
	CloudEventsBinary     CloudEventsMode = "binary"
	CloudEventsStructured CloudEventsMode = "structured"
)

// MaxRetries is the §4.4 "unbounded, deadline-bound" sentinel.
const MaxRetries = -1

// UnboundedInflight is the §4.3/§6 sentinel for "no max-inflight cap".
const UnboundedInflight = 0

// Config is the declarative surface of spec.md §6. Default values mirror
// the original's RuntimeKafkaSinkConfiguration / KafkaConnectorOutgoingConfiguration
// defaults.
type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	Channel string `koanf:"channel"`

	Brokers  []string `koanf:"bootstrap.servers"`
	ClientID string   `koanf:"client.id"`

	Topic     string `koanf:"topic"`
	Key       string `koanf:"key"`
	HasKey    bool
	Partition int32 `koanf:"partition"`

	Retries                int64 `koanf:"retries"`
	DeliveryTimeoutMs      int   `koanf:"delivery.timeout.ms"`
	MaxInflight            int64 `koanf:"max-inflight-messages"`
	WaitForWriteCompletion bool  `koanf:"wait-for-write-completion"`

	CloudEvents           bool   `koanf:"cloud-events"`
	CloudEventsModeStr    string `koanf:"cloud-events-mode"`
	CloudEventsType       string `koanf:"cloud-events-type"`
	CloudEventsSource     string `koanf:"cloud-events-source"`
	ValueSerializerString bool   `koanf:"value.serializer.is.string"`

	PropagateRecordKey bool `koanf:"propagate-record-key"`
	TracingEnabled     bool `koanf:"tracing-enabled"`

	HealthEnabled          bool `koanf:"health-enabled"`
	HealthReadinessEnabled bool `koanf:"health-readiness-enabled"`

	TransactionalID string `koanf:"transactional.id"`
	GroupID         string `koanf:"group.id"`
}

// CloudEventsModeValue parses CloudEventsModeStr, defaulting to binary.
func (c Config) CloudEventsModeValue() CloudEventsMode {
	if CloudEventsMode(c.CloudEventsModeStr) == CloudEventsStructured {
		return CloudEventsStructured
	}
	return CloudEventsBinary
}

// MandatoryCloudEventAttributesSet reports whether type+source are
// configured, the §4.2 condition for applying CE framing without metadata.
func (c Config) MandatoryCloudEventAttributesSet() bool {
	return c.CloudEventsType != "" && c.CloudEventsSource != ""
}

// EffectiveTopic resolves the configured default topic, falling back to the
// channel name per §4.1 rule 1's last clause.
func (c Config) EffectiveTopic() string {
	if c.Topic != "" {
		return c.Topic
	}
	return c.Channel
}

// RuntimeConfig is a small resolved bundle split out from the declarative
// Config, mirroring the original's RuntimeKafkaSinkConfiguration: the few
// knobs RecordBuilder/CloudEventCodec actually consult per-message.
type RuntimeConfig struct {
	PropagateRecordKey bool
	DefaultKey         any
	HasDefaultKey      bool
	DefaultTopic       string
	DefaultPartition   int32 // kmsg.UnsetPartition (-1) when unset
}

// BuildRuntimeConfig resolves a RuntimeConfig from Config.
func BuildRuntimeConfig(c Config) RuntimeConfig {
	rc := RuntimeConfig{
		PropagateRecordKey: c.PropagateRecordKey,
		DefaultTopic:       c.EffectiveTopic(),
		DefaultPartition:   c.Partition,
	}
	if c.HasKey {
		rc.DefaultKey = c.Key
		rc.HasDefaultKey = true
	}
	return rc
}

// Load reads cfg from a YAML file (optional) overlaid by
// KAFKASINK__-prefixed environment variables, the way
// source/kafka/config.go's LoadConfig does for its own Config type.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("kconfig: schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	_ = k.Load(env.Provider("KAFKASINK__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "KAFKASINK__"))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	cfg.HasKey = k.Exists("key")
	if !k.Exists("partition") {
		cfg.Partition = -1
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.DeliveryTimeoutMs == 0 {
		c.DeliveryTimeoutMs = 120_000 // broker client default (§6)
	}
	if c.CloudEventsModeStr == "" {
		c.CloudEventsModeStr = string(CloudEventsBinary)
	}
}

// ResolvedDeliveryTimeout exposes the effective delivery.timeout.ms as a
// time.Duration: the configured value, or the 120000 ms default that Load
// applies when the key is absent.
func (c Config) ResolvedDeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutMs) * time.Millisecond
}
