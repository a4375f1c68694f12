// Package ksink implements KafkaSink from spec.md §4.5: the orchestrator
// that owns a broker producer, wires a SenderPipeline around
// writeMessageToKafka, and exposes the sink's health/lifecycle surface.
// Grounded on sink/kafka/driver_sarama.go's producer construction and
// KafkaSink.java's writeMessageToKafka/isAlive/closeQuietly shape.
package ksink

import (
	"context"
	"fmt"

	"github.com/prakashelango/reactive-kafka-connector/internal/kbroker"
	"github.com/prakashelango/reactive-kafka-connector/internal/kcloudevents"
	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/kfailure"
	"github.com/prakashelango/reactive-kafka-connector/internal/kinflight"
	"github.com/prakashelango/reactive-kafka-connector/internal/kmsg"
	"github.com/prakashelango/reactive-kafka-connector/internal/kpipeline"
	"github.com/prakashelango/reactive-kafka-connector/internal/krecord"
	"github.com/prakashelango/reactive-kafka-connector/internal/kretry"
	"github.com/prakashelango/reactive-kafka-connector/internal/logging"
	"github.com/prakashelango/reactive-kafka-connector/internal/telemetry"
)

// HealthProbe performs broker-side readiness/liveness checks that must not
// run on the message-processing path (§4.5's "must not be called from the
// I/O thread"). A nil probe means readiness/started checks report nothing.
type HealthProbe interface {
	IsReady(ctx context.Context) error
	IsStarted(ctx context.Context) error
	Close() error
}

// Sink builds broker records for §4.5's KafkaSink and wires a SenderPipeline
// around writeMessageToKafka.
type Sink struct {
	cfg      kconfig.Config
	producer kbroker.Producer
	builder  *krecord.Builder
	codec    *kcloudevents.Codec // nil when CloudEvents are not configured
	retry    *kretry.Policy
	failures *kfailure.Registry
	metrics  *telemetry.Collectors
	probe    HealthProbe

	pipeline *kpipeline.Pipeline
	upstream chan *kmsg.Message
}

// New constructs a Sink around an already-built producer: it validates the structured
// CloudEvents/string-serializer constraint (§4.2), and wires the
// SenderPipeline around writeMessageToKafka (§4.5 step "new").
func New(cfg kconfig.Config, producer kbroker.Producer, metrics *telemetry.Collectors, probe HealthProbe) (*Sink, error) {
	runtime := kconfig.BuildRuntimeConfig(cfg)
	builder := krecord.New(runtime)

	var codec *kcloudevents.Codec
	if cfg.CloudEvents {
		c, err := kcloudevents.NewCodec(cfg.CloudEventsModeValue(), cfg.ValueSerializerString, cfg.CloudEventsType, cfg.CloudEventsSource, builder)
		if err != nil {
			return nil, fmt.Errorf("ksink: construct cloud event codec: %w", err)
		}
		codec = c
	}

	retry := kretry.New(cfg.Retries, cfg.ResolvedDeliveryTimeout())
	if metrics != nil {
		retry.OnRetry(metrics.SendRetries.Inc)
	}

	s := &Sink{
		cfg:      cfg,
		producer: producer,
		builder:  builder,
		codec:    codec,
		retry:    retry,
		failures: kfailure.New(),
		metrics:  metrics,
		probe:    probe,
		upstream: make(chan *kmsg.Message),
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = kinflight.Unbounded
	}
	s.pipeline = kpipeline.New(maxInflight, s.writeMessageToKafka)
	return s, nil
}

// Sink returns the subscriber end of the pipeline (§4.5's sink()):
// upstream publishers send messages here and Run drains them.
func (s *Sink) Sink() chan<- *kmsg.Message { return s.upstream }

// Run drives the pipeline until ctx is canceled or the upstream channel is
// closed. It must run on its own goroutine for the sink's lifetime.
func (s *Sink) Run(ctx context.Context) { s.pipeline.Run(ctx, s.upstream) }

// IsAlive reports §4.5's isAlive(builder): healthy iff the failure registry
// is empty, when health is enabled.
func (s *Sink) IsAlive() (healthy bool, enabled bool) {
	if !s.cfg.HealthEnabled {
		return false, false
	}
	return s.failures.Empty(), true
}

// IsReady delegates to the optional broker-side probe (§4.5's isReady).
func (s *Sink) IsReady(ctx context.Context) error {
	if !s.cfg.HealthReadinessEnabled || s.probe == nil {
		return nil
	}
	return s.probe.IsReady(ctx)
}

// IsStarted delegates to the optional broker-side probe (§4.5's isStarted).
func (s *Sink) IsStarted(ctx context.Context) error {
	if s.probe == nil {
		return nil
	}
	return s.probe.IsStarted(ctx)
}

// Producer exposes the underlying broker producer, e.g. for a
// TransactionCoordinator built from the same sink configuration.
func (s *Sink) Producer() kbroker.Producer { return s.producer }

// CloseQuietly cancels the pipeline, closes the producer and health probe,
// logging rather than propagating any close error (§4.5's closeQuietly()).
func (s *Sink) CloseQuietly() {
	s.pipeline.Close()
	if err := s.producer.Close(); err != nil {
		logging.L().Warn("ksink: close producer", "error", err)
	}
	if s.probe != nil {
		if err := s.probe.Close(); err != nil {
			logging.L().Warn("ksink: close health probe", "error", err)
		}
	}
}

// writeMessageToKafka is §4.5's core per-message function, used as the
// SenderPipeline's WriteFunc. It resolves ack/nack itself; it never returns
// an error the pipeline needs to act on.
func (s *Sink) writeMessageToKafka(ctx context.Context, msg *kmsg.Message) error {
	if s.metrics != nil {
		s.metrics.Inflight.Set(float64(s.pipeline.Pending()))
		defer s.metrics.Inflight.Set(float64(s.pipeline.Pending()))
	}

	rec, err := s.buildRecord(msg)
	if err != nil {
		s.fail(ctx, msg, err)
		return nil
	}

	// The retried unit is only the broker send (§4.4 "given a future of a
	// send"). The ack is terminal and runs exactly once after a send
	// succeeds, so an ack failure can never cause retry.Do to re-issue the
	// same record to the broker.
	var result kmsg.RecordMetadata
	send := func(ctx context.Context) error {
		md, err := s.producer.Send(ctx, rec)
		if err != nil {
			return err
		}
		result = md
		return nil
	}

	if s.cfg.WaitForWriteCompletion {
		if err := s.retry.Do(ctx, send); err != nil {
			s.fail(ctx, msg, err)
			return nil
		}
		s.ackWithResult(ctx, msg, result)
		return nil
	}

	go func() {
		if err := s.retry.Do(ctx, send); err != nil {
			s.fail(ctx, msg, err)
			return
		}
		s.ackWithResult(ctx, msg, result)
	}()
	return nil
}

// ackWithResult stamps rm onto msg (§4.5 step 5, KafkaSink.java's
// setResultOnMessage) and acks. An ack failure is logged, not treated as a
// send failure: the record already reached the broker, so it must not
// re-enter the retry/fail path.
func (s *Sink) ackWithResult(ctx context.Context, msg *kmsg.Message, rm kmsg.RecordMetadata) {
	msg.WithResultMetadata(rm)
	if err := msg.Ack(ctx); err != nil {
		logging.L().Error("ksink: ack failed after successful send", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
}

// buildRecord runs steps 1-2 of writeMessageToKafka: extract metadata and
// build the broker record, via CloudEvents framing when applicable, else
// the plain RecordBuilder.
func (s *Sink) buildRecord(msg *kmsg.Message) (*kmsg.ProducerRecord, error) {
	if s.codec != nil {
		_, hasCE := msg.CloudEventMetadataValue()
		mandatory := s.cfg.MandatoryCloudEventAttributesSet()
		if kcloudevents.Applicable(s.cfg.CloudEvents, hasCE, mandatory) {
			return s.codec.Encode(msg)
		}
	}
	return s.builder.Build(msg), nil
}

func (s *Sink) fail(ctx context.Context, msg *kmsg.Message, err error) {
	logging.L().Error("ksink: send failed", "error", err)
	s.failures.Report(err)
	if s.metrics != nil {
		s.metrics.SendFailures.Inc()
	}
	if nackErr := msg.Nack(ctx, err); nackErr != nil {
		logging.L().Error("ksink: nack failed", "error", nackErr)
	}
}
