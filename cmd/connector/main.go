// Command connector runs the Kafka sink as a standalone process. It does not
// yet wire a transaction coordinator; that requires a bound consumer group,
// which this minimal CLI does not run (see internal/ktxn for the
// coordinator's own test-covered lifecycle).
// Grounded on cmd/engine/main.go's signal-context + bootstrap + run shape.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prakashelango/reactive-kafka-connector/internal/kbroker"
	"github.com/prakashelango/reactive-kafka-connector/internal/kconfig"
	"github.com/prakashelango/reactive-kafka-connector/internal/ksink"
	"github.com/prakashelango/reactive-kafka-connector/internal/logging"
	"github.com/prakashelango/reactive-kafka-connector/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "connector.yaml", "path to the sink configuration file")
	metricsPort := flag.Int("metrics-port", 9100, "port to expose Prometheus metrics on")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *metricsPort); err != nil {
		log.Fatalf("connector: %v", err)
	}
}

func run(ctx context.Context, configPath string, metricsPort int) error {
	cfg, err := kconfig.Load(configPath)
	if err != nil {
		return err
	}

	metrics := telemetry.NewCollectors(prometheus.DefaultRegisterer)
	telemetry.Expose(metricsPort)

	producer, err := kbroker.NewSaramaProducer(kbroker.Config{
		Brokers:         cfg.Brokers,
		ClientID:        cfg.ClientID,
		TransactionalID: cfg.TransactionalID,
	})
	if err != nil {
		return err
	}

	sink, err := ksink.New(cfg, producer, metrics, nil)
	if err != nil {
		return err
	}
	defer sink.CloseQuietly()

	go sink.Run(ctx)

	logging.L().Info("connector: started", "channel", cfg.Channel, "topic", cfg.EffectiveTopic())
	<-ctx.Done()
	logging.L().Info("connector: shutting down")
	return nil
}
