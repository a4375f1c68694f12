// Package telemetry exposes the sink's Prometheus metrics, extending the
// teacher's bare promhttp.Handler() exposition with the counters/gauges the
// components in this repo actually produce.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the metrics KafkaSink and TransactionCoordinator
// report against. All are safe for concurrent use, per prometheus/client_golang.
type Collectors struct {
	SendFailures      prometheus.Counter
	SendRetries       prometheus.Counter
	MessagesSent      prometheus.Counter
	Inflight          prometheus.Gauge
	TransactionsBegun prometheus.Counter
	TransactionsOK    prometheus.Counter
	TransactionsAbort prometheus.Counter
}

// NewCollectors builds and registers a Collectors against reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics path.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_send_failures_total",
			Help: "Messages that exhausted retries or hit a non-recoverable send error.",
		}),
		SendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_send_retries_total",
			Help: "Retry attempts issued by the retry policy.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_messages_sent_total",
			Help: "Messages successfully acknowledged by the broker.",
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kafkasink_inflight_messages",
			Help: "Messages currently in flight in the sender pipeline.",
		}),
		TransactionsBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_transactions_begun_total",
			Help: "Transactions opened by the coordinator.",
		}),
		TransactionsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_transactions_committed_total",
			Help: "Transactions committed successfully.",
		}),
		TransactionsAbort: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafkasink_transactions_aborted_total",
			Help: "Transactions aborted, including rebalance fencing aborts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.SendFailures, c.SendRetries, c.MessagesSent, c.Inflight,
			c.TransactionsBegun, c.TransactionsOK, c.TransactionsAbort)
	}
	return c
}

// Expose serves the registered collectors on /metrics at port, matching the
// teacher's fire-and-forget promhttp.Handler() exposition.
func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
