// Package metrics is the Prometheus instrumentation shared by the
// transport, transaction, and dialog layers: one Collector per process,
// in the same spirit as retry.Default's single shared scheduler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric this stack exports. Default registers
// them under the "sip" namespace and the "ua" subsystem.
type Collector struct {
	ParseErrors       prometheus.Counter
	Retransmissions   *prometheus.CounterVec
	DroppedResponses  prometheus.Counter

	ActiveClientTx prometheus.Gauge
	ActiveServerTx prometheus.Gauge
	ActiveDialogs  *prometheus.GaugeVec
}

// New builds an independent Collector registered against its own
// registry, so tests can construct one without colliding with the
// process-wide Default().
func New(reg prometheus.Registerer, namespace, subsystem string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "parse_errors_total",
			Help:      "Total number of SIP messages that failed to parse.",
		}),
		Retransmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmissions_total",
			Help:      "Total number of request retransmissions by timer.",
		}, []string{"timer"}),
		DroppedResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orphan_responses_total",
			Help:      "Total number of responses that matched no client transaction.",
		}),
		ActiveClientTx: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_transactions_active",
			Help:      "Number of client transactions currently in flight.",
		}),
		ActiveServerTx: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_transactions_active",
			Help:      "Number of server transactions currently in flight.",
		}),
		ActiveDialogs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dialogs_active",
			Help:      "Number of confirmed or early dialogs by role.",
		}, []string{"role"}),
	}
}

var (
	defaultOnce sync.Once
	defaultC    *Collector
)

// Default returns the process-wide Collector, registered against
// prometheus.DefaultRegisterer on first use.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultC = New(prometheus.DefaultRegisterer, "sip", "ua")
	})
	return defaultC
}
