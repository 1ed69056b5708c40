package mint

import (
	"net/http"

	"github.com/elnosh/multimint/cashu"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	issued     *prometheus.CounterVec
	redeemed   *prometheus.CounterVec
	swapped    *prometheus.CounterVec
	melts      *prometheus.CounterVec
	operations *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimint",
			Name:      "issued_sats_total",
			Help:      "Ecash issued against paid invoices.",
		}, []string{"mint_id"}),
		redeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimint",
			Name:      "redeemed_sats_total",
			Help:      "Ecash spent to fund outgoing payments.",
		}, []string{"mint_id"}),
		swapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimint",
			Name:      "split_sats_total",
			Help:      "Ecash exchanged through split.",
		}, []string{"mint_id"}),
		melts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimint",
			Name:      "melts_total",
			Help:      "Melt outcomes.",
		}, []string{"mint_id", "outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimint",
			Name:      "operations_total",
			Help:      "Operations by result kind.",
		}, []string{"operation", "result"}),
	}

	m.registry.MustRegister(m.issued, m.redeemed, m.swapped, m.melts, m.operations)
	return m
}

// observe records the result of an operation. A nil err is recorded as ok.
func (m *metrics) observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = cashu.ErrorKindOf(err).String()
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
