package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Operations     *prometheus.CounterVec
	StoreDuration  *prometheus.HistogramVec
	PriceLookups   *prometheus.CounterVec
	CachedAccounts prometheus.Gauge
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total ledger operations by outcome.",
			},
			[]string{"op", "result"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_store_duration_seconds",
				Help:    "Ledger store call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		PriceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_price_lookups_total",
				Help: "Total price oracle lookups.",
			},
			[]string{"result"},
		),
		CachedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_cached_accounts",
				Help: "Accounts held in the in-memory ledger cache.",
			},
		),
	}

	registry.MustRegister(
		m.Operations,
		m.StoreDuration,
		m.PriceLookups,
		m.CachedAccounts,
	)
	return m
}

func (m *Metrics) ObserveOperation(op, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveStore(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) IncPriceLookup(result string) {
	if m == nil {
		return
	}
	m.PriceLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCachedAccounts(n int) {
	if m == nil {
		return
	}
	m.CachedAccounts.Set(float64(n))
}
