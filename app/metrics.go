package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poic",
		Subsystem: "issuance",
		Name:      "challenges_total",
		Help:      "Issuance attempts by result.",
	}, []string{"result"})

	settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poic",
		Subsystem: "settlement",
		Name:      "submissions_total",
		Help:      "Answer submissions by outcome.",
	}, []string{"outcome"})

	sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poic",
		Subsystem: "reserve",
		Name:      "sweeps_total",
		Help:      "Sweep runs by result.",
	}, []string{"result"})

	permitsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poic",
		Subsystem: "permit",
		Name:      "issued_total",
		Help:      "Mint permits signed.",
	})
)

// registerSeenGauge reports the size of the seen-topic ledger on every scrape.
func registerSeenGauge(reg prometheus.Registerer, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "poic",
		Subsystem: "issuance",
		Name:      "seen_fingerprints",
		Help:      "Prompt fingerprints tracked for duplicate avoidance.",
	}, func() float64 { return float64(size()) }))
}
