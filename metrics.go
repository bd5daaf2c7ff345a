package vring

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vring",
		Subsystem: "ring",
		Name:      "lookups_total",
		Help:      "Number of key lookups served",
	}, []string{"backend"})

	remapCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vring",
		Subsystem: "ring",
		Name:      "remaps_total",
		Help:      "Number of vnodes remapped to a new pnode",
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(
		lookupCounter,
		remapCounter)
}
