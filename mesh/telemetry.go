package mesh

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	reconstructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beaconmesh",
			Subsystem: "reconstruction",
			Name:      "runs_total",
			Help:      "Reconstruction runs by outcome.",
		},
		[]string{"outcome"},
	)
	reconstructionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "beaconmesh",
			Subsystem: "reconstruction",
			Name:      "duration_seconds",
			Help:      "Reconstruction run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	beaconGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beaconmesh",
			Subsystem: "reconstruction",
			Name:      "beacons",
			Help:      "Distinct beacons in the last successful reconstruction.",
		},
	)
	pairsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beaconmesh",
			Subsystem: "matcher",
			Name:      "pairs_total",
			Help:      "Scanner pairs evaluated by the matcher.",
		},
	)
	pairsOverlapping = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beaconmesh",
			Subsystem: "matcher",
			Name:      "overlaps_total",
			Help:      "Scanner pairs found to overlap.",
		},
	)
)

// RegisterMetrics registers the collectors on the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(reconstructions, reconstructionDuration, beaconGauge, pairsEvaluated, pairsOverlapping)
	})
}

// RecordReconstruction records one reconstruction run
func RecordReconstruction(outcome string, duration time.Duration, beacons int) {
	RegisterMetrics()
	reconstructions.WithLabelValues(outcome).Inc()
	reconstructionDuration.Observe(duration.Seconds())
	if outcome == "ok" {
		beaconGauge.Set(float64(beacons))
	}
}

// RecordPairs records the matcher's pair counts for one run
func RecordPairs(evaluated, overlapping int) {
	RegisterMetrics()
	pairsEvaluated.Add(float64(evaluated))
	pairsOverlapping.Add(float64(overlapping))
}
