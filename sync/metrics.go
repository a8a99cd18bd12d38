package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	tenantsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cgmsync", Subsystem: "tenant", Name: "processed_total", Help: "Tenants processed by outcome."},
		[]string{"outcome"},
	)
	recordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cgmsync", Subsystem: "records", Name: "processed_total", Help: "Records by result (uploaded, failed, skipped)."},
		[]string{"result"},
	)
	directoryRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cgmsync", Subsystem: "directory", Name: "refreshes_total", Help: "Tenant directory fetches from the source."},
	)
	directoryDroppedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cgmsync", Subsystem: "directory", Name: "dropped_entries_total", Help: "Directory rows dropped for missing identity or id."},
	)
	connectivityProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cgmsync", Subsystem: "connectivity", Name: "probes_total", Help: "Destination status probes by result."},
		[]string{"result"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "cgmsync", Subsystem: "run", Name: "duration_seconds", Help: "Duration of a full sync run.", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(tenantsProcessed, recordsProcessed, directoryRefreshes, directoryDroppedEntries, connectivityProbes, runDuration)
}
