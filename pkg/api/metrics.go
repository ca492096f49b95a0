package api

import (
	"net/http"

	"listdb/pkg/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRegistry exposes the list's counters. Each collector reads a fresh
// Stats snapshot at scrape time. The registry is per server so several lists
// can be served from one process.
func newRegistry(list *core.ListPersistor) *prometheus.Registry {
	counter := func(name, help string, value func(core.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(value(list.Stats())) })
	}
	gauge := func(name, help string, value func(core.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return value(list.Stats()) })
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		counter("listdb_reads_total", "Positional reads served",
			func(s core.Stats) uint64 { return s.Reads }),
		counter("listdb_writes_total", "Mutations passed to the backend",
			func(s core.Stats) uint64 { return s.Writes }),
		counter("listdb_cache_hits_total", "Reads answered from the position cache",
			func(s core.Stats) uint64 { return s.CacheHits }),
		counter("listdb_cache_misses_total", "Reads that had to locate the row",
			func(s core.Stats) uint64 { return s.CacheMisses }),
		counter("listdb_count_queries_total", "Count queries sent to the backend",
			func(s core.Stats) uint64 { return s.Counts }),
		counter("listdb_scan_queries_total", "Ordered scans sent to the backend",
			func(s core.Stats) uint64 { return s.Scans }),
		counter("listdb_exact_hits_total", "Interpolated keys that named the row",
			func(s core.Stats) uint64 { return s.ExactHits }),
		counter("listdb_prefetched_total", "Rows cached ahead of a read",
			func(s core.Stats) uint64 { return s.Prefetched }),
		counter("listdb_invalidations_total", "Cache invalidations",
			func(s core.Stats) uint64 { return s.Invalidations }),
		counter("listdb_backend_errors_total", "Failed backend calls",
			func(s core.Stats) uint64 { return s.BackendErrors }),
		counter("listdb_cache_evictions_total", "Entries dropped from a full cache",
			func(s core.Stats) uint64 { return s.Evictions }),
		gauge("listdb_cache_entries", "Positions held in the cache",
			func(s core.Stats) float64 { return float64(s.CacheLen) }),
		gauge("listdb_cache_capacity", "Cache capacity",
			func(s core.Stats) float64 { return float64(s.CacheCapacity) }),
		gauge("listdb_size", "Rows in scope, as last counted",
			func(s core.Stats) float64 { return float64(s.Size) }),
		gauge("listdb_rw_ratio", "Reads per write",
			func(s core.Stats) float64 { return s.ReadWrite }),
	)
	return reg
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
