package monitor

import (
	"sync/atomic"
)

// WorkloadStats counts what a ListPersistor did to answer its callers.
type WorkloadStats struct {
	ReadCount     uint64
	WriteCount    uint64
	HitCount      uint64
	MissCount     uint64
	CountQueries  uint64
	ScanQueries   uint64
	ExactHits     uint64
	Prefetched    uint64
	Invalidations uint64
	BackendErrors uint64
}

// Snapshot is a point-in-time copy of the counters, safe to serialise.
type Snapshot struct {
	Reads         uint64  `json:"reads" msgpack:"reads"`
	Writes        uint64  `json:"writes" msgpack:"writes"`
	CacheHits     uint64  `json:"cache_hits" msgpack:"cache_hits"`
	CacheMisses   uint64  `json:"cache_misses" msgpack:"cache_misses"`
	Counts        uint64  `json:"counts" msgpack:"counts"`
	Scans         uint64  `json:"scans" msgpack:"scans"`
	ExactHits     uint64  `json:"exact_hits" msgpack:"exact_hits"`
	Prefetched    uint64  `json:"prefetched" msgpack:"prefetched"`
	Invalidations uint64  `json:"invalidations" msgpack:"invalidations"`
	BackendErrors uint64  `json:"backend_errors" msgpack:"backend_errors"`
	ReadWrite     float64 `json:"read_write_ratio" msgpack:"read_write_ratio"`
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead()         { atomic.AddUint64(&ws.ReadCount, 1) }
func (ws *WorkloadStats) RecordWrite()        { atomic.AddUint64(&ws.WriteCount, 1) }
func (ws *WorkloadStats) RecordHit()          { atomic.AddUint64(&ws.HitCount, 1) }
func (ws *WorkloadStats) RecordMiss()         { atomic.AddUint64(&ws.MissCount, 1) }
func (ws *WorkloadStats) RecordCount()        { atomic.AddUint64(&ws.CountQueries, 1) }
func (ws *WorkloadStats) RecordScan()         { atomic.AddUint64(&ws.ScanQueries, 1) }
func (ws *WorkloadStats) RecordExactHit()     { atomic.AddUint64(&ws.ExactHits, 1) }
func (ws *WorkloadStats) RecordInvalidation() { atomic.AddUint64(&ws.Invalidations, 1) }
func (ws *WorkloadStats) RecordBackendError() { atomic.AddUint64(&ws.BackendErrors, 1) }

func (ws *WorkloadStats) RecordPrefetch(n int) {
	atomic.AddUint64(&ws.Prefetched, uint64(n))
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}

func (ws *WorkloadStats) Snapshot() Snapshot {
	return Snapshot{
		Reads:         atomic.LoadUint64(&ws.ReadCount),
		Writes:        atomic.LoadUint64(&ws.WriteCount),
		CacheHits:     atomic.LoadUint64(&ws.HitCount),
		CacheMisses:   atomic.LoadUint64(&ws.MissCount),
		Counts:        atomic.LoadUint64(&ws.CountQueries),
		Scans:         atomic.LoadUint64(&ws.ScanQueries),
		ExactHits:     atomic.LoadUint64(&ws.ExactHits),
		Prefetched:    atomic.LoadUint64(&ws.Prefetched),
		Invalidations: atomic.LoadUint64(&ws.Invalidations),
		BackendErrors: atomic.LoadUint64(&ws.BackendErrors),
		ReadWrite:     ws.GetReadWriteRatio(),
	}
}
