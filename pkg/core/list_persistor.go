package core

import (
	"context"
	"sync"
	"time"

	"listdb/pkg/common"
	"listdb/pkg/core/structure"
	"listdb/pkg/criteria"
	"listdb/pkg/logger"
	"listdb/pkg/model"
	"listdb/pkg/monitor"
	"listdb/pkg/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const unknownSize = -1

// ListPersistor turns integer positions into records of an ordered source it can
// only count and scan. Positions are resolved by interpolating an approximate
// key between the first and last rows, counting the rows on one side of it and
// scanning the remainder; resolved positions are cached and prefetched by page.
//
// One mutex guards the bounds, the cache and the settings. Public methods take it
// once and call the ...Locked helpers.
type ListPersistor struct {
	id    string
	src   storage.Persistor
	order common.Order
	model model.Model

	mu    sync.Mutex
	cfg   settings
	size  int64
	first *common.Record
	last  *common.Record
	cache *structure.CacheMap[int64, *common.Record]

	stopCh chan struct{}
	wg     sync.WaitGroup

	stats *monitor.WorkloadStats
	log   *logrus.Entry
}

// NewListPersistor wraps src in order. The primary key of src is appended to the
// order so that it is total.
func NewListPersistor(src storage.Persistor, order common.Order, opts ...Option) (*ListPersistor, error) {
	keys := src.FieldList().PrimaryKeys()
	if len(keys) == 0 {
		return nil, ErrNoPrimaryKey
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	log := cfg.log
	if log == nil {
		log = logger.Component("list")
	}
	l := &ListPersistor{
		id:    id,
		src:   src,
		order: order.WithTieBreak(keys),
		model: model.NewLinearKeyModel(),
		cfg:   cfg,
		size:  unknownSize,
		cache: structure.NewCacheMap[int64, *common.Record](cfg.cacheSize, cfg.cacheFactor),
		stats: monitor.NewWorkloadStats(),
		log:   log.WithField("list", id),
	}
	l.startRefreshLocked(cfg.refreshDelay)
	l.log.WithField("order", l.order.String()).Debug("list created")
	return l, nil
}

func (l *ListPersistor) ID() string                { return l.id }
func (l *ListPersistor) Order() common.Order       { return l.order }
func (l *ListPersistor) Source() storage.Persistor { return l.src }

func (l *ListPersistor) GlobalCriteria() *criteria.Criteria {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.global
}

// Close stops the refresh timer. The wrapped persistor is not closed.
func (l *ListPersistor) Close() error {
	l.mu.Lock()
	l.stopRefreshLocked()
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// ---- bounds ----

func (l *ListPersistor) Size(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sizeLocked(ctx)
}

func (l *ListPersistor) sizeLocked(ctx context.Context) (int64, error) {
	if l.size != unknownSize {
		return l.size, nil
	}
	n, err := l.countLocked(ctx, nil)
	if err != nil {
		return 0, err
	}
	l.size = n
	return n, nil
}

func (l *ListPersistor) FirstRecord(ctx context.Context) (*common.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstLocked(ctx)
}

func (l *ListPersistor) LastRecord(ctx context.Context) (*common.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLocked(ctx)
}

func (l *ListPersistor) firstLocked(ctx context.Context) (*common.Record, error) {
	if l.first != nil {
		return l.first, nil
	}
	r, err := l.edgeLocked(ctx, l.order)
	if err != nil {
		return nil, err
	}
	l.first = r
	return r, nil
}

func (l *ListPersistor) lastLocked(ctx context.Context) (*common.Record, error) {
	if l.last != nil {
		return l.last, nil
	}
	r, err := l.edgeLocked(ctx, l.order.Reverse())
	if err != nil {
		return nil, err
	}
	l.last = r
	return r, nil
}

func (l *ListPersistor) edgeLocked(ctx context.Context, order common.Order) (*common.Record, error) {
	l.stats.RecordScan()
	r, err := storage.First(ctx, l.src, l.cfg.global, order)
	if err != nil {
		return nil, l.backendErr(err, "edge scan", nil)
	}
	if r == nil {
		return nil, errors.Wrap(ErrIndexOutOfRange, "list is empty")
	}
	return r, nil
}

// ---- positional access ----

// Record returns the row at index in list order.
func (l *ListPersistor) Record(ctx context.Context, index int64) (*common.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.RecordRead()
	return l.recordLocked(ctx, index)
}

// Page returns up to limit rows starting at offset.
func (l *ListPersistor) Page(ctx context.Context, offset, limit int64) ([]*common.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.RecordRead()
	size, err := l.sizeLocked(ctx)
	if err != nil {
		return nil, err
	}
	if offset < 0 || (offset >= size && size > 0) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "offset %d, size %d", offset, size)
	}
	end := min(offset+limit, size)
	out := make([]*common.Record, 0, max(end-offset, 0))
	for i := offset; i < end; i++ {
		r, err := l.recordLocked(ctx, i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *ListPersistor) recordLocked(ctx context.Context, index int64) (*common.Record, error) {
	size, err := l.sizeLocked(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= size {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, size %d", index, size)
	}
	if index == 0 {
		return l.firstLocked(ctx)
	}
	if index == size-1 {
		return l.lastLocked(ctx)
	}
	if r, ok := l.cache.Get(index); ok {
		l.stats.RecordHit()
		return r, nil
	}
	l.stats.RecordMiss()

	approx, err := l.approximateLocked(ctx, index, size)
	if err != nil {
		return nil, err
	}
	r, err := l.exactLocked(ctx, approx)
	if err != nil {
		return nil, l.backendErr(err, "exact lookup", logrus.Fields{"index": index, "size": size})
	}
	if r != nil {
		l.stats.RecordExactHit()
		if l.cfg.verify {
			if r, err = l.verifyLocked(ctx, r, index, size); err != nil {
				return nil, err
			}
		}
	} else {
		if r, err = l.resolveLocked(ctx, approx, index, size); err != nil {
			return nil, err
		}
	}
	l.cache.Put(index, r)
	l.prefetchLocked(ctx, index, r, size)
	return r, nil
}

func (l *ListPersistor) approximateLocked(ctx context.Context, index, size int64) (common.OrderKey, error) {
	first, err := l.firstLocked(ctx)
	if err != nil {
		return nil, err
	}
	last, err := l.lastLocked(ctx)
	if err != nil {
		return nil, err
	}
	lower, err := common.KeyOf(first, l.order)
	if err != nil {
		return nil, err
	}
	upper, err := common.KeyOf(last, l.order)
	if err != nil {
		return nil, err
	}
	if err := l.model.Train(lower, upper); err != nil {
		return nil, err
	}
	return l.model.Predict(index, size)
}

// exactLocked returns the row whose key equals key, or nil.
func (l *ListPersistor) exactLocked(ctx context.Context, key common.OrderKey) (*common.Record, error) {
	eq, err := criteria.EqualKey(l.order, key)
	if err != nil {
		return nil, err
	}
	l.stats.RecordScan()
	return storage.First(ctx, l.src, criteria.Scope(l.cfg.global, eq), l.order)
}

// resolveLocked lands on the row at index when no row carries the approximate
// key: one count on the nearer side of it, then a scan skipping the difference.
func (l *ListPersistor) resolveLocked(ctx context.Context, approx common.OrderKey, index, size int64) (*common.Record, error) {
	fields := logrus.Fields{"index": index, "size": size}
	before := index < size/2
	move, err := criteria.Move(l.order, approx, !before)
	if err != nil {
		return nil, err
	}
	count, err := l.countLocked(ctx, move)
	if err != nil {
		return nil, l.backendErr(err, "count", fields)
	}
	skip, forward := position(before, count, index, size)
	return l.scanLocked(ctx, approx, forward, skip, index)
}

// position is the six-case table: given the count of rows strictly before
// (or after) the approximate key, where to scan from it and how many rows to skip.
func position(before bool, count, index, size int64) (skip int64, forward bool) {
	if before {
		switch {
		case count > index:
			return count - index - 1, false
		case count == index:
			return 0, true
		default:
			return index - count, true
		}
	}
	target := size - index
	switch {
	case count > target:
		return count - target, true
	case count == target:
		return 0, true
	default:
		return target - count - 1, false
	}
}

// verifyLocked confirms the rank of an exact hit and corrects it by scanning from
// the hit when the data is not spread evenly enough for interpolation.
func (l *ListPersistor) verifyLocked(ctx context.Context, hit *common.Record, index, size int64) (*common.Record, error) {
	fields := logrus.Fields{"index": index, "size": size}
	key, err := common.KeyOf(hit, l.order)
	if err != nil {
		return nil, err
	}
	move, err := criteria.Move(l.order, key, false)
	if err != nil {
		return nil, err
	}
	rank, err := l.countLocked(ctx, move)
	if err != nil {
		return nil, l.backendErr(err, "verify count", fields)
	}
	switch {
	case rank == index:
		return hit, nil
	case rank > index:
		return l.scanLocked(ctx, key, false, rank-1-index, index)
	default:
		return l.scanLocked(ctx, key, true, index-rank-1, index)
	}
}

// scanLocked reads the rows strictly after (forward) or before key in list order
// and returns the one after skipping skip rows.
func (l *ListPersistor) scanLocked(ctx context.Context, key common.OrderKey, forward bool, skip, index int64) (*common.Record, error) {
	fields := logrus.Fields{"index": index, "skip": skip, "forward": forward}
	move, err := criteria.Move(l.order, key, forward)
	if err != nil {
		return nil, err
	}
	order := l.order
	if !forward {
		order = order.Reverse()
	}
	l.stats.RecordScan()
	it, err := l.src.Iterator(ctx, criteria.Scope(l.cfg.global, move), order)
	if err != nil {
		return nil, l.backendErr(err, "scan", fields)
	}
	defer it.Close()
	for i := int64(0); it.Next(); i++ {
		if i == skip {
			return it.Record(), nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, l.backendErr(err, "scan", fields)
	}
	// the source shrank under us
	l.clearLimitsLocked()
	l.log.WithFields(fields).Warn("scan ran out of rows, bounds cleared")
	return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d no longer exists", index)
}

// prefetchLocked fills the cache after index: already cached neighbours are
// walked, the first gap starts one forward scan covering the rest of the page.
// Failures are logged and dropped; the requested row is already resolved.
func (l *ListPersistor) prefetchLocked(ctx context.Context, index int64, r *common.Record, size int64) {
	end := min(index+1+int64(l.cfg.pageSize), size)
	at, anchor := index, r
	for at+1 < end {
		next, ok := l.cache.Get(at + 1)
		if !ok {
			break
		}
		at, anchor = at+1, next
	}
	if at+1 >= end {
		return
	}

	fields := logrus.Fields{"index": index, "from": at + 1, "to": end}
	key, err := common.KeyOf(anchor, l.order)
	if err != nil {
		l.log.WithFields(fields).WithError(err).Warn("prefetch skipped")
		return
	}
	move, err := criteria.Move(l.order, key, true)
	if err != nil {
		l.log.WithFields(fields).WithError(err).Warn("prefetch skipped")
		return
	}
	l.stats.RecordScan()
	it, err := l.src.Iterator(ctx, criteria.Scope(l.cfg.global, move), l.order)
	if err != nil {
		l.stats.RecordBackendError()
		l.log.WithFields(fields).WithError(err).Warn("prefetch failed")
		return
	}
	defer it.Close()
	n := 0
	for i := at + 1; i < end && it.Next(); i++ {
		l.cache.Put(i, it.Record())
		n++
	}
	if err := it.Err(); err != nil {
		l.stats.RecordBackendError()
		l.log.WithFields(fields).WithError(err).Warn("prefetch failed")
	}
	l.stats.RecordPrefetch(n)
}

func (l *ListPersistor) countLocked(ctx context.Context, c *criteria.Criteria) (int64, error) {
	l.stats.RecordCount()
	n, err := l.src.Count(ctx, criteria.Scope(l.cfg.global, c))
	if err != nil {
		return 0, l.backendErr(err, "count", nil)
	}
	return n, nil
}

// backendErr logs a failure of the wrapped persistor and marks it ErrBackend.
// Errors that already carry the mark pass through untouched.
func (l *ListPersistor) backendErr(err error, op string, fields logrus.Fields) error {
	if errors.Is(err, ErrBackend) {
		return err
	}
	l.stats.RecordBackendError()
	l.log.WithFields(fields).WithError(err).Error(op + " failed")
	return &backendError{op: op, err: err}
}

// ---- invalidation ----

// ClearCache forgets every resolved position along with size, first and last.
func (l *ListPersistor) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearCacheLocked()
}

// ClearLimits forgets size, first and last only.
func (l *ListPersistor) ClearLimits() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearLimitsLocked()
}

func (l *ListPersistor) clearCacheLocked() {
	l.cache.Clear()
	l.clearLimitsLocked()
}

func (l *ListPersistor) clearLimitsLocked() {
	l.size = unknownSize
	l.first, l.last = nil, nil
	l.stats.RecordInvalidation()
}

// Sensitive makes the list re-read size, first and last every d, for sources that
// grow behind its back. Cached positions are kept and may drift by the number of
// rows added in between. A non-positive d disables the timer.
func (l *ListPersistor) Sensitive(d time.Duration) {
	l.mu.Lock()
	l.stopRefreshLocked()
	l.cfg.refreshDelay = d
	l.mu.Unlock()
	// wait outside the lock; the old goroutine may be blocked on it
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.startRefreshLocked(d)
}

func (l *ListPersistor) startRefreshLocked(d time.Duration) {
	if d <= 0 || l.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	l.stopCh = stop
	l.wg.Add(1)
	go l.refreshLoop(d, stop)
}

func (l *ListPersistor) stopRefreshLocked() {
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
}

func (l *ListPersistor) refreshLoop(d time.Duration, stop <-chan struct{}) {
	defer l.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.clearLimitsLocked()
			l.mu.Unlock()
		}
	}
}

// ---- settings ----

func (l *ListPersistor) SetCacheSize(n int) error {
	if err := validCacheSize(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.cacheSize = n
	l.cache = structure.NewCacheMap[int64, *common.Record](n, l.cfg.cacheFactor)
	return nil
}

func (l *ListPersistor) SetCacheFactor(f float64) error {
	if err := validCacheFactor(f); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.cacheFactor = f
	l.cache = structure.NewCacheMap[int64, *common.Record](l.cfg.cacheSize, f)
	return nil
}

func (l *ListPersistor) SetPageSize(n int) error {
	if err := validPageSize(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.pageSize = n
	return nil
}

// SetGlobalCriteria rescopes the list; every cached position is dropped.
func (l *ListPersistor) SetGlobalCriteria(c *criteria.Criteria) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.global = c
	l.clearCacheLocked()
}

func (l *ListPersistor) SetVerifiedAnchors(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.verify = on
}

// Stats is a snapshot of the workload counters and the cache state.
type Stats struct {
	monitor.Snapshot
	CacheLen      int     `json:"cache_len" msgpack:"cache_len"`
	CacheCapacity int     `json:"cache_capacity" msgpack:"cache_capacity"`
	Evictions     uint64  `json:"evictions" msgpack:"evictions"`
	Size          int64   `json:"size" msgpack:"size"`
	PageSize      int     `json:"page_size" msgpack:"page_size"`
	CacheFactor   float64 `json:"cache_factor" msgpack:"cache_factor"`
}

func (l *ListPersistor) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Snapshot:      l.stats.Snapshot(),
		CacheLen:      l.cache.Len(),
		CacheCapacity: l.cache.Capacity(),
		Evictions:     l.cache.Evictions(),
		Size:          l.size,
		PageSize:      l.cfg.pageSize,
		CacheFactor:   l.cfg.cacheFactor,
	}
}
