// Package lazyfree implements the background deletion channel spec.md §5
// describes: "values whose byte footprint exceeds the configured
// auto-unlink threshold, or any HTTP-cache value, are handed to the
// lazy-free channel on deletion rather than dropped synchronously,"
// with "background lazy-free sends use a 5-second bounded send; exceeding
// it switches the server to read-only and increments a lazy-free error
// counter."
package lazyfree

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/spineldb/internal/storage"
)

// SendTimeout is the bounded send duration spec.md §5 specifies.
const SendTimeout = 5 * time.Second

// DefaultQueueDepth sizes the channel buffer; large enough to absorb a
// burst of big-value deletions without immediately contending on
// SendTimeout.
const DefaultQueueDepth = 1024

// job is one value queued for asynchronous reclamation. The value is kept
// alive only by this reference; reclamation itself is simply letting the
// Go garbage collector do its job once the consumer drops it — there is no
// teacher/pack allocator-arena equivalent to free explicitly (see
// DESIGN.md's note on why the teacher's arena package was not ported).
type job struct {
	key   []byte
	value *storage.StoredValue
}

// Queue is the bounded channel consumers drain, plus the read-only
// trip-switch and error counter spec.md §5 describes.
type Queue struct {
	ch            chan job
	readOnly      atomic.Bool
	errors        atomic.Uint64
	setReadOnlyFn func(bool, string)
	logger        *zap.Logger

	// sendTimeout defaults to SendTimeout; tests in this package may shrink
	// it to exercise the timeout path without a multi-second sleep.
	sendTimeout time.Duration
}

// New creates a Queue with DefaultQueueDepth capacity. setReadOnly is
// invoked when a send exceeds SendTimeout, flipping the server into
// read-only mode per spec.md §5.
func New(setReadOnly func(bool, string), logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:            make(chan job, DefaultQueueDepth),
		setReadOnlyFn: setReadOnly,
		logger:        logger,
		sendTimeout:   SendTimeout,
	}
}

// ShouldLazyFree implements the admission rule: container/string values
// over sizeThreshold bytes, or any HttpCache value, go through the lazy
// free path instead of being dropped synchronously on deletion.
func ShouldLazyFree(v *storage.StoredValue, sizeThreshold int) bool {
	if v.Data.Kind == storage.KindHTTPCache {
		return true
	}
	return v.Size > sizeThreshold
}

// Enqueue attempts to hand key/value to the background consumer, bounded
// by SendTimeout. On timeout it increments the error counter and flips the
// server read-only, per spec.md §5, and returns false.
func (q *Queue) Enqueue(key []byte, value *storage.StoredValue) bool {
	timer := time.NewTimer(q.sendTimeout)
	defer timer.Stop()
	select {
	case q.ch <- job{key: key, value: value}:
		return true
	case <-timer.C:
		q.errors.Add(1)
		q.logger.Error("lazy-free send exceeded timeout, entering read-only mode",
			zap.ByteString("key", key), zap.Duration("timeout", q.sendTimeout))
		if q.setReadOnlyFn != nil {
			q.setReadOnlyFn(true, "lazy-free queue send timed out")
		}
		return false
	}
}

// ErrorCount returns the number of timed-out sends observed so far.
func (q *Queue) ErrorCount() uint64 { return q.errors.Load() }

// Len reports the number of jobs currently queued, for metrics.
func (q *Queue) Len() int { return len(q.ch) }

// Run drains the queue until ch is closed or stop is closed, discarding
// each value (letting the garbage collector reclaim it). Intended to run
// in its own goroutine for the lifetime of the engine.
func (q *Queue) Run(stop <-chan struct{}) {
	for {
		select {
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			_ = j // dropping the reference is the reclamation step
		case <-stop:
			return
		}
	}
}

// Close closes the underlying channel; callers must ensure Run has
// returned (e.g. by closing stop first) before relying on no further sends.
func (q *Queue) Close() { close(q.ch) }
