// Package metrics is a thin abstraction over Prometheus so the engine can
// run with or without metrics wired in. Passing a *prometheus.Registry to
// New enables labeled collectors; passing nil falls back to a no-op sink so
// the hot path never pays for metric updates. Adapted from
// pkg/metrics.go's metricsSink/noopMetrics/promMetrics split, generalized
// from arena-cache's per-shard hit/miss/eviction/rotation metrics to
// spineldb's shard-labeled hit/miss/eviction counters plus the AOF rewrite
// duration histogram, lazy-free queue depth gauge, and read-only gauge
// spec.md's operational surface calls for.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal interface abstracting the concrete backend
// (Prometheus vs noop). Callers outside this package only see Sink.
type Sink interface {
	IncHit(shard int)
	IncMiss(shard int)
	IncEviction(shard int)
	IncExpired(shard int)
	SetKeyCount(shard int, count int64)
	SetMemoryBytes(shard int, bytes int64)
	IncLazyFreeError()
	SetLazyFreeQueueDepth(depth int)
	ObserveAOFRewriteDuration(seconds float64)
	IncAOFRewriteFailure()
	SetReadOnly(ro bool)
	IncBlockedWaiterTimeout()
}

type noopSink struct{}

func (noopSink) IncHit(int)                        {}
func (noopSink) IncMiss(int)                       {}
func (noopSink) IncEviction(int)                   {}
func (noopSink) IncExpired(int)                    {}
func (noopSink) SetKeyCount(int, int64)            {}
func (noopSink) SetMemoryBytes(int, int64)         {}
func (noopSink) IncLazyFreeError()                 {}
func (noopSink) SetLazyFreeQueueDepth(int)         {}
func (noopSink) ObserveAOFRewriteDuration(float64) {}
func (noopSink) IncAOFRewriteFailure()             {}
func (noopSink) SetReadOnly(bool)                  {}
func (noopSink) IncBlockedWaiterTimeout()           {}

// promSink is the Prometheus-backed Sink implementation.
type promSink struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	expired     *prometheus.CounterVec
	keyCount    *prometheus.GaugeVec
	memoryBytes *prometheus.GaugeVec

	lazyFreeErrors     prometheus.Counter
	lazyFreeQueueDepth prometheus.Gauge

	aofRewriteDuration prometheus.Histogram
	aofRewriteFailures prometheus.Counter

	readOnly prometheus.Gauge

	blockedWaiterTimeouts prometheus.Counter
}

// New builds a Sink. If reg is nil, metrics are disabled and every call is a
// no-op; otherwise collectors are registered against reg.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return noopSink{}
	}

	label := []string{"shard"}
	p := &promSink{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "hits_total",
			Help:      "Number of keyspace lookups that found a live value.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "misses_total",
			Help:      "Number of keyspace lookups that found nothing or an expired value.",
		}, label),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "evictions_total",
			Help:      "Number of keys evicted to satisfy maxmemory.",
		}, label),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "expired_keys_total",
			Help:      "Number of keys removed because their TTL elapsed.",
		}, label),
		keyCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spineldb",
			Name:      "shard_keys",
			Help:      "Live key count per shard.",
		}, label),
		memoryBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spineldb",
			Name:      "shard_memory_bytes",
			Help:      "Estimated live byte footprint per shard.",
		}, label),
		lazyFreeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "lazyfree_send_timeouts_total",
			Help:      "Number of lazy-free channel sends that exceeded the bounded timeout.",
		}),
		lazyFreeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spineldb",
			Name:      "lazyfree_queue_depth",
			Help:      "Current number of values queued for background reclamation.",
		}),
		aofRewriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spineldb",
			Name:      "aof_rewrite_duration_seconds",
			Help:      "Duration of completed AOF rewrites.",
			Buckets:   prometheus.DefBuckets,
		}),
		aofRewriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "aof_rewrite_failures_total",
			Help:      "Number of AOF rewrites that failed and forced read-only mode.",
		}),
		readOnly: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spineldb",
			Name:      "read_only",
			Help:      "1 when the server is in read-only mode, 0 otherwise.",
		}),
		blockedWaiterTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spineldb",
			Name:      "blocked_waiter_timeouts_total",
			Help:      "Number of blocking pop commands that returned without a value.",
		}),
	}

	reg.MustRegister(
		p.hits, p.misses, p.evictions, p.expired, p.keyCount, p.memoryBytes,
		p.lazyFreeErrors, p.lazyFreeQueueDepth,
		p.aofRewriteDuration, p.aofRewriteFailures,
		p.readOnly, p.blockedWaiterTimeouts,
	)
	return p
}

func shardLabel(shard int) string { return strconv.Itoa(shard) }

func (p *promSink) IncHit(shard int)      { p.hits.WithLabelValues(shardLabel(shard)).Inc() }
func (p *promSink) IncMiss(shard int)     { p.misses.WithLabelValues(shardLabel(shard)).Inc() }
func (p *promSink) IncEviction(shard int) { p.evictions.WithLabelValues(shardLabel(shard)).Inc() }
func (p *promSink) IncExpired(shard int)  { p.expired.WithLabelValues(shardLabel(shard)).Inc() }

func (p *promSink) SetKeyCount(shard int, count int64) {
	p.keyCount.WithLabelValues(shardLabel(shard)).Set(float64(count))
}

func (p *promSink) SetMemoryBytes(shard int, bytes int64) {
	p.memoryBytes.WithLabelValues(shardLabel(shard)).Set(float64(bytes))
}

func (p *promSink) IncLazyFreeError() { p.lazyFreeErrors.Inc() }

func (p *promSink) SetLazyFreeQueueDepth(depth int) { p.lazyFreeQueueDepth.Set(float64(depth)) }

func (p *promSink) ObserveAOFRewriteDuration(seconds float64) {
	p.aofRewriteDuration.Observe(seconds)
}

func (p *promSink) IncAOFRewriteFailure() { p.aofRewriteFailures.Inc() }

func (p *promSink) SetReadOnly(ro bool) {
	if ro {
		p.readOnly.Set(1)
		return
	}
	p.readOnly.Set(0)
}

func (p *promSink) IncBlockedWaiterTimeout() { p.blockedWaiterTimeouts.Inc() }
