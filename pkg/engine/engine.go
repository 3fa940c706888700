package engine

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Voskan/spineldb/internal/aof"
	"github.com/Voskan/spineldb/internal/blocker"
	"github.com/Voskan/spineldb/internal/httpcache"
	"github.com/Voskan/spineldb/internal/lazyfree"
	"github.com/Voskan/spineldb/internal/metrics"
	"github.com/Voskan/spineldb/internal/storage"
)

// Engine is the top-level object embedding a process wires together: one
// Database per configured index, a blocker.Manager for blocking pop
// commands, optional AOF persistence, optional HTTP-cache support, a
// lazyfree.Queue for background reclamation, and a metrics.Sink. It plays
// the role pkg/cache.go's Cache[K,V] plays for arena-cache: the object
// internal/exec.ExecutionContext is built against.
type Engine struct {
	mu        sync.RWMutex
	databases []*storage.Database

	cfg      *config
	logger   *zap.Logger
	metrics  metrics.Sink
	blockers *blocker.Manager
	lazyFree *lazyfree.Queue

	tagRegistry   *httpcache.TagRegistry
	purgeRegistry *httpcache.PurgeRegistry
	leaseRegistry *httpcache.LeaseRegistry
	revalidator   *httpcache.Revalidator
	blobStore     *httpcache.BlobStore

	aofWriter   *aof.Writer
	aofRewriter *aof.Rewriter

	readOnly     bool
	lazyFreeStop chan struct{}
}

// New constructs an Engine from the supplied options. Any AOF or blob-store
// I/O error at startup is returned rather than panicking, matching
// pkg/cache.go's New returning (*Cache, error).
func New(opts ...Option) (*Engine, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		logger:        cfg.logger,
		metrics:       metrics.New(cfg.registry),
		blockers:      blocker.New(),
		tagRegistry:   httpcache.NewTagRegistry(),
		purgeRegistry: httpcache.NewPurgeRegistry(),
		leaseRegistry: httpcache.NewLeaseRegistry(),
		revalidator:   httpcache.NewRevalidator(),
		lazyFreeStop:  make(chan struct{}),
	}

	e.databases = make([]*storage.Database, cfg.databaseCount)
	for i := range e.databases {
		e.databases[i] = storage.NewDatabase()
	}

	e.lazyFree = lazyfree.New(e.setReadOnly, e.logger)
	go e.lazyFree.Run(e.lazyFreeStop)

	if cfg.blobStorDir != "" {
		bs, err := httpcache.OpenBlobStore(cfg.blobStorDir)
		if err != nil {
			return nil, fmt.Errorf("engine: opening HTTP-cache blob store: %w", err)
		}
		e.blobStore = bs
	}

	if cfg.aofEnabled {
		w, err := aof.NewWriter(cfg.aofPath, e.logger)
		if err != nil {
			return nil, fmt.Errorf("engine: opening AOF writer: %w", err)
		}
		e.aofWriter = w
		e.aofRewriter = aof.NewRewriter(cfg.aofPath, w, e.logger, e.setReadOnly)
	}

	return e, nil
}

// Database returns the database at index, or nil if out of range. Database
// indexing/SELECT is the caller's (internal/exec's) concern; Engine only
// owns the slice.
func (e *Engine) Database(index int) *storage.Database {
	if index < 0 || index >= len(e.databases) {
		return nil
	}
	return e.databases[index]
}

// DatabaseCount returns how many SELECT-able databases this engine serves.
func (e *Engine) DatabaseCount() int { return len(e.databases) }

// Blockers returns the shared blocker.Manager backing BLPOP/BRPOP/BLMOVE/
// BZPOPMIN/BZPOPMAX across every database.
func (e *Engine) Blockers() *blocker.Manager { return e.blockers }

// LazyFree returns the shared lazy-free reclamation queue.
func (e *Engine) LazyFree() *lazyfree.Queue { return e.lazyFree }

// Metrics returns the shared metrics sink (no-op unless WithMetrics was
// supplied).
func (e *Engine) Metrics() metrics.Sink { return e.metrics }

// Logger returns the shared structured logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// HTTPCacheTags returns the tag-epoch registry PURGETAG invalidation uses.
func (e *Engine) HTTPCacheTags() *httpcache.TagRegistry { return e.tagRegistry }

// HTTPCachePurges returns the lazy pattern-purge registry PURGE uses.
func (e *Engine) HTTPCachePurges() *httpcache.PurgeRegistry { return e.purgeRegistry }

// HTTPCacheLeases returns the named exclusive-lease registry LOCK uses.
func (e *Engine) HTTPCacheLeases() *httpcache.LeaseRegistry { return e.leaseRegistry }

// HTTPCacheRevalidator returns the singleflight-backed revalidation
// coalescer used for stale-while-revalidate fetches.
func (e *Engine) HTTPCacheRevalidator() *httpcache.Revalidator { return e.revalidator }

// HTTPCacheBlobStore returns the badger-backed on-disk body store, or nil
// if WithHTTPCacheBlobDir was never set.
func (e *Engine) HTTPCacheBlobStore() *httpcache.BlobStore { return e.blobStore }

// AutoUnlinkThreshold returns the byte footprint above which DeleteKey
// routes a value through the lazy-free channel instead of dropping it
// synchronously, per spec.md §5.
func (e *Engine) AutoUnlinkThreshold() int { return e.cfg.autoUnlinkBytes }

// EnsureCapacity enforces the configured maxmemory policy on db before a
// write of estimatedDelta bytes is admitted.
func (e *Engine) EnsureCapacity(db *storage.Database, estimatedDelta int64) error {
	return db.EnsureCapacity(e.cfg.maxMemoryBytes, estimatedDelta, e.cfg.evictionPolicy)
}

// DeleteKey removes key from db, routing the removed value through the
// lazy-free queue when it qualifies per spec.md §5, and waking every
// blocked waiter on the key (a deletion wakes all waiters, not just one,
// per spec.md §4.6). When key is absent it returns false without waking
// anyone.
func (e *Engine) DeleteKey(db *storage.Database, key []byte) bool {
	locks := db.LockSingleShard(key)
	defer locks.Unlock()

	v := locks.Single.Pop(key)
	if v == nil {
		return false
	}

	if lazyfree.ShouldLazyFree(v, e.cfg.autoUnlinkBytes) {
		e.lazyFree.Enqueue(key, v)
	}

	e.blockers.WakeWaitersForModification(key)
	return true
}

// RewriteAOF triggers a synchronous AOF rewrite across every database.
// Callers wanting background execution should call this from their own
// goroutine, matching aof_rewriter.rs's own worker-task dispatch.
func (e *Engine) RewriteAOF(scripts aof.ScriptSnapshot) error {
	if e.aofRewriter == nil {
		return fmt.Errorf("engine: AOF is not enabled")
	}
	return e.aofRewriter.Run(e.databases, scripts)
}

// IsReadOnly reports whether the engine has tripped into read-only mode,
// e.g. after a lazy-free send timeout or an AOF rewrite failure.
func (e *Engine) IsReadOnly() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readOnly
}

func (e *Engine) setReadOnly(ro bool, reason string) {
	e.mu.Lock()
	e.readOnly = ro
	e.mu.Unlock()
	e.metrics.SetReadOnly(ro)
	if ro {
		e.logger.Error("engine entering read-only mode", zap.String("reason", reason))
	}
}

// Close shuts down background goroutines and closes any open files.
func (e *Engine) Close() error {
	close(e.lazyFreeStop)
	e.lazyFree.Close()

	var firstErr error
	if e.aofWriter != nil {
		if err := e.aofWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.blobStore != nil {
		if err := e.blobStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
