// Package engine wires storage, blocking, AOF persistence, HTTP caching,
// lazy-free reclamation and metrics into one top-level object, the way
// pkg/cache.go's Cache/config/Option triad wires arena-cache's shards,
// CLOCK-Pro and Prometheus together. Engine itself owns no data-type
// command parsing (out of scope per spec.md §1); it exposes the primitives
// internal/exec's ExecutionContext needs to run one.
package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/spineldb/internal/storage"
)

// Option configures an Engine at construction time, mirroring
// pkg/config.go's functional-option shape.
type Option func(*config)

type config struct {
	databaseCount   int
	maxMemoryBytes  int64
	evictionPolicy  storage.EvictionPolicy
	autoUnlinkBytes int

	aofPath     string
	aofEnabled  bool
	blobStorDir string

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig() *config {
	return &config{
		databaseCount:   1,
		maxMemoryBytes:  0, // 0 == unbounded, matches storage.EnsureCapacity's noeviction shortcut
		evictionPolicy:  storage.PolicyNoEviction,
		autoUnlinkBytes: 1 << 20,
		logger:          zap.NewNop(),
		registry:        nil,
	}
}

// WithDatabaseCount sets how many independently-numbered SELECT-able
// databases the engine serves. Defaults to 1.
func WithDatabaseCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.databaseCount = n
		}
	}
}

// WithMaxMemory bounds the estimated live bytes of one database's shards.
// Engine.EnsureCapacity checks the bound against the single database it is
// given, via storage.Database.EnsureCapacity; other databases' usage is not
// counted.
func WithMaxMemory(bytes int64, policy storage.EvictionPolicy) Option {
	return func(c *config) {
		c.maxMemoryBytes = bytes
		c.evictionPolicy = policy
	}
}

// WithAutoUnlinkThreshold sets the byte footprint above which a deleted
// value is routed through the lazy-free channel instead of being dropped
// synchronously, per spec.md §5.
func WithAutoUnlinkThreshold(bytes int) Option {
	return func(c *config) {
		if bytes > 0 {
			c.autoUnlinkBytes = bytes
		}
	}
}

// WithAOF enables append-only persistence at path.
func WithAOF(path string) Option {
	return func(c *config) {
		c.aofPath = path
		c.aofEnabled = path != ""
	}
}

// WithHTTPCacheBlobDir enables the on-disk HTTP-cache body store backed by
// badger, rooted at dir.
func WithHTTPCacheBlobDir(dir string) Option {
	return func(c *config) { c.blobStorDir = dir }
}

// WithLogger plugs an external zap.Logger; nil is ignored, matching
// pkg/config.go's WithLogger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// them (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

func applyOptions(opts []Option) (*config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	if c.databaseCount <= 0 {
		return nil, errInvalidDatabaseCount
	}
	if c.maxMemoryBytes < 0 {
		return nil, errInvalidMaxMemory
	}
	return c, nil
}

var (
	errInvalidDatabaseCount = errors.New("engine: database count must be > 0")
	errInvalidMaxMemory     = errors.New("engine: max memory bytes must be >= 0")
)
