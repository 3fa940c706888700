// Package storage implements the core data model (StoredValue/DataValue),
// the per-shard LRU cache, and the fixed-shard Database that together form
// the keyspace of spineldb-core.
//
// © 2025 spineldb-core authors. MIT License.
package storage

import (
	"math/rand"
	"time"
)

// ValueKind tags which variant of DataValue a StoredValue holds. Dispatch on
// Kind avoids an interface-based vtable for a command set that is closed —
// the same tradeoff the teacher's Command enum makes for its own dispatch.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindList
	KindHash
	KindSet
	KindSortedSet
	KindStream
	KindJSON
	KindHTTPCache
)

// MaxStringBytes is the spec.md §1 scope limit on a single string value.
const MaxStringBytes = 512 * 1024 * 1024

// DataValue is the tagged union of every value type spineldb-core stores.
// Exactly one field is meaningful, selected by Kind.
type DataValue struct {
	Kind ValueKind

	Str       []byte
	List      *OrderedList
	Hash      *OrderedMap
	Set       *ByteSet
	SortedSet *SortedSet
	Stream    *Stream
	JSON      *JSONDocument
	HTTPCache *HTTPCache
}

// MemoryUsage computes the byte footprint of the value payload. StoredValue
// keeps this cached in Size and recomputes it on every mutation (see Put in
// shard.go), per spec.md's "size == memory_usage(data)" invariant.
func (d DataValue) MemoryUsage() int {
	switch d.Kind {
	case KindString:
		return len(d.Str)
	case KindList:
		if d.List == nil {
			return 0
		}
		return d.List.MemoryUsage()
	case KindHash:
		if d.Hash == nil {
			return 0
		}
		return d.Hash.MemoryUsage()
	case KindSet:
		if d.Set == nil {
			return 0
		}
		return d.Set.MemoryUsage()
	case KindSortedSet:
		if d.SortedSet == nil {
			return 0
		}
		return d.SortedSet.MemoryUsage()
	case KindStream:
		if d.Stream == nil {
			return 0
		}
		return d.Stream.MemoryUsage()
	case KindJSON:
		if d.JSON == nil {
			return 0
		}
		return d.JSON.MemoryUsage()
	case KindHTTPCache:
		if d.HTTPCache == nil {
			return 0
		}
		return d.HTTPCache.memoryUsage()
	default:
		return 0
	}
}

// IsContainerEmpty reports whether a container-shaped value (list, hash,
// set, zset, stream) has become empty. Strings, JSON documents and
// HttpCache entries are never "container empty" in this sense — only the
// five container kinds trigger spec.md's "enclosing key MUST be removed"
// rule.
func (d DataValue) IsContainerEmpty() bool {
	switch d.Kind {
	case KindList:
		return d.List != nil && d.List.Len() == 0
	case KindHash:
		return d.Hash != nil && d.Hash.Len() == 0
	case KindSet:
		return d.Set != nil && d.Set.Len() == 0
	case KindSortedSet:
		return d.SortedSet != nil && d.SortedSet.Len() == 0
	case KindStream:
		return d.Stream != nil && d.Stream.Len() == 0
	default:
		return false
	}
}

// LFUState is the logarithmic-counter-with-decay access frequency estimator
// spec.md §4.2 describes.
type LFUState struct {
	Counter            uint8
	LastDecrementEpoch uint16
}

const lfuIncrFactor = 10
const lfuMaxCounter = 255

// currentMinuteEpoch returns the current time truncated to minutes and
// wrapped into 16 bits, matching the LFU decay clock's resolution.
func currentMinuteEpoch() uint16 {
	return uint16((time.Now().Unix() / 60) % 65536)
}

// touch applies decay then a probabilistic logarithmic increment, per
// spec.md §4.2. Called on every live read (shard Get/GetMut, never Peek).
func (l *LFUState) touch() {
	now := currentMinuteEpoch()
	elapsed := int(now) - int(l.LastDecrementEpoch)
	if elapsed < 0 {
		elapsed += 65536 // wrapped
	}
	if elapsed > 0 {
		if elapsed >= int(l.Counter) {
			l.Counter = 0
		} else {
			l.Counter -= uint8(elapsed)
		}
		l.LastDecrementEpoch = now
	}

	if l.Counter >= lfuMaxCounter {
		return
	}
	base := l.Counter
	if base < 5 {
		base = 0
	} else {
		base -= 5
	}
	denom := int(base)*lfuIncrFactor + 1
	if rand.Intn(denom) == 0 {
		l.Counter++
	}
}

// StoredValue is the complete record kept per key: the tagged-union payload
// plus the metadata spec.md §3 lists (freshness windows, optimistic version,
// cached size, LFU state).
type StoredValue struct {
	Data                  DataValue
	Expiry                time.Time // zero means "no expiry"
	StaleRevalidateExpiry time.Time
	GraceExpiry           time.Time
	Version               uint64
	Size                  int
	LFU                   LFUState
}

// New wraps data into a fresh StoredValue with size and LFU initialized.
func New(data DataValue) *StoredValue {
	return &StoredValue{
		Data:    data,
		Size:    data.MemoryUsage(),
		Version: 0,
		LFU:     LFUState{Counter: 5, LastDecrementEpoch: currentMinuteEpoch()},
	}
}

// IsExpired implements spec.md §3's per-variant expiry rule: HttpCache
// values use the grace window (or, absent grace, the freshness expiry);
// everything else uses the plain expiry deadline.
func (v *StoredValue) IsExpired(now time.Time) bool {
	if v.Data.Kind == KindHTTPCache {
		if !v.GraceExpiry.IsZero() {
			return !v.GraceExpiry.After(now)
		}
		if v.Expiry.IsZero() {
			return false
		}
		return !v.Expiry.After(now)
	}
	if v.Expiry.IsZero() {
		return false
	}
	return !v.Expiry.After(now)
}

// Touch updates LFU state and is called by the shard on every live read
// (Get/GetMut), never on Peek.
func (v *StoredValue) Touch() {
	v.LFU.touch()
}

// BumpVersion increments the optimistic-concurrency counter on every
// mutation, wrapping per spec.md's "64-bit counter, wraps."
func (v *StoredValue) BumpVersion() {
	v.Version++
}

// RecomputeSize refreshes the cached byte footprint after a mutation,
// maintaining the "size == memory_usage(data)" invariant.
func (v *StoredValue) RecomputeSize() {
	v.Size = v.Data.MemoryUsage()
}
