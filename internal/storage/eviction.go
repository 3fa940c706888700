package storage

// eviction.go implements the maxmemory sampling eviction spec.md §5
// describes: "on overshoot, evict_one_key samples ≈N candidate keys across
// shards using the configured policy and evicts one; retried up to 10 times
// before failing with an out-of-memory error." There is no sampling-LRU/LFU
// eviction library in the example corpus (the teacher's own eviction is
// CLOCK-Pro, a different algorithm entirely — see DESIGN.md), so this is a
// direct, small port of the original's sampling loop in the teacher's idiom.

import (
	"errors"
	"math/rand"
	"time"
)

// EvictionPolicy selects which candidates evict_one_key prefers among the
// sampled set.
type EvictionPolicy uint8

const (
	PolicyNoEviction EvictionPolicy = iota
	PolicyAllKeysLRU
	PolicyAllKeysLFU
	PolicyVolatileLRU
	PolicyVolatileLFU
	PolicyVolatileTTL
)

// DefaultEvictionSampleSize is the "≈N candidate keys" spec.md §5 mentions.
const DefaultEvictionSampleSize = 5

// maxEvictionAttempts bounds evict_one_key's retries before giving up with
// ErrOutOfMemory, per spec.md §5.
const maxEvictionAttempts = 10

// ErrOutOfMemory is returned when maxmemory is exceeded and no candidate
// could be evicted after maxEvictionAttempts tries.
var ErrOutOfMemory = errors.New("storage: out of memory, maxmemory exceeded and eviction failed")

type evictionCandidate struct {
	shardIdx int
	key      []byte
	value    *StoredValue
}

// EnsureCapacity checks whether admitting estimatedDelta more bytes would
// exceed maxMemory and, if so, evicts keys under policy until it would not
// (or gives up after maxEvictionAttempts with ErrOutOfMemory). maxMemory<=0
// means "unbounded", matching noeviction's effective behavior when unset.
func (db *Database) EnsureCapacity(maxMemory int64, estimatedDelta int64, policy EvictionPolicy) error {
	if maxMemory <= 0 {
		return nil
	}
	for attempt := 0; attempt < maxEvictionAttempts; attempt++ {
		if db.CurrentMemory()+estimatedDelta <= maxMemory {
			return nil
		}
		if policy == PolicyNoEviction {
			return ErrOutOfMemory
		}
		if !db.evictOne(policy) {
			return ErrOutOfMemory
		}
	}
	if db.CurrentMemory()+estimatedDelta <= maxMemory {
		return nil
	}
	return ErrOutOfMemory
}

// evictOne samples DefaultEvictionSampleSize candidates across random
// shards and evicts the one the policy prefers, per spec.md §5. It returns
// false if no eligible candidate was found (e.g. every sampled key is
// non-volatile under a volatile-* policy).
func (db *Database) evictOne(policy EvictionPolicy) bool {
	candidates := db.sampleCandidates(DefaultEvictionSampleSize, policy)
	if len(candidates) == 0 {
		return false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if evictionLess(c, best, policy) {
			best = c
		}
	}

	s := db.shards[best.shardIdx]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cache.Pop(best.key) != nil
}

func (db *Database) sampleCandidates(n int, policy EvictionPolicy) []evictionCandidate {
	volatileOnly := policy == PolicyVolatileLRU || policy == PolicyVolatileLFU || policy == PolicyVolatileTTL
	out := make([]evictionCandidate, 0, n)
	for i := 0; i < n; i++ {
		idx := rand.Intn(NumShards)
		s := db.shards[idx]
		s.mu.Lock()
		keys := s.Cache.KeysInOrder()
		if len(keys) == 0 {
			s.mu.Unlock()
			continue
		}
		k := keys[rand.Intn(len(keys))]
		v, ok := s.Cache.Peek(k)
		s.mu.Unlock()
		if !ok {
			continue
		}
		if volatileOnly && v.Expiry.IsZero() {
			continue
		}
		out = append(out, evictionCandidate{shardIdx: idx, key: k, value: v})
	}
	return out
}

// evictionLess reports whether a is a better eviction candidate than b
// under policy: lower LRU recency timestamp, lower LFU counter, or nearer
// TTL deadline wins, depending on the policy.
func evictionLess(a, b evictionCandidate, policy EvictionPolicy) bool {
	switch policy {
	case PolicyAllKeysLFU, PolicyVolatileLFU:
		if a.value.LFU.Counter != b.value.LFU.Counter {
			return a.value.LFU.Counter < b.value.LFU.Counter
		}
		return false
	case PolicyVolatileTTL:
		ae, be := a.value.Expiry, b.value.Expiry
		if ae.IsZero() {
			return false
		}
		if be.IsZero() {
			return true
		}
		return ae.Before(be)
	case PolicyAllKeysLRU, PolicyVolatileLRU:
		fallthrough
	default:
		return lruRecency(a.value).Before(lruRecency(b.value))
	}
}

// lruRecency approximates "time since last access" from the LFU decay
// clock's last-touch epoch, since StoredValue does not carry a separate LRU
// timestamp (shard ordering already captures recency for Get/GetMut, but
// sampled candidates are compared independent of list position).
func lruRecency(v *StoredValue) time.Time {
	return time.Unix(int64(v.LFU.LastDecrementEpoch)*60, 0)
}
