package storage

// db.go implements Database, the fixed 16-shard keyspace described in
// spec.md §3/§4.1 ("Database") and grounded on
// _examples/original_source/src/core/storage/db/core.rs. Shard selection
// uses hash/maphash with a seed drawn once per Database, matching the
// teacher's pkg/cache.go shard.hash approach (SipHash-64 via maphash)
// rather than reimplementing a hashing scheme from scratch.

import (
	"hash/maphash"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// NumShards is the fixed shard count spec.md §3 mandates.
const NumShards = 16

// shardCursorBits is how many low bits of a scan cursor encode the
// intra-shard position; the remaining high bits encode the shard index,
// per spec.md §4.1 "scan_keys cursor encoding".
const shardCursorBits = 56

// DbShard pairs one ShardCache with the mutex that protects it.
type DbShard struct {
	mu     sync.Mutex
	Cache  *ShardCache
}

// Database is the fixed-size collection of shards spec.md §3 describes,
// plus the aggregate atomic counters every shard's cache shares.
type Database struct {
	seed           maphash.Seed
	shards         [NumShards]*DbShard
	memoryCounter  atomic.Int64
	keyCounterSum  atomic.Int64 // not maintained; KeyCount sums the per-shard counters instead
}

// NewDatabase builds an empty 16-shard database. Each shard's LRU shares
// the database-wide memory counter but keeps its own key counter, summed on
// demand in KeyCount — mirroring core.rs's get_key_count, which sums each
// shard's atomic rather than keeping one global counter.
func NewDatabase() *Database {
	db := &Database{seed: maphash.MakeSeed()}
	for i := range db.shards {
		s := &DbShard{}
		s.Cache = NewShardCache(DefaultShardLRUCapacity, &db.memoryCounter, new(atomic.Int64))
		db.shards[i] = s
	}
	return db
}

// ShardIndex hashes key to its owning shard, per core.rs's get_shard_index.
func (db *Database) ShardIndex(key []byte) int {
	var h maphash.Hash
	h.SetSeed(db.seed)
	h.Write(key)
	return int(h.Sum64() % NumShards)
}

// Shard returns the shard at index.
func (db *Database) Shard(index int) *DbShard { return db.shards[index] }

// Lock acquires shard's mutex and returns its ShardCache, a convenience for
// the Single lock path in internal/exec.
func (s *DbShard) Lock() *ShardCache {
	s.mu.Lock()
	return s.Cache
}

func (s *DbShard) Unlock() { s.mu.Unlock() }

// KeyCount sums every shard's key counter. O(NumShards), matching core.rs's
// get_key_count.
func (db *Database) KeyCount() int64 {
	var total int64
	for _, s := range db.shards {
		total += s.Cache.keyCounter.Load()
	}
	return total
}

// CurrentMemory returns the database-wide memory counter.
func (db *Database) CurrentMemory() int64 {
	return db.memoryCounter.Load()
}

// ClearAllShards empties every shard, acquiring each mutex in ascending
// order so this never races with a lock_all_shards-style caller.
func (db *Database) ClearAllShards() {
	for _, s := range db.shards {
		s.mu.Lock()
		s.Cache.Clear()
		s.mu.Unlock()
	}
}

// InsertValueFromLoad inserts key/value outside normal command execution,
// used by AOF replay and snapshot load, per core.rs's insert_value_from_load.
func (db *Database) InsertValueFromLoad(key []byte, value *StoredValue) {
	idx := db.ShardIndex(key)
	s := db.shards[idx]
	s.mu.Lock()
	s.Cache.Put(key, value)
	s.mu.Unlock()
}

// Del removes every key in keys, locking only the shards it actually needs
// (a single shard for one key, the sorted shard set for many), per core.rs's
// del.
func (db *Database) Del(keys [][]byte) int {
	if len(keys) == 0 {
		return 0
	}
	if len(keys) == 1 {
		idx := db.ShardIndex(keys[0])
		s := db.shards[idx]
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.Cache.Pop(keys[0]) != nil {
			return 1
		}
		return 0
	}

	locks := db.LockShardsForKeys(keys)
	defer locks.Unlock()
	count := 0
	for _, key := range keys {
		idx := db.ShardIndex(key)
		if cache, ok := locks.guards[idx]; ok {
			if cache.Pop(key) != nil {
				count++
			}
		}
	}
	return count
}

// GetKeysInSlot returns up to count non-expired keys whose cluster hash
// slot equals slot, scanning every shard under a full lock_all_shards,
// per core.rs's get_keys_in_slot.
func (db *Database) GetKeysInSlot(slot func([]byte) uint16, targetSlot uint16, count int) [][]byte {
	all := db.LockAllShards()
	defer all.Unlock()

	out := make([][]byte, 0, count)
	now := time.Now()
	for _, cache := range all.guards {
		cache.Iterate(func(key []byte, v *StoredValue) bool {
			if len(out) >= count {
				return false
			}
			if !v.IsExpired(now) && slot(key) == targetSlot {
				out = append(out, key)
			}
			return true
		})
		if len(out) >= count {
			break
		}
	}
	return out
}

// GetExpiredSampleKeys draws sampleSize independent random (shard, key)
// picks and keeps the ones that are expired, per core.rs's
// get_expired_sample_keys. This is a lazy-sampling approximation, not an
// exhaustive scan, matching the original's sampling-based active expiry.
func (db *Database) GetExpiredSampleKeys(sampleSize int) [][]byte {
	out := make([][]byte, 0, sampleSize)
	now := time.Now()
	for i := 0; i < sampleSize; i++ {
		idx := rand.Intn(NumShards)
		s := db.shards[idx]
		s.mu.Lock()
		keys := s.Cache.KeysInOrder()
		var candidates [][]byte
		for _, k := range keys {
			if v, ok := s.Cache.Peek(k); ok && v.IsExpired(now) {
				candidates = append(candidates, k)
			}
		}
		if len(candidates) > 0 {
			out = append(out, candidates[rand.Intn(len(candidates))])
		}
		s.mu.Unlock()
	}
	return out
}

// GetRandomKeys draws sampleSize independent random keys regardless of
// expiry, used by HTTP-cache background revalidation, per core.rs's
// get_random_keys.
func (db *Database) GetRandomKeys(sampleSize int) [][]byte {
	out := make([][]byte, 0, sampleSize)
	for i := 0; i < sampleSize; i++ {
		idx := rand.Intn(NumShards)
		s := db.shards[idx]
		s.mu.Lock()
		keys := s.Cache.KeysInOrder()
		if len(keys) > 0 {
			out = append(out, keys[rand.Intn(len(keys))])
		}
		s.mu.Unlock()
	}
	return out
}

// DecodeScanCursor splits an opaque SCAN cursor into a shard index and an
// intra-shard position, per spec.md §4.1.
func DecodeScanCursor(cursor uint64) (shardIdx int, pos int) {
	return int(cursor >> shardCursorBits), int(cursor & ((1 << shardCursorBits) - 1))
}

// EncodeScanCursor is DecodeScanCursor's inverse.
func EncodeScanCursor(shardIdx, pos int) uint64 {
	return uint64(shardIdx)<<shardCursorBits | uint64(pos)
}

// ScanKeys performs a SCAN-like cursor walk across shards, returning the
// next cursor (0 meaning "iteration complete") and up to count live keys,
// per core.rs's scan_keys.
func (db *Database) ScanKeys(cursor uint64, count int) (uint64, [][]byte) {
	shardIdx, internalCursor := DecodeScanCursor(cursor)
	result := make([][]byte, 0, count)
	now := time.Now()

outer:
	for shardIdx < NumShards {
		s := db.shards[shardIdx]
		s.mu.Lock()
		keysInShard := s.Cache.KeysInOrder()
		startingPoint := internalCursor
		internalCursor = 0

		for i := startingPoint; i < len(keysInShard); i++ {
			key := keysInShard[i]
			if v, ok := s.Cache.Peek(key); ok && !v.IsExpired(now) {
				result = append(result, key)
			}
			if len(result) >= count {
				internalCursor = i + 1
				s.mu.Unlock()
				break outer
			}
		}
		s.mu.Unlock()
		shardIdx++
	}

	if shardIdx >= NumShards {
		return 0, result
	}
	return EncodeScanCursor(shardIdx, internalCursor), result
}
