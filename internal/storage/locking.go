package storage

// locking.go implements the shard-locking strategies spec.md §4.1 calls
// ExecutionLocks, grounded on
// _examples/original_source/src/core/storage/db/locking.rs. Every multi-shard
// path locks shard indices in ascending order, which is the only rule
// needed for deadlock freedom across commands that each also lock in
// ascending order.

import "sort"

// LockKind tags which locking strategy an ExecutionLocks value holds.
type LockKind uint8

const (
	LockNone LockKind = iota
	LockSingle
	LockMulti
	LockAll
)

// ShardLockSet holds the mutexes acquired for a Multi or All lock,
// keyed by shard index so callers can look up the cache for a specific key's
// shard without re-hashing.
type ShardLockSet struct {
	db      *Database
	indices []int
	guards  map[int]*ShardCache
}

// Unlock releases every mutex this set holds. Order does not matter for
// correctness (acquisition order is what prevents deadlock), but unlocking
// in reverse acquisition order is kept for readability under a debugger.
func (l *ShardLockSet) Unlock() {
	for i := len(l.indices) - 1; i >= 0; i-- {
		l.db.shards[l.indices[i]].mu.Unlock()
	}
}

// Get returns the cache for shardIndex if this set holds its lock.
func (l *ShardLockSet) Get(shardIndex int) (*ShardCache, bool) {
	c, ok := l.guards[shardIndex]
	return c, ok
}

// Indices returns the shard indices held, in ascending order.
func (l *ShardLockSet) Indices() []int { return l.indices }

// LockShardsForKeys locks the distinct shards owning keys, in ascending
// shard-index order, per locking.rs's lock_shards_for_keys.
func (db *Database) LockShardsForKeys(keys [][]byte) *ShardLockSet {
	seen := make(map[int]struct{})
	for _, k := range keys {
		seen[db.ShardIndex(k)] = struct{}{}
	}
	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	guards := make(map[int]*ShardCache, len(indices))
	for _, idx := range indices {
		s := db.shards[idx]
		s.mu.Lock()
		guards[idx] = s.Cache
	}
	return &ShardLockSet{db: db, indices: indices, guards: guards}
}

// LockAllShards locks every shard in fixed ascending order, per
// locking.rs's lock_all_shards.
func (db *Database) LockAllShards() *ShardLockSet {
	indices := make([]int, NumShards)
	guards := make(map[int]*ShardCache, NumShards)
	for i := 0; i < NumShards; i++ {
		db.shards[i].mu.Lock()
		indices[i] = i
		guards[i] = db.shards[i].Cache
	}
	return &ShardLockSet{db: db, indices: indices, guards: guards}
}

// ExecutionLocks is the result of determining and acquiring the locks a
// command needs, per locking.rs's ExecutionLocks enum. Exactly one of
// ShardIndex/Single, Multi, All is meaningful depending on Kind.
type ExecutionLocks struct {
	Kind LockKind

	// LockSingle
	ShardIndex int
	Single     *ShardCache

	// LockMulti / LockAll
	Set *ShardLockSet
}

// Unlock releases whatever this ExecutionLocks holds. Safe to call on a
// LockNone value.
func (l *ExecutionLocks) Unlock() {
	switch l.Kind {
	case LockSingle:
		l.Set.db.shards[l.ShardIndex].mu.Unlock()
	case LockMulti, LockAll:
		l.Set.Unlock()
	}
}

// LockSingleShard locks exactly the shard owning key.
func (db *Database) LockSingleShard(key []byte) *ExecutionLocks {
	idx := db.ShardIndex(key)
	s := db.shards[idx]
	s.mu.Lock()
	return &ExecutionLocks{
		Kind:       LockSingle,
		ShardIndex: idx,
		Single:     s.Cache,
		Set:        &ShardLockSet{db: db, indices: []int{idx}, guards: map[int]*ShardCache{idx: s.Cache}},
	}
}

// DetermineLocksForKeys picks None/Single/Multi based on how many keys it
// is given (two keys in the same shard still take a Multi lock), mirroring locking.rs's determine_locks_for_command's
// key-count dispatch (the command-flag special cases — KEYS, SCAN-family,
// FLUSHALL/FLUSHDB, CACHE.PURGETAG — are decided by the caller in
// internal/exec, which knows about those command shapes; this helper only
// ever sees a plain key list).
func (db *Database) DetermineLocksForKeys(keys [][]byte) *ExecutionLocks {
	if len(keys) == 0 {
		return &ExecutionLocks{Kind: LockNone}
	}
	if len(keys) == 1 {
		return db.LockSingleShard(keys[0])
	}
	set := db.LockShardsForKeys(keys)
	return &ExecutionLocks{Kind: LockMulti, Set: set}
}

// LockEverything locks all shards, for KEYS/FLUSHALL/FLUSHDB-shaped
// commands.
func (db *Database) LockEverything() *ExecutionLocks {
	return &ExecutionLocks{Kind: LockAll, Set: db.LockAllShards()}
}
