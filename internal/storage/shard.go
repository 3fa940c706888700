package storage

// shard.go defines ShardCache, the LRU of (key -> StoredValue) plus the
// tag index and atomic memory/key counters that make up one slice of a
// Database (spec.md §3 "Shard cache", §4.3).
//
// All exported methods here assume the caller already holds the enclosing
// DbShard's mutex (see db.go) — exactly the "operations under the shard
// mutex" discipline spec.md §4.3 documents, and the same ownership split the
// teacher's shard.go/cache.go pair uses (shard = private mechanism, Cache =
// public surface with its own locking).

import (
	"container/list"
	"sync/atomic"
)

// DefaultShardLRUCapacity bounds the number of entries a single shard's LRU
// will hold before pop_lru is needed, per spec.md §3.
const DefaultShardLRUCapacity = 250_000

// DefaultTagIndexCapacity is a pre-sizing hint for the tag index map.
const DefaultTagIndexCapacity = 1024

type lruNode struct {
	key   []byte
	value *StoredValue
}

// ShardCache wraps an LRU-ordered key/value store with tag indexing and
// shared atomic counters, mirroring spec.md §4.3's operation list: put, pop,
// pop_lru, get/peek/get_mut, get_or_insert_with_mut,
// add_tags_for_key/remove_key_from_tags.
type ShardCache struct {
	capacity int
	index    map[string]*list.Element // key -> lruNode element
	order    *list.List                // front = most recently used

	TagIndex map[string]map[string]struct{} // tag -> set of keys

	memoryCounter *atomic.Int64
	keyCounter    *atomic.Int64
}

// NewShardCache constructs an empty cache that updates the given counters:
// in db.go memoryCounter is shared by the whole Database and keyCounter
// belongs to this shard, so aggregate accounting never walks the entries.
func NewShardCache(capacity int, memoryCounter, keyCounter *atomic.Int64) *ShardCache {
	return &ShardCache{
		capacity:      capacity,
		index:         make(map[string]*list.Element),
		order:         list.New(),
		TagIndex:      make(map[string]map[string]struct{}, DefaultTagIndexCapacity),
		memoryCounter: memoryCounter,
		keyCounter:    keyCounter,
	}
}

func (s *ShardCache) updateMemory(diff int) {
	if diff == 0 {
		return
	}
	s.memoryCounter.Add(int64(diff))
}

// Put replaces or inserts key's value, returning the previous value if any.
// Memory/key counters are adjusted here and only here on the insert path, so
// every other mutator (get_or_insert_with_mut included) must route through
// Put to keep accounting consistent, per spec.md §4.3.
func (s *ShardCache) Put(key []byte, value *StoredValue) *StoredValue {
	value.RecomputeSize()
	newMem := len(key) + value.Size

	if el, ok := s.index[string(key)]; ok {
		node := el.Value.(*lruNode)
		old := node.value
		oldMem := len(key) + old.Size
		node.value = value
		s.order.MoveToFront(el)
		s.updateMemory(newMem - oldMem)
		s.removeKeyFromTagsLocked(key)
		return old
	}

	el := s.order.PushFront(&lruNode{key: key, value: value})
	s.index[string(key)] = el
	s.updateMemory(newMem)
	s.keyCounter.Add(1)

	if s.capacity > 0 && len(s.index) > s.capacity {
		s.PopLRU()
	}
	return nil
}

// Pop removes key, returning its value if present.
func (s *ShardCache) Pop(key []byte) *StoredValue {
	el, ok := s.index[string(key)]
	if !ok {
		return nil
	}
	node := el.Value.(*lruNode)
	s.order.Remove(el)
	delete(s.index, string(key))
	s.updateMemory(-(len(key) + node.value.Size))
	s.keyCounter.Add(-1)
	s.removeKeyFromTagsLocked(key)
	return node.value
}

// PopLRU evicts the least-recently-used entry, returning its key and value.
func (s *ShardCache) PopLRU() ([]byte, *StoredValue, bool) {
	el := s.order.Back()
	if el == nil {
		return nil, nil, false
	}
	node := el.Value.(*lruNode)
	s.order.Remove(el)
	delete(s.index, string(node.key))
	s.updateMemory(-(len(node.key) + node.value.Size))
	s.keyCounter.Add(-1)
	s.removeKeyFromTagsLocked(node.key)
	return node.key, node.value, true
}

// Get returns key's value and updates its LFU/LRU metadata, per spec.md's
// "get and get_mut update LFU/LRU metadata; peek does not."
func (s *ShardCache) Get(key []byte) (*StoredValue, bool) {
	el, ok := s.index[string(key)]
	if !ok {
		return nil, false
	}
	node := el.Value.(*lruNode)
	s.order.MoveToFront(el)
	node.value.Touch()
	return node.value, true
}

// GetMut is Get's mutable-access counterpart; in Go these are identical
// since StoredValue is always reached through a pointer, but the name is
// kept distinct to mirror spec.md §4.3's vocabulary at call sites.
func (s *ShardCache) GetMut(key []byte) (*StoredValue, bool) {
	return s.Get(key)
}

// Peek returns key's value without touching LRU order or LFU counters.
func (s *ShardCache) Peek(key []byte) (*StoredValue, bool) {
	el, ok := s.index[string(key)]
	if !ok {
		return nil, false
	}
	return el.Value.(*lruNode).value, true
}

// GetOrInsertWithMut returns a mutable reference to key's value, invoking f
// only when absent. It routes through Put so counters stay consistent, per
// spec.md §4.3.
func (s *ShardCache) GetOrInsertWithMut(key []byte, f func() *StoredValue) *StoredValue {
	if el, ok := s.index[string(key)]; ok {
		return el.Value.(*lruNode).value
	}
	v := f()
	s.Put(key, v)
	return v
}

// Len returns the number of live entries in this shard.
func (s *ShardCache) Len() int { return len(s.index) }

// Clear empties the shard, resetting its share of the memory/key counters.
func (s *ShardCache) Clear() {
	if len(s.index) == 0 {
		return
	}
	var freed int64
	for _, el := range s.index {
		node := el.Value.(*lruNode)
		freed += int64(len(node.key) + node.value.Size)
	}
	s.memoryCounter.Add(-freed)
	s.keyCounter.Add(-int64(len(s.index)))
	s.index = make(map[string]*list.Element)
	s.order.Init()
	s.TagIndex = make(map[string]map[string]struct{}, DefaultTagIndexCapacity)
}

// RemoveKeyFromTags removes key from every tag set it belongs to, pruning
// any tag whose set becomes empty.
func (s *ShardCache) RemoveKeyFromTags(key []byte) { s.removeKeyFromTagsLocked(key) }

func (s *ShardCache) removeKeyFromTagsLocked(key []byte) {
	k := string(key)
	for tag, keys := range s.TagIndex {
		if _, ok := keys[k]; ok {
			delete(keys, k)
			if len(keys) == 0 {
				delete(s.TagIndex, tag)
			}
		}
	}
}

// AddTagsForKey associates key with every tag in tags.
func (s *ShardCache) AddTagsForKey(key []byte, tags [][]byte) {
	if len(tags) == 0 {
		return
	}
	k := string(key)
	for _, tag := range tags {
		t := string(tag)
		set, ok := s.TagIndex[t]
		if !ok {
			set = make(map[string]struct{})
			s.TagIndex[t] = set
		}
		set[k] = struct{}{}
	}
}

// GetTagsForKey returns every tag key is currently associated with.
func (s *ShardCache) GetTagsForKey(key []byte) []string {
	k := string(key)
	var out []string
	for tag, keys := range s.TagIndex {
		if _, ok := keys[k]; ok {
			out = append(out, tag)
		}
	}
	return out
}

// Iterate calls fn for every (key, value) pair. fn must not mutate s.
func (s *ShardCache) Iterate(fn func(key []byte, value *StoredValue) bool) {
	for e := s.order.Front(); e != nil; e = e.Next() {
		node := e.Value.(*lruNode)
		if !fn(node.key, node.value) {
			return
		}
	}
}

// KeysInOrder returns a snapshot of keys from most- to least-recently used.
// Used by scan and sampling; never on a latency-sensitive path.
func (s *ShardCache) KeysInOrder() [][]byte {
	out := make([][]byte, 0, len(s.index))
	s.Iterate(func(k []byte, _ *StoredValue) bool {
		out = append(out, k)
		return true
	})
	return out
}
