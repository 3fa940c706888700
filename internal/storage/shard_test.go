package storage

import (
	"sync/atomic"
	"testing"
)

func newTestShard(capacity int) *ShardCache {
	return NewShardCache(capacity, new(atomic.Int64), new(atomic.Int64))
}

func TestShardCachePutGetPeek(t *testing.T) {
	s := newTestShard(0)
	v := New(DataValue{Kind: KindString, Str: []byte("bar")})
	s.Put([]byte("foo"), v)

	got, ok := s.Peek([]byte("foo"))
	if !ok || string(got.Data.Str) != "bar" {
		t.Fatalf("Peek returned %v, %v", got, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}

	got2, ok := s.Get([]byte("foo"))
	if !ok || got2 != got {
		t.Fatalf("Get did not return the same value")
	}
}

func TestShardCachePeekDoesNotTouchLFU(t *testing.T) {
	s := newTestShard(0)
	v := New(DataValue{Kind: KindString, Str: []byte("bar")})
	before := v.LFU.Counter
	s.Put([]byte("foo"), v)

	s.Peek([]byte("foo"))
	if v.LFU.Counter != before {
		t.Fatalf("Peek must not mutate LFU state")
	}
}

func TestShardCachePopRemovesEntry(t *testing.T) {
	s := newTestShard(0)
	v := New(DataValue{Kind: KindString, Str: []byte("bar")})
	s.Put([]byte("foo"), v)

	popped := s.Pop([]byte("foo"))
	if popped != v {
		t.Fatalf("Pop returned unexpected value")
	}
	if _, ok := s.Peek([]byte("foo")); ok {
		t.Fatalf("key should be gone after Pop")
	}
	if s.Len() != 0 {
		t.Fatalf("expected len 0 after Pop, got %d", s.Len())
	}
}

func TestShardCacheEvictsLRUWhenOverCapacity(t *testing.T) {
	s := newTestShard(2)
	s.Put([]byte("a"), New(DataValue{Kind: KindString, Str: []byte("1")}))
	s.Put([]byte("b"), New(DataValue{Kind: KindString, Str: []byte("2")}))
	s.Put([]byte("c"), New(DataValue{Kind: KindString, Str: []byte("3")}))

	if s.Len() != 2 {
		t.Fatalf("expected capacity to cap len at 2, got %d", s.Len())
	}
	if _, ok := s.Peek([]byte("a")); ok {
		t.Fatalf("expected 'a' (least recently used) to have been evicted")
	}
	if _, ok := s.Peek([]byte("c")); !ok {
		t.Fatalf("expected most recently inserted key to survive")
	}
}

func TestShardCacheGetPromotesRecency(t *testing.T) {
	s := newTestShard(2)
	s.Put([]byte("a"), New(DataValue{Kind: KindString, Str: []byte("1")}))
	s.Put([]byte("b"), New(DataValue{Kind: KindString, Str: []byte("2")}))
	s.Get([]byte("a")) // touch a, making b the LRU candidate
	s.Put([]byte("c"), New(DataValue{Kind: KindString, Str: []byte("3")}))

	if _, ok := s.Peek([]byte("b")); ok {
		t.Fatalf("expected 'b' to be evicted after 'a' was refreshed")
	}
	if _, ok := s.Peek([]byte("a")); !ok {
		t.Fatalf("expected 'a' to survive since it was refreshed")
	}
}

func TestShardCacheTagIndex(t *testing.T) {
	s := newTestShard(0)
	s.Put([]byte("k1"), New(DataValue{Kind: KindString, Str: []byte("v")}))
	s.AddTagsForKey([]byte("k1"), [][]byte{[]byte("t1"), []byte("t2")})

	tags := s.GetTagsForKey([]byte("k1"))
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}

	s.RemoveKeyFromTags([]byte("k1"))
	if tags := s.GetTagsForKey([]byte("k1")); len(tags) != 0 {
		t.Fatalf("expected tags cleared, got %v", tags)
	}
	if len(s.TagIndex) != 0 {
		t.Fatalf("expected empty tag sets to be pruned, got %v", s.TagIndex)
	}
}

func TestShardCachePutOverwriteClearsOldTags(t *testing.T) {
	s := newTestShard(0)
	s.Put([]byte("k1"), New(DataValue{Kind: KindString, Str: []byte("v")}))
	s.AddTagsForKey([]byte("k1"), [][]byte{[]byte("stale")})

	s.Put([]byte("k1"), New(DataValue{Kind: KindString, Str: []byte("v2")}))
	if tags := s.GetTagsForKey([]byte("k1")); len(tags) != 0 {
		t.Fatalf("expected overwrite to drop stale tags, got %v", tags)
	}
}

func TestShardCacheGetOrInsertWithMut(t *testing.T) {
	s := newTestShard(0)
	calls := 0
	factory := func() *StoredValue {
		calls++
		return New(DataValue{Kind: KindString, Str: []byte("x")})
	}

	v1 := s.GetOrInsertWithMut([]byte("k"), factory)
	v2 := s.GetOrInsertWithMut([]byte("k"), factory)
	if v1 != v2 {
		t.Fatalf("expected the same value on second call")
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}
}

func TestShardCacheClearResetsCounters(t *testing.T) {
	mem := new(atomic.Int64)
	keys := new(atomic.Int64)
	s := NewShardCache(0, mem, keys)
	s.Put([]byte("a"), New(DataValue{Kind: KindString, Str: []byte("1")}))
	s.Put([]byte("b"), New(DataValue{Kind: KindString, Str: []byte("2")}))

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty shard after Clear")
	}
	if mem.Load() != 0 {
		t.Fatalf("expected memory counter reset to 0, got %d", mem.Load())
	}
	if keys.Load() != 0 {
		t.Fatalf("expected key counter reset to 0, got %d", keys.Load())
	}
}
