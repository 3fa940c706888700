package storage

import "testing"

func TestEnsureCapacityNoopWhenUnderBudget(t *testing.T) {
	db := NewDatabase()
	db.InsertValueFromLoad([]byte("k"), New(DataValue{Kind: KindString, Str: []byte("v")}))

	if err := db.EnsureCapacity(1<<30, 10, PolicyAllKeysLRU); err != nil {
		t.Fatalf("expected no error well under budget, got %v", err)
	}
}

func TestEnsureCapacityNoEvictionFailsFast(t *testing.T) {
	db := NewDatabase()
	db.InsertValueFromLoad([]byte("k"), New(DataValue{Kind: KindString, Str: []byte("v")}))

	err := db.EnsureCapacity(1, 1<<20, PolicyNoEviction)
	if err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory under noeviction, got %v", err)
	}
}

func TestEnsureCapacityEvictsUnderAllKeysLRU(t *testing.T) {
	db := NewDatabase()
	for i := 0; i < 20; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		db.InsertValueFromLoad(k, New(DataValue{Kind: KindString, Str: make([]byte, 100)}))
	}
	before := db.CurrentMemory()

	err := db.EnsureCapacity(before-50, 0, PolicyAllKeysLRU)
	if err != nil {
		t.Fatalf("expected eviction to make room, got %v", err)
	}
	if db.CurrentMemory() >= before {
		t.Fatalf("expected memory to shrink after eviction")
	}
}

func TestEnsureCapacityVolatileOnlySparesPersistentKeys(t *testing.T) {
	db := NewDatabase()
	db.InsertValueFromLoad([]byte("persistent"), New(DataValue{Kind: KindString, Str: make([]byte, 100)}))

	err := db.EnsureCapacity(1, 1<<20, PolicyVolatileLRU)
	if err != ErrOutOfMemory {
		t.Fatalf("expected volatile-lru to fail when no key has a TTL, got %v", err)
	}
	if db.KeyCount() != 1 {
		t.Fatalf("expected the persistent key to survive, got count %d", db.KeyCount())
	}
}
