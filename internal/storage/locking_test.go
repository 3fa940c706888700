package storage

import "testing"

func TestLockShardsForKeysAscendingOrder(t *testing.T) {
	db := NewDatabase()
	keys := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie"), []byte("delta")}

	set := db.LockShardsForKeys(keys)
	defer set.Unlock()

	indices := set.Indices()
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			t.Fatalf("expected strictly ascending shard indices, got %v", indices)
		}
	}
	for _, k := range keys {
		if _, ok := set.Get(db.ShardIndex(k)); !ok {
			t.Fatalf("expected lock set to hold the shard for key %q", k)
		}
	}
}

func TestDetermineLocksForKeysSingle(t *testing.T) {
	db := NewDatabase()
	locks := db.DetermineLocksForKeys([][]byte{[]byte("solo")})
	defer locks.Unlock()

	if locks.Kind != LockSingle {
		t.Fatalf("expected LockSingle for one key, got %v", locks.Kind)
	}
	if locks.ShardIndex != db.ShardIndex([]byte("solo")) {
		t.Fatalf("shard index mismatch")
	}
}

func TestDetermineLocksForKeysEmpty(t *testing.T) {
	db := NewDatabase()
	locks := db.DetermineLocksForKeys(nil)
	if locks.Kind != LockNone {
		t.Fatalf("expected LockNone for no keys, got %v", locks.Kind)
	}
	locks.Unlock() // must be a no-op, not a panic
}

func TestLockEverythingCoversAllShards(t *testing.T) {
	db := NewDatabase()
	locks := db.LockEverything()
	defer locks.Unlock()

	if locks.Kind != LockAll {
		t.Fatalf("expected LockAll, got %v", locks.Kind)
	}
	if len(locks.Set.Indices()) != NumShards {
		t.Fatalf("expected %d shard locks, got %d", NumShards, len(locks.Set.Indices()))
	}
}
