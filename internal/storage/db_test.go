package storage

import "testing"

func TestDatabaseShardIndexIsStable(t *testing.T) {
	db := NewDatabase()
	idx1 := db.ShardIndex([]byte("hello"))
	idx2 := db.ShardIndex([]byte("hello"))
	if idx1 != idx2 {
		t.Fatalf("expected stable shard index for the same key, got %d and %d", idx1, idx2)
	}
	if idx1 < 0 || idx1 >= NumShards {
		t.Fatalf("shard index %d out of range", idx1)
	}
}

func TestDatabaseInsertAndDel(t *testing.T) {
	db := NewDatabase()
	db.InsertValueFromLoad([]byte("a"), New(DataValue{Kind: KindString, Str: []byte("1")}))
	db.InsertValueFromLoad([]byte("b"), New(DataValue{Kind: KindString, Str: []byte("2")}))

	if got := db.KeyCount(); got != 2 {
		t.Fatalf("expected 2 keys, got %d", got)
	}

	n := db.Del([][]byte{[]byte("a"), []byte("missing")})
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if got := db.KeyCount(); got != 1 {
		t.Fatalf("expected 1 key remaining, got %d", got)
	}
}

func TestDatabaseDelMultiKeyAcrossShards(t *testing.T) {
	db := NewDatabase()
	keys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3"), []byte("k4")}
	for _, k := range keys {
		db.InsertValueFromLoad(k, New(DataValue{Kind: KindString, Str: []byte("v")}))
	}

	n := db.Del(keys)
	if n != len(keys) {
		t.Fatalf("expected %d deletions, got %d", len(keys), n)
	}
	if got := db.KeyCount(); got != 0 {
		t.Fatalf("expected empty database, got %d keys", got)
	}
}

func TestDatabaseScanKeysCoversEverything(t *testing.T) {
	db := NewDatabase()
	want := map[string]bool{}
	for i := 0; i < 50; i++ {
		k := []byte{byte('a' + i%26), byte(i)}
		want[string(k)] = true
		db.InsertValueFromLoad(k, New(DataValue{Kind: KindString, Str: []byte("v")}))
	}

	seen := map[string]bool{}
	cursor := uint64(0)
	for {
		var keys [][]byte
		cursor, keys = db.ScanKeys(cursor, 7)
		for _, k := range keys {
			seen[string(k)] = true
		}
		if cursor == 0 {
			break
		}
	}

	if len(seen) != len(want) {
		t.Fatalf("expected to scan %d keys, saw %d", len(want), len(seen))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("scan missed key %q", k)
		}
	}
}

func TestScanCursorRoundTrip(t *testing.T) {
	cur := EncodeScanCursor(9, 12345)
	shardIdx, pos := DecodeScanCursor(cur)
	if shardIdx != 9 || pos != 12345 {
		t.Fatalf("expected (9, 12345), got (%d, %d)", shardIdx, pos)
	}
}

func TestDatabaseClearAllShards(t *testing.T) {
	db := NewDatabase()
	db.InsertValueFromLoad([]byte("a"), New(DataValue{Kind: KindString, Str: []byte("1")}))
	db.ClearAllShards()
	if got := db.KeyCount(); got != 0 {
		t.Fatalf("expected 0 keys after ClearAllShards, got %d", got)
	}
	if got := db.CurrentMemory(); got != 0 {
		t.Fatalf("expected 0 memory after ClearAllShards, got %d", got)
	}
}
