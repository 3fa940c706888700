package exec

import (
	"testing"

	"github.com/Voskan/spineldb/internal/storage"
)

func TestDetermineLocksAdminIsNone(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "CLIENT", Flags: FlagAdmin}
	locks := DetermineLocks(db, cmd)
	if locks.Kind != storage.LockNone {
		t.Fatalf("expected admin command to take no locks, got %v", locks.Kind)
	}
}

func TestDetermineLocksGlobalLocksEverything(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "FLUSHALL", Flags: FlagGlobal}
	locks := DetermineLocks(db, cmd)
	defer locks.Unlock()
	if locks.Kind != storage.LockAll {
		t.Fatalf("expected global command to lock everything, got %v", locks.Kind)
	}
}

func TestDetermineLocksSingleKeyTakesSingleLock(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "GET", Keys: [][]byte{[]byte("k")}}
	locks := DetermineLocks(db, cmd)
	defer locks.Unlock()
	if locks.Kind != storage.LockSingle {
		t.Fatalf("expected a single-key command to take a single lock, got %v", locks.Kind)
	}
}

func TestDetermineLocksMultiKeyTakesMultiLock(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "MGET", Keys: [][]byte{[]byte("a"), []byte("b")}}
	locks := DetermineLocks(db, cmd)
	defer locks.Unlock()
	if locks.Kind != storage.LockMulti {
		t.Fatalf("expected a multi-key command to take a multi lock, got %v", locks.Kind)
	}
}

func TestDetermineLocksRuntimeKeysStartsSingleOnDeclaredKey(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "SORT", Flags: FlagRuntimeKeys, Keys: [][]byte{[]byte("list")}}
	locks := DetermineLocks(db, cmd)
	defer locks.Unlock()
	if locks.Kind != storage.LockSingle {
		t.Fatalf("expected a runtime-keys command to start with a single lock, got %v", locks.Kind)
	}
}

func TestGetSingleShardContextMutErrorsWithoutSingleLock(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "MGET", Keys: [][]byte{[]byte("a"), []byte("b")}}
	ctx := NewExecutionContext(db, cmd, 1, AuthenticatedUser{Name: "tester"})
	defer ctx.ReleaseLocks()

	if _, _, err := ctx.GetSingleShardContextMut(); err != ErrNotSingleLock {
		t.Fatalf("expected ErrNotSingleLock, got %v", err)
	}
}

func TestGetSingleShardContextMutReturnsShardUnderSingleLock(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "GET", Keys: [][]byte{[]byte("k")}}
	ctx := NewExecutionContext(db, cmd, 1, AuthenticatedUser{})
	defer ctx.ReleaseLocks()

	idx, cache, err := ctx.GetSingleShardContextMut()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache == nil {
		t.Fatalf("expected a non-nil shard cache")
	}
	if idx != db.ShardIndex([]byte("k")) {
		t.Fatalf("expected the returned shard index to match the key's shard")
	}
}

func TestUpgradeLocksSucceedsWhenVersionsUnchanged(t *testing.T) {
	db := storage.NewDatabase()
	db.InsertValueFromLoad([]byte("a"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("1")}))
	db.InsertValueFromLoad([]byte("b"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("2")}))

	cmd := Command{Name: "SORT", Flags: FlagRuntimeKeys, Keys: [][]byte{[]byte("a")}}
	ctx := NewExecutionContext(db, cmd, 1, AuthenticatedUser{})
	defer ctx.ReleaseLocks()

	if err := ctx.UpgradeLocks([][]byte{[]byte("a"), []byte("b")}); err != nil {
		t.Fatalf("expected upgrade to succeed, got %v", err)
	}
	if ctx.Locks.Kind != storage.LockMulti {
		t.Fatalf("expected the upgraded locks to be Multi, got %v", ctx.Locks.Kind)
	}
}

// TestUpgradeProtocolDetectsConcurrentVersionChange inlines UpgradeLocks'
// three steps (snapshot, release+reacquire, re-check) to deliberately land
// a version bump in the window between them — the scenario UpgradeLocks
// itself exists to guard against, per spec.md §4.4's upgrade protocol.
func TestUpgradeProtocolDetectsConcurrentVersionChange(t *testing.T) {
	db := storage.NewDatabase()
	db.InsertValueFromLoad([]byte("a"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("1")}))

	cmd := Command{Name: "SORT", Flags: FlagRuntimeKeys, Keys: [][]byte{[]byte("a")}}
	ctx := NewExecutionContext(db, cmd, 1, AuthenticatedUser{})

	snapshotVersion, ok := ctx.peekVersion([]byte("a"))
	if !ok {
		t.Fatalf("expected key 'a' to exist")
	}

	ctx.ReleaseLocks()

	// A concurrent writer's modification lands here, outside any lock this
	// context holds.
	probe := db.LockSingleShard([]byte("a"))
	sv, _ := probe.Single.Peek([]byte("a"))
	sv.BumpVersion()
	probe.Unlock()

	ctx.Locks = db.DetermineLocksForKeys([][]byte{[]byte("a")})
	defer ctx.ReleaseLocks()

	recheckVersion, ok := ctx.peekVersion([]byte("a"))
	if !ok {
		t.Fatalf("expected key 'a' to still exist")
	}
	if recheckVersion == snapshotVersion {
		t.Fatalf("expected the version bump to be observable across the release/reacquire window")
	}
}

func TestReleaseLocksIsIdempotent(t *testing.T) {
	db := storage.NewDatabase()
	cmd := Command{Name: "GET", Keys: [][]byte{[]byte("k")}}
	ctx := NewExecutionContext(db, cmd, 1, AuthenticatedUser{})
	ctx.ReleaseLocks()
	ctx.ReleaseLocks()
	if ctx.Locks.Kind != storage.LockNone {
		t.Fatalf("expected locks to be None after release, got %v", ctx.Locks.Kind)
	}
}
