package exec

import (
	"errors"

	"github.com/Voskan/spineldb/internal/storage"
)

// ErrNotSingleLock is returned by GetSingleShardContextMut when the current
// lock set is not a Single lock on the command's declared key, per spec.md
// §4.5's "errors if the current lock set is not Single".
var ErrNotSingleLock = errors.New("exec: current execution locks are not a single-shard lock")

// ErrVersionMismatch is returned by UpgradeLocks when a key's version
// changed between the initial snapshot and the reacquired full lock set,
// per spec.md §4.4's upgrade protocol step 3: "abort the command returning
// a neutral empty result."
var ErrVersionMismatch = errors.New("exec: key version changed during lock upgrade, command aborted")

// AuthenticatedUser is the minimal identity the execution context carries;
// ACL evaluation itself is out of this core's scope.
type AuthenticatedUser struct {
	Name string
}

// ExecutionContext bundles everything a command's execution needs once its
// locks are acquired, per spec.md §4.5.
type ExecutionContext struct {
	DB                *storage.Database
	Locks             *storage.ExecutionLocks
	Command           Command
	SessionID         uint64
	AuthenticatedUser AuthenticatedUser
}

// DetermineLocks implements locking.rs's determine_locks_for_command
// dispatch table, per spec.md §4.4's "Lock selection per command":
// keyless admin -> None; global -> All; self-locking families -> None;
// counter-only -> None; multi-key -> Multi; single-key -> Single;
// runtime-keys commands start with a Single lock on the declared key and
// upgrade later via UpgradeLocks.
func DetermineLocks(db *storage.Database, cmd Command) *storage.ExecutionLocks {
	switch {
	case cmd.Has(FlagAdmin) && len(cmd.Keys) == 0:
		return &storage.ExecutionLocks{Kind: storage.LockNone}
	case cmd.Has(FlagGlobal):
		return db.LockEverything()
	case cmd.Has(FlagSelfLocking):
		return &storage.ExecutionLocks{Kind: storage.LockNone}
	case cmd.Has(FlagCounterOnly):
		return &storage.ExecutionLocks{Kind: storage.LockNone}
	case cmd.Has(FlagRuntimeKeys):
		if len(cmd.Keys) == 0 {
			return &storage.ExecutionLocks{Kind: storage.LockNone}
		}
		return db.LockSingleShard(cmd.Keys[0])
	default:
		return db.DetermineLocksForKeys(cmd.Keys)
	}
}

// NewExecutionContext acquires the right locks for cmd and returns the
// context ready for command execution.
func NewExecutionContext(db *storage.Database, cmd Command, sessionID uint64, user AuthenticatedUser) *ExecutionContext {
	return &ExecutionContext{
		DB:                db,
		Locks:             DetermineLocks(db, cmd),
		Command:           cmd,
		SessionID:         sessionID,
		AuthenticatedUser: user,
	}
}

// GetSingleShardContextMut returns the shard index and cache for the
// current Single lock, per spec.md §4.5.
func (ctx *ExecutionContext) GetSingleShardContextMut() (int, *storage.ShardCache, error) {
	if ctx.Locks.Kind != storage.LockSingle {
		return 0, nil, ErrNotSingleLock
	}
	if len(ctx.Command.Keys) > 0 && ctx.DB.ShardIndex(ctx.Command.Keys[0]) != ctx.Locks.ShardIndex {
		return 0, nil, ErrNotSingleLock
	}
	return ctx.Locks.ShardIndex, ctx.Locks.Single, nil
}

// UpgradeLocks implements spec.md §4.4's upgrade protocol for commands
// whose full key set is only known at runtime:
//  1. snapshot the version of each key whose shard the current lock
//     already holds,
//  2. release it and reacquire the full set under Multi in ascending
//     shard-index order,
//  3. re-read the version of each snapshotted key; if any changed, release
//     and return ErrVersionMismatch so the caller can abort with a neutral
//     result.
//
// Keys in shards the initial lock did not hold have no snapshot and are not
// re-checked.
func (ctx *ExecutionContext) UpgradeLocks(keys [][]byte) error {
	snapshot := make(map[string]uint64, len(keys))
	covered := make(map[string]bool, len(keys))
	for _, k := range keys {
		if ctx.Locks == nil || ctx.Locks.Set == nil {
			continue
		}
		if _, held := ctx.Locks.Set.Get(ctx.DB.ShardIndex(k)); !held {
			continue
		}
		covered[string(k)] = true
		if v, ok := ctx.peekVersion(k); ok {
			snapshot[string(k)] = v
		}
	}

	ctx.ReleaseLocks()
	newLocks := ctx.DB.DetermineLocksForKeys(keys)
	ctx.Locks = newLocks

	for _, k := range keys {
		if !covered[string(k)] {
			continue
		}
		v, ok := ctx.peekVersion(k)
		prev, hadPrev := snapshot[string(k)]
		if ok != hadPrev || (ok && v != prev) {
			ctx.ReleaseLocks()
			return ErrVersionMismatch
		}
	}
	return nil
}

func (ctx *ExecutionContext) peekVersion(key []byte) (uint64, bool) {
	switch ctx.Locks.Kind {
	case storage.LockSingle:
		sv, ok := ctx.Locks.Single.Peek(key)
		if !ok {
			return 0, false
		}
		return sv.Version, true
	case storage.LockMulti, storage.LockAll:
		idx := ctx.DB.ShardIndex(key)
		cache, ok := ctx.Locks.Set.Get(idx)
		if !ok {
			return 0, false
		}
		sv, ok := cache.Peek(key)
		if !ok {
			return 0, false
		}
		return sv.Version, true
	default:
		return 0, false
	}
}

// ReleaseLocks releases whatever locks the context currently holds, used
// when a command is about to block so other commands can proceed, per
// spec.md §4.5.
func (ctx *ExecutionContext) ReleaseLocks() {
	if ctx.Locks == nil {
		return
	}
	ctx.Locks.Unlock()
	ctx.Locks = &storage.ExecutionLocks{Kind: storage.LockNone}
}
