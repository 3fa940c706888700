// Package exec implements the lock-selection and execution-context layer
// spec.md §4.4–§4.5 (C4/C5) describes: turning a command's declared key set
// and flags into the right ExecutionLocks variant, and the
// snapshot/release/reacquire upgrade protocol for commands whose full key
// set is only known at runtime.
//
// Command *parsing* — turning a RESP array into a concrete verb with typed
// arguments — is explicitly out of this core's scope (spec.md §1); Command
// here is the minimal shape the locking layer needs: a name, flags, and a
// declared key list.
package exec

// Flags are the command metadata bits locking.rs's determine_locks_for_command
// switches on, per spec.md §4.4 "Lock selection per command".
type Flags uint8

const (
	FlagNone Flags = 0
	// FlagAdmin marks commands like ACL/CLIENT that touch no keys and need
	// no shard locks.
	FlagAdmin Flags = 1 << iota
	// FlagGlobal marks commands that need a consistent snapshot of the
	// entire keyspace (KEYS, FLUSHALL, FLUSHDB).
	FlagGlobal
	// FlagSelfLocking marks commands that manage their own granular
	// locking during execution (the SCAN family, CACHE.PURGETAG) and so
	// need no pre-locking at all.
	FlagSelfLocking
	// FlagRuntimeKeys marks commands whose full key set is only known once
	// execution starts (SORT BY pattern, GEORADIUS BYMEMBER): they take an
	// initial Single lock on the declared key and may later call
	// (*ExecutionContext).UpgradeLocks.
	FlagRuntimeKeys
	// FlagCounterOnly marks commands answerable from atomic counters alone
	// (DBSIZE) with no lock at all.
	FlagCounterOnly
)

// Command is the minimal shape the locking layer needs from a parsed
// command: its flags and the keys it declares up front.
type Command struct {
	Name  string
	Flags Flags
	Keys  [][]byte
}

func (c Command) Has(f Flags) bool { return c.Flags&f != 0 }
