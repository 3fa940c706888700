// Package blocker implements the atomic producer-to-waiter handoff spec.md
// §4.6 (C6) describes: serving BLPOP/BRPOP/BLMOVE/BZPOPMIN/BZPOPMAX without
// ever losing a racing producer's write, grounded on
// _examples/original_source/src/core/blocking.rs.
//
// The original's `oneshot::Sender<T>` wrapped in `Arc<Mutex<Option<T>>>` (so
// it can be take()-n exactly once) has a direct Go equivalent: a
// buffered-by-one channel plus an atomic.Bool guarding the single send. The
// original's waiter map is a DashMap (sharded concurrent map); no example
// repo in the retrieval pack ships a concurrent-map library, so this uses a
// plain map protected by a single mutex — the standard-library-only
// concession in this package.
package blocker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Voskan/spineldb/internal/unsafehelpers"
)

// WokenKind tags which payload a WokenValue carries.
type WokenKind uint8

const (
	WokenList WokenKind = iota
	WokenZSet
)

// ListPopped is the value handed to a BLPOP/BRPOP/BLMOVE waiter.
type ListPopped struct {
	Key   []byte
	Value []byte
}

// ZSetPopped is the value handed to a BZPOPMIN/BZPOPMAX waiter.
type ZSetPopped struct {
	Key    []byte
	Member []byte
	Score  float64
}

// WokenValue is the generic payload sent through a Waiter's channel,
// mirroring blocking.rs's WokenValue enum.
type WokenValue struct {
	Kind WokenKind
	List ListPopped
	ZSet ZSetPopped
}

// Outcome classifies how a wait ended, per blocking.rs's BlockerOutcome.
type Outcome uint8

const (
	OutcomeWoken Outcome = iota
	OutcomeTimedOut
	OutcomeMoved
)

// Waiter is one blocked client's registration. consumed guards the
// exactly-once send the same way the original's Arc<Mutex<Option<Sender>>>
// does: whichever goroutine wins the CompareAndSwap gets to send.
type Waiter struct {
	SessionID uint64
	ch        chan WokenValue
	consumed  atomic.Bool
}

func newWaiter(sessionID uint64) *Waiter {
	return &Waiter{SessionID: sessionID, ch: make(chan WokenValue, 1)}
}

// tryConsume attempts to claim this waiter and deliver value. Returns false
// if another goroutine already claimed it (or it was already delivered).
func (w *Waiter) tryConsume(v WokenValue) bool {
	if !w.consumed.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- v
	return true
}

// Manager tracks, per key, the FIFO queue of clients blocked waiting for
// data — blocking.rs's BlockerManager.
type Manager struct {
	mu      sync.Mutex
	waiters map[string][]*Waiter
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{waiters: make(map[string][]*Waiter)}
}

// Register allocates a fresh Waiter and pushes it onto every key's queue in
// keys, in order. The caller MUST complete this call before releasing the
// shard lock(s) that guarded the non-blocking pop attempt — the same
// ordering constraint blocking.rs's "CRITICAL SECTION" comment documents —
// otherwise a producer's write between the failed pop and the registration
// would be lost.
func (m *Manager) Register(sessionID uint64, keys [][]byte) *Waiter {
	w := newWaiter(sessionID)
	m.mu.Lock()
	for _, k := range keys {
		ks := string(k)
		m.waiters[ks] = append(m.waiters[ks], w)
	}
	m.mu.Unlock()
	return w
}

// RemoveWaiter removes w from every key in keys' queues, used during the
// post-wait cleanup phase regardless of how the wait ended.
func (m *Manager) RemoveWaiter(keys [][]byte, w *Waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		// Lookup/delete-only: ks never becomes a new map key, so the
		// zero-copy conversion is safe here (unlike Register's insert path).
		ks := unsafehelpers.BytesToString(k)
		m.removeFromQueueLocked(ks, w)
	}
}

func (m *Manager) removeFromQueueLocked(ks string, w *Waiter) {
	queue := m.waiters[ks]
	if len(queue) == 0 {
		return
	}
	out := queue[:0]
	for _, cand := range queue {
		if cand != w {
			out = append(out, cand)
		}
	}
	if len(out) == 0 {
		delete(m.waiters, ks)
	} else {
		m.waiters[ks] = out
	}
}

// RemoveWaitersForSession drops every waiter registered by sessionID across
// every key, used on client disconnect, per blocking.rs's
// remove_waiters_for_session.
func (m *Manager) RemoveWaitersForSession(sessionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ks, queue := range m.waiters {
		out := queue[:0]
		for _, w := range queue {
			if w.SessionID != sessionID {
				out = append(out, w)
			}
		}
		if len(out) == 0 {
			delete(m.waiters, ks)
		} else {
			m.waiters[ks] = out
		}
	}
}

// NotifyAndConsumeForPush is called by LPUSH/RPUSH while holding the
// destination shard's lock. It tries to hand value directly to the oldest
// live waiter on key, skipping any waiter whose channel was already
// consumed or abandoned (client timed out/disconnected concurrently).
// Returns true if a waiter consumed the value — the caller MUST NOT then
// also append value to the list, per blocking.rs's
// notify_and_consume_for_push.
func (m *Manager) NotifyAndConsumeForPush(key []byte, value []byte) bool {
	ks := unsafehelpers.BytesToString(key)
	for {
		m.mu.Lock()
		queue := m.waiters[ks]
		if len(queue) == 0 {
			m.mu.Unlock()
			return false
		}
		w := queue[0]
		m.waiters[ks] = queue[1:]
		if len(m.waiters[ks]) == 0 {
			delete(m.waiters, ks)
		}
		m.mu.Unlock()

		if w.tryConsume(WokenValue{Kind: WokenList, List: ListPopped{Key: key, Value: value}}) {
			return true
		}
		// w was already consumed/abandoned; try the next one.
	}
}

// NotifyAndPopZSetWaiter is called by ZADD/ZINCRBY while holding the
// shard's lock. It optimistically pops popFn's chosen element from the
// zset, tries to hand it to a waiter, and — if no live waiter claims it —
// reinserts it via restoreFn before returning false, per blocking.rs's
// notify_and_pop_zset_waiter.
func (m *Manager) NotifyAndPopZSetWaiter(key []byte, popFn func() (member []byte, score float64, ok bool), restoreFn func(member []byte, score float64)) bool {
	member, score, ok := popFn()
	if !ok {
		return false
	}

	ks := unsafehelpers.BytesToString(key)
	for {
		m.mu.Lock()
		queue := m.waiters[ks]
		if len(queue) == 0 {
			delete(m.waiters, ks)
			m.mu.Unlock()
			break
		}
		w := queue[0]
		m.waiters[ks] = queue[1:]
		if len(m.waiters[ks]) == 0 {
			delete(m.waiters, ks)
		}
		m.mu.Unlock()

		if w.tryConsume(WokenValue{Kind: WokenZSet, ZSet: ZSetPopped{Key: key, Member: member, Score: score}}) {
			return true
		}
	}

	restoreFn(member, score)
	return false
}

// WakeWaitersForModification wakes every waiter on key with an empty
// nudge, for commands (DEL, EXPIRE, overwrite via SET) that change a key's
// state without themselves producing a value a waiter could consume. The
// woken client is expected to re-attempt its non-blocking pop, per
// blocking.rs's wake_waiters_for_modification.
func (m *Manager) WakeWaitersForModification(key []byte) {
	ks := unsafehelpers.BytesToString(key)
	m.mu.Lock()
	queue := m.waiters[ks]
	delete(m.waiters, ks)
	m.mu.Unlock()

	for _, w := range queue {
		w.tryConsume(WokenValue{Kind: WokenList, List: ListPopped{Key: key}})
	}
}

// clusterPollInterval is how often wait_with_polling re-checks slot
// ownership in cluster mode, per blocking.rs's POLLING_TIMEOUT.
const clusterPollInterval = 500 * time.Millisecond

// ClusterSlotOwned reports, for a given key, whether this node still owns
// the key's cluster slot, and the slot number for MOVED error construction
// when it does not. A nil ClusterSlotOwned means standalone mode.
type ClusterSlotOwned func(key []byte) (slot uint16, owned bool)

// Wait blocks on w until it is woken, waitTimeout elapses, ctx is canceled,
// or (in cluster mode) the key's slot migrates away from this node. In
// standalone mode (checkSlot == nil) this degenerates to a plain timeout,
// per blocking.rs's wait_with_polling.
func Wait(ctx context.Context, w *Waiter, keyForSlotCheck []byte, waitTimeout time.Duration, checkSlot ClusterSlotOwned) (WokenValue, Outcome, uint16) {
	if checkSlot == nil {
		timer := time.NewTimer(waitTimeout)
		defer timer.Stop()
		select {
		case v := <-w.ch:
			return v, OutcomeWoken, 0
		case <-timer.C:
			return WokenValue{}, OutcomeTimedOut, 0
		case <-ctx.Done():
			return WokenValue{}, OutcomeTimedOut, 0
		}
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		now := time.Now()
		if !now.Before(deadline) {
			return WokenValue{}, OutcomeTimedOut, 0
		}
		remaining := deadline.Sub(now)
		tick := clusterPollInterval
		if remaining < tick {
			tick = remaining
		}

		timer := time.NewTimer(tick)
		select {
		case v := <-w.ch:
			timer.Stop()
			return v, OutcomeWoken, 0
		case <-ctx.Done():
			timer.Stop()
			return WokenValue{}, OutcomeTimedOut, 0
		case <-timer.C:
			if slot, owned := checkSlot(keyForSlotCheck); !owned {
				return WokenValue{}, OutcomeMoved, slot
			}
		}
	}
}
