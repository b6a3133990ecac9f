// Package noncetracker implements the per-sender monotonic account-nonce
// anti-replay device (spec §4.4). A transaction's account_nonce must equal
// current(sender) + pending_count(sender) at admission time; the tracker
// enforces no gaps and no reuse, and is only advanced to a new "current"
// value after the containing block is durably persisted (spec §4.8 nonce
// commit discipline).
package noncetracker

import (
	"errors"
	"sync"

	"ledgerchain/internal/types"
)

// Error kinds from spec §7 "Nonce".
var (
	ErrStale  = errors.New("noncetracker: nonce stale (below expected)")
	ErrGap    = errors.New("noncetracker: nonce leaves a gap")
	ErrReused = errors.New("noncetracker: nonce already reserved")
)

type perSender struct {
	current uint64
	pending map[uint64]struct{}
}

// Tracker is the mutex-guarded per-sender nonce table.
type Tracker struct {
	mu      sync.RWMutex
	senders map[types.Address]*perSender
}

// New constructs an empty nonce tracker.
func New() *Tracker {
	return &Tracker{senders: make(map[types.Address]*perSender)}
}

func (t *Tracker) entry(addr types.Address) *perSender {
	e, ok := t.senders[addr]
	if !ok {
		e = &perSender{pending: make(map[uint64]struct{})}
		t.senders[addr] = e
	}
	return e
}

// Current returns the next nonce sendersaddr is expected to use for its
// next confirmed transaction (i.e. the count of confirmed transactions).
func (t *Tracker) Current(addr types.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.senders[addr]; ok {
		return e.current
	}
	return 0
}

// PendingCount returns the number of outstanding (reserved, unconfirmed)
// nonces for addr.
func (t *Tracker) PendingCount(addr types.Address) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.senders[addr]; ok {
		return len(e.pending)
	}
	return 0
}

// CheckAndReserve validates that nonce is exactly current+pending_count and
// reserves it, or fails with Stale/Gap/Reused.
func (t *Tracker) CheckAndReserve(addr types.Address, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(addr)
	expected := e.current + uint64(len(e.pending))

	if _, reserved := e.pending[nonce]; reserved {
		return ErrReused
	}
	if nonce < e.current {
		return ErrStale
	}
	if nonce < expected {
		return ErrReused
	}
	if nonce > expected {
		return ErrGap
	}
	e.pending[nonce] = struct{}{}
	return nil
}

// Commit advances current past nonce after the containing block has been
// durably persisted. It is a no-op (returns an error) if nonce was never
// reserved, guarding against out-of-order commits.
func (t *Tracker) Commit(addr types.Address, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(addr)
	if _, ok := e.pending[nonce]; !ok {
		return errors.New("noncetracker: commit of unreserved nonce")
	}
	delete(e.pending, nonce)
	if nonce == e.current {
		e.current++
	}
	return nil
}

// Release drops a reservation without advancing current, used when a
// mempool entry is evicted or a reorg invalidates a not-yet-persisted tx.
func (t *Tracker) Release(addr types.Address, nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.senders[addr]; ok {
		delete(e.pending, nonce)
	}
}

// Uncommit undoes a prior Commit(addr, nonce) call, used when disconnecting
// a block during a reorg. It only moves current backwards; it never touches
// pending reservations, since a disconnected tx is no longer reserved either.
func (t *Tracker) Uncommit(addr types.Address, nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(addr)
	if e.current == nonce+1 {
		e.current = nonce
	}
}

// Snapshot is a point-in-time, read-only copy of the tracker state.
type Snapshot struct {
	senders map[types.Address]perSender
}

// Snapshot copies the current table for lock-free readers and for reorg
// rollback.
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[types.Address]perSender, len(t.senders))
	for addr, e := range t.senders {
		pendingCopy := make(map[uint64]struct{}, len(e.pending))
		for n := range e.pending {
			pendingCopy[n] = struct{}{}
		}
		cp[addr] = perSender{current: e.current, pending: pendingCopy}
	}
	return &Snapshot{senders: cp}
}

// Current returns the committed nonce count for addr within the snapshot.
func (snap *Snapshot) Current(addr types.Address) uint64 {
	if e, ok := snap.senders[addr]; ok {
		return e.current
	}
	return 0
}

// Restore replaces the live tracker's contents with a snapshot.
func (t *Tracker) Restore(snap *Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := make(map[types.Address]*perSender, len(snap.senders))
	for addr, e := range snap.senders {
		pendingCopy := make(map[uint64]struct{}, len(e.pending))
		for n := range e.pending {
			pendingCopy[n] = struct{}{}
		}
		fresh[addr] = &perSender{current: e.current, pending: pendingCopy}
	}
	t.senders = fresh
}
