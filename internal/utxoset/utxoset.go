// Package utxoset implements the chain's UTXO set (spec §4.3): owned
// outputs, reservation-based double-spend prevention, apply/revert for
// block (dis)connection, and full-copy snapshots for reorg rollback.
// The set is the exclusive property of the chain state machine; the
// mempool never mutates it directly, it only calls Reserve/Release.
package utxoset

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"ledgerchain/internal/types"
)

// Error kinds from spec §7 "UTXO".
var (
	ErrUnknownInput    = errors.New("utxoset: unknown input")
	ErrAlreadySpent    = errors.New("utxoset: already spent")
	ErrAlreadyReserved = errors.New("utxoset: already reserved")
	ErrDuplicateInput  = errors.New("utxoset: duplicate input within transaction")
)

// Set is the mutex-guarded map of outputs, keyed by (txid, vout). All
// mutating operations run under the write lock; Snapshot gives readers a
// consistent, non-blocking view.
type Set struct {
	mu    sync.RWMutex
	utxos map[types.OutPoint]*types.UTXO
}

// New constructs an empty UTXO set.
func New() *Set {
	return &Set{utxos: make(map[types.OutPoint]*types.UTXO)}
}

// Get looks up a single output.
func (s *Set) Get(op types.OutPoint) (types.UTXO, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utxos[op]
	if !ok {
		return types.UTXO{}, false
	}
	return *u, true
}

// Reserve acquires a pending reservation on every input of tx, failing
// atomically (no state mutated) on duplicate, missing, spent, or
// already-reserved inputs.
func (s *Set) Reserve(tx *types.Transaction) (types.ReservationID, error) {
	seen := make(map[types.OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in]; dup {
			return types.ReservationID{}, ErrDuplicateInput
		}
		seen[in] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range tx.Inputs {
		u, ok := s.utxos[in]
		if !ok {
			return types.ReservationID{}, ErrUnknownInput
		}
		switch u.Status {
		case types.UTXOSpent:
			return types.ReservationID{}, ErrAlreadySpent
		case types.UTXOPending:
			return types.ReservationID{}, ErrAlreadyReserved
		}
	}

	var id types.ReservationID
	generated := uuid.New()
	copy(id[:], generated[:])
	for _, in := range tx.Inputs {
		u := s.utxos[in]
		u.Status = types.UTXOPending
		u.PendingRef = id
	}
	return id, nil
}

// Release clears every pending reservation tagged with id.
func (s *Set) Release(id types.ReservationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.utxos {
		if u.Status == types.UTXOPending && u.PendingRef == id {
			u.Status = types.UTXOUnspent
			u.PendingRef = types.ReservationID{}
		}
	}
}

// ApplyTx marks tx's inputs spent and inserts its outputs as new unspent
// entries. Idempotent per txid: calling it twice for the same tx has no
// further effect after the first call.
func (s *Set) ApplyTx(tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range tx.Inputs {
		u, ok := s.utxos[in]
		if !ok {
			return ErrUnknownInput
		}
		u.Status = types.UTXOSpent
		u.PendingRef = types.ReservationID{}
	}
	for idx, out := range tx.Outputs {
		op := types.OutPoint{TxID: tx.TxID, Vout: uint32(idx)}
		s.utxos[op] = &types.UTXO{
			TxID:   tx.TxID,
			Vout:   uint32(idx),
			Owner:  out.Address,
			Amount: out.Amount,
			Status: types.UTXOUnspent,
		}
	}
	return nil
}

// RevertTx undoes ApplyTx: deletes tx's outputs and restores its inputs to
// unspent. Used when disconnecting a block during a reorg.
func (s *Set) RevertTx(tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := range tx.Outputs {
		op := types.OutPoint{TxID: tx.TxID, Vout: uint32(idx)}
		delete(s.utxos, op)
	}
	for _, in := range tx.Inputs {
		u, ok := s.utxos[in]
		if !ok {
			return ErrUnknownInput
		}
		u.Status = types.UTXOUnspent
		u.PendingRef = types.ReservationID{}
	}
	return nil
}

// ForAddress returns every output owned by addr that is not spent,
// including outputs held pending by a reservation.
func (s *Set) ForAddress(addr types.Address) []types.UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.UTXO
	for _, u := range s.utxos {
		if u.Owner == addr && u.Status != types.UTXOSpent {
			out = append(out, *u)
		}
	}
	return out
}

// Balance sums unspent output amounts owned by addr.
func (s *Set) Balance(addr types.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, u := range s.utxos {
		if u.Owner == addr && u.Status == types.UTXOUnspent {
			total += u.Amount
		}
	}
	return total
}

// Snapshot is a read-only copy of the set at a point in time. Handles are
// independent of later mutations to the live set.
type Snapshot struct {
	utxos map[types.OutPoint]types.UTXO
}

// Snapshot copies every entry of the current set (O(n)) under the read lock.
// Readers hold the returned handle without blocking concurrent writers.
func (s *Set) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[types.OutPoint]types.UTXO, len(s.utxos))
	for k, v := range s.utxos {
		cp[k] = *v
	}
	return &Snapshot{utxos: cp}
}

// Get looks up an output within the snapshot.
func (snap *Snapshot) Get(op types.OutPoint) (types.UTXO, bool) {
	u, ok := snap.utxos[op]
	return u, ok
}

// Restore replaces the live set's contents with a snapshot, used to roll
// back a failed reorg to its pre-attempt state.
func (s *Set) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[types.OutPoint]*types.UTXO, len(snap.utxos))
	for k, v := range snap.utxos {
		cp := v
		fresh[k] = &cp
	}
	s.utxos = fresh
}

// TotalValue sums the amount of every unspent-or-pending output, the
// quantity the issuance-conservation invariant (spec §4.3) is stated over.
func (s *Set) TotalValue() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, u := range s.utxos {
		if u.Status != types.UTXOSpent {
			total += u.Amount
		}
	}
	return total
}
