// Package mempool implements the fee-priority transaction pool (spec §4.5):
// admission with nonce and UTXO reservation, fee-priority selection for
// block assembly with a simplified child-pays-for-parent boost, replace-by-
// fee, a capacity-bounded size cap with lowest-package-rate eviction, and
// time-based eviction with tombstone tracking so a just-evicted transaction
// is not silently re-admitted.
//
// Grounded on the teacher's txPriorityQueue/TxPool pair (core/transactions.go):
// this package keeps the heap-ordered priority queue shape but replaces the
// FIFO admission/eviction policy with one driven by the chain's UTXO and
// nonce reservation primitives.
package mempool

import (
	"container/heap"
	"errors"
	"sort"
	"sync"

	"ledgerchain/internal/noncetracker"
	"ledgerchain/internal/types"
	"ledgerchain/internal/utxoset"
)

// Error kinds from spec §7 "Mempool".
var (
	ErrDuplicate              = errors.New("mempool: transaction already admitted")
	ErrTombstoned             = errors.New("mempool: transaction recently evicted")
	ErrReplacementUnderpriced = errors.New("mempool: replacement fee rate not higher than original")
	ErrNotFound               = errors.New("mempool: transaction not found")
	ErrFull                   = errors.New("mempool: at capacity and no lower-fee entry to evict")
)

type entry struct {
	tx          *types.Transaction
	reservation types.ReservationID
	insertedAt  uint64
	heapIndex   int
}

// priorityQueue orders entries by fee-per-byte, descending, breaking ties in
// favour of the earlier-admitted entry (FIFO among equal-fee transactions).
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	fi, fj := pq[i].tx.FeePerByte(), pq[j].tx.FeePerByte()
	if fi != fj {
		return fi > fj
	}
	return pq[i].insertedAt < pq[j].insertedAt
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].heapIndex, pq[j].heapIndex = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	e := x.(*entry)
	e.heapIndex = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*pq = old[:n-1]
	return e
}

// Pool is the mutex-guarded mempool. It never mutates the UTXO set or nonce
// tracker's committed state directly, it only holds reservations against
// them until a block confirms or evicts its entries.
type Pool struct {
	mu sync.Mutex

	utxos  *utxoset.Set
	nonces *noncetracker.Tracker

	byTxID        map[types.Hash]*entry
	bySenderNonce map[types.Address]map[uint64]*entry
	pq            priorityQueue

	tombstones   map[types.Hash]uint64
	tombstoneTTL uint64
	maxAge       uint64

	maxBytes   int
	totalBytes int
}

// New constructs an empty pool bound to a chain's UTXO set and nonce
// tracker. tombstoneTTL and maxAge are expressed in the same time unit the
// caller passes to Admit/Expire (unix seconds in the node facade). maxBytes
// is the total encoded-size capacity of the pool (spec §4.5's size cap); a
// value of 0 or less disables the cap.
func New(utxos *utxoset.Set, nonces *noncetracker.Tracker, tombstoneTTL, maxAge uint64, maxBytes int) *Pool {
	return &Pool{
		utxos:         utxos,
		nonces:        nonces,
		byTxID:        make(map[types.Hash]*entry),
		bySenderNonce: make(map[types.Address]map[uint64]*entry),
		tombstones:    make(map[types.Hash]uint64),
		tombstoneTTL:  tombstoneTTL,
		maxAge:        maxAge,
		maxBytes:      maxBytes,
	}
}

// Admit validates reservation-level admission rules (not stateless/
// contextual validation, which the validator package runs beforehand) and
// inserts tx into the pool: duplicate detection, tombstone rejection,
// replace-by-fee against any existing same-sender-same-nonce entry, nonce
// reservation, and UTXO input reservation.
func (p *Pool) Admit(tx *types.Transaction, now uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byTxID[tx.TxID]; ok {
		return ErrDuplicate
	}
	if evictedAt, tombstoned := p.tombstones[tx.TxID]; tombstoned {
		if now-evictedAt < p.tombstoneTTL {
			return ErrTombstoned
		}
		delete(p.tombstones, tx.TxID)
	}

	if existing, ok := p.bySenderNonce[tx.Sender][tx.AccountNonce]; ok {
		if tx.FeePerByte() <= existing.tx.FeePerByte() {
			return ErrReplacementUnderpriced
		}
		p.removeLocked(existing)
	}

	if err := p.nonces.CheckAndReserve(tx.Sender, tx.AccountNonce); err != nil {
		return err
	}

	resID, err := p.utxos.Reserve(tx)
	if err != nil {
		p.nonces.Release(tx.Sender, tx.AccountNonce)
		return err
	}

	e := &entry{tx: tx, reservation: resID, insertedAt: now}
	p.insertLocked(e)

	if p.maxBytes > 0 && p.totalBytes > p.maxBytes {
		p.evictToCapacityLocked(now)
		if _, stillPresent := p.byTxID[tx.TxID]; !stillPresent {
			return ErrFull
		}
	}
	return nil
}

// insertLocked adds e to every index and the priority queue, and accounts
// its encoded size against the pool's capacity. Caller must hold p.mu.
func (p *Pool) insertLocked(e *entry) {
	p.byTxID[e.tx.TxID] = e
	if p.bySenderNonce[e.tx.Sender] == nil {
		p.bySenderNonce[e.tx.Sender] = make(map[uint64]*entry)
	}
	p.bySenderNonce[e.tx.Sender][e.tx.AccountNonce] = e
	heap.Push(&p.pq, e)
	p.totalBytes += e.tx.EncodedSize()
}

// removeLocked detaches e from every index and releases its reservations.
// Caller must hold p.mu.
func (p *Pool) removeLocked(e *entry) {
	delete(p.byTxID, e.tx.TxID)
	if bySender, ok := p.bySenderNonce[e.tx.Sender]; ok {
		delete(bySender, e.tx.AccountNonce)
		if len(bySender) == 0 {
			delete(p.bySenderNonce, e.tx.Sender)
		}
	}
	if e.heapIndex >= 0 {
		heap.Remove(&p.pq, e.heapIndex)
	}
	p.utxos.Release(e.reservation)
	p.nonces.Release(e.tx.Sender, e.tx.AccountNonce)
	p.totalBytes -= e.tx.EncodedSize()
}

// Remove evicts a transaction by id, releasing its reservations and
// tombstoning it so it cannot be re-admitted until the tombstone expires.
func (p *Pool) Remove(txid types.Hash, now uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byTxID[txid]
	if !ok {
		return ErrNotFound
	}
	p.removeLocked(e)
	p.tombstones[txid] = now
	return nil
}

// OnBlockConfirmed removes the given transactions from the pool without
// releasing their UTXO reservations (the chain state machine has already
// applied them) and commits their nonces so later-nonce pool entries from
// the same sender remain admissible.
func (p *Pool) OnBlockConfirmed(txs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		if e, ok := p.byTxID[tx.TxID]; ok {
			delete(p.byTxID, tx.TxID)
			if bySender, ok := p.bySenderNonce[tx.Sender]; ok {
				delete(bySender, tx.AccountNonce)
				if len(bySender) == 0 {
					delete(p.bySenderNonce, tx.Sender)
				}
			}
			if e.heapIndex >= 0 {
				heap.Remove(&p.pq, e.heapIndex)
			}
		}
		_ = p.nonces.Commit(tx.Sender, tx.AccountNonce)
	}
}

// Expire evicts every entry older than maxAge (measured against now),
// releasing reservations and tombstoning each one.
func (p *Pool) Expire(now uint64) []types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []types.Hash
	for txid, e := range p.byTxID {
		if now-e.insertedAt >= p.maxAge {
			expired = append(expired, txid)
		}
	}
	for _, txid := range expired {
		e := p.byTxID[txid]
		p.removeLocked(e)
		p.tombstones[txid] = now
	}
	return expired
}

// CompactTombstones purges tombstone records older than the TTL, a periodic
// garbage-collection step so the tombstone table does not grow without
// bound.
func (p *Pool) CompactTombstones(now uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for txid, evictedAt := range p.tombstones {
		if now-evictedAt >= p.tombstoneTTL {
			delete(p.tombstones, txid)
		}
	}
}

// Size returns the number of transactions currently held.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byTxID)
}

// Get returns a pending transaction by id.
func (p *Pool) Get(txid types.Hash) (*types.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byTxID[txid]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// packageRate computes the child-pays-for-parent adjusted priority for every
// pending entry of one sender: a low-fee ancestor inherits the fee rate of
// its highest-paying, contiguously-pending descendant so it cannot be
// starved out of a block while its child pays handsomely for inclusion.
func packageRate(bySenderNonce map[uint64]*entry) map[uint64]float64 {
	nonces := make([]uint64, 0, len(bySenderNonce))
	for n := range bySenderNonce {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	rates := make(map[uint64]float64, len(nonces))
	var cumFee, cumSize float64
	for i := len(nonces) - 1; i >= 0; i-- {
		n := nonces[i]
		e := bySenderNonce[n]
		if i < len(nonces)-1 && nonces[i+1] != n+1 {
			// Not contiguous with the descendant already accumulated;
			// start a fresh suffix run from this entry.
			cumFee, cumSize = 0, 0
		}
		cumFee += float64(e.tx.Fee)
		cumSize += float64(e.tx.EncodedSize())
		if cumSize == 0 {
			rates[n] = 0
			continue
		}
		rates[n] = cumFee / cumSize
	}
	return rates
}

// packageRatesLocked computes the child-pays-for-parent package rate for
// every pending transaction, keyed by txid. Caller must hold p.mu.
func (p *Pool) packageRatesLocked() map[types.Hash]float64 {
	rates := make(map[types.Hash]float64, len(p.byTxID))
	for _, bySender := range p.bySenderNonce {
		for n, rate := range packageRate(bySender) {
			rates[bySender[n].tx.TxID] = rate
		}
	}
	return rates
}

// evictToCapacityLocked drops the lowest package-rate entries, tombstoning
// each, until the pool's total encoded size is back under maxBytes (spec
// §4.5's eviction policy). Package-rate ranking means a low-fee parent with
// a high-paying child is evicted only after every standalone low-fee entry,
// preserving CPFP chains. Caller must hold p.mu.
func (p *Pool) evictToCapacityLocked(now uint64) {
	for p.totalBytes > p.maxBytes && len(p.byTxID) > 0 {
		rates := p.packageRatesLocked()
		var victim *entry
		for _, e := range p.byTxID {
			if victim == nil {
				victim = e
				continue
			}
			rv, rc := rates[victim.tx.TxID], rates[e.tx.TxID]
			if rc < rv || (rc == rv && e.insertedAt < victim.insertedAt) {
				victim = e
			}
		}
		p.removeLocked(victim)
		p.tombstones[victim.tx.TxID] = now
	}
}

// SelectForBlock greedily assembles a candidate transaction list within
// maxBytes, honouring per-sender nonce order (a transaction is only
// selectable once every lower, still-pending nonce from the same sender has
// been selected) and ranking by child-pays-for-parent package rate.
func (p *Pool) SelectForBlock(maxBytes int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	rates := p.packageRatesLocked()

	candidates := make([]*entry, 0, len(p.byTxID))
	for _, e := range p.byTxID {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := rates[candidates[i].tx.TxID], rates[candidates[j].tx.TxID]
		if ri != rj {
			return ri > rj
		}
		return candidates[i].insertedAt < candidates[j].insertedAt
	})

	selected := make(map[types.Hash]bool, len(candidates)) // included in the block
	done := make(map[types.Hash]bool, len(candidates))     // included or permanently skipped
	var out []*types.Transaction
	remaining := maxBytes

	for {
		progressed := false
		for _, e := range candidates {
			if done[e.tx.TxID] {
				continue
			}
			if !p.readyLocked(e, selected) {
				continue
			}
			size := e.tx.EncodedSize()
			if size > remaining {
				done[e.tx.TxID] = true // too large to ever fit, skip for good
				progressed = true
				continue
			}
			out = append(out, e.tx)
			selected[e.tx.TxID] = true
			done[e.tx.TxID] = true
			remaining -= size
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// readyLocked reports whether every lower pending nonce of e's sender has
// already been selected for the block (or was never pending). Caller must
// hold p.mu.
func (p *Pool) readyLocked(e *entry, selected map[types.Hash]bool) bool {
	bySender, ok := p.bySenderNonce[e.tx.Sender]
	if !ok {
		return true
	}
	for n, other := range bySender {
		if n < e.tx.AccountNonce && !selected[other.tx.TxID] {
			return false
		}
	}
	return true
}
