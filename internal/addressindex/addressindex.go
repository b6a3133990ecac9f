// Package addressindex implements the live, queryable per-address
// transaction history (spec §4.10). It is updated exclusively by the chain
// state machine inside its two-phase-commit connect path so that its state always equals
// on-chain state. The storage package does not keep these entries; after a
// restart the index is rebuilt by replaying the block log. This package is
// the index chain queries hit directly so history lookups never scan the
// chain.
package addressindex

import (
	"sort"
	"sync"

	"ledgerchain/internal/types"
)

// Index is the mutex-guarded per-address entry table.
type Index struct {
	mu      sync.RWMutex
	entries map[types.Address][]types.AddressIndexEntry
}

// New constructs an empty index.
func New() *Index {
	return &Index{entries: make(map[types.Address][]types.AddressIndexEntry)}
}

// AppendBlock records every transaction in block as address-index entries,
// one per output (received) and one per non-coinbase sender (sent).
func (idx *Index) AppendBlock(block *types.Block) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for txIndex, tx := range block.Transactions {
		for _, out := range tx.Outputs {
			idx.entries[out.Address] = append(idx.entries[out.Address], types.AddressIndexEntry{
				Address:     out.Address,
				BlockHeight: block.Header.Height,
				TxIndex:     txIndex,
				TxID:        tx.TxID,
				Direction:   types.DirReceived,
				Amount:      out.Amount,
				Timestamp:   block.Header.Timestamp,
			})
		}
		if !tx.Sender.IsZero() {
			idx.entries[tx.Sender] = append(idx.entries[tx.Sender], types.AddressIndexEntry{
				Address:     tx.Sender,
				BlockHeight: block.Header.Height,
				TxIndex:     txIndex,
				TxID:        tx.TxID,
				Direction:   types.DirSent,
				Amount:      tx.Amount,
				Timestamp:   block.Header.Timestamp,
			})
		}
	}
}

// RemoveBlock deletes every entry belonging to block, used when
// disconnecting it during a reorg.
func (idx *Index) RemoveBlock(block *types.Block) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	txids := make(map[types.Hash]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		txids[tx.TxID] = struct{}{}
	}
	for addr, entries := range idx.entries {
		filtered := entries[:0]
		for _, e := range entries {
			if _, dropped := txids[e.TxID]; !dropped {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(idx.entries, addr)
		} else {
			idx.entries[addr] = filtered
		}
	}
}

// Query returns up to limit entries for addr ordered by (height desc,
// tx_index desc), skipping the first offset matches.
func (idx *Index) Query(addr types.Address, offset, limit int) []types.AddressIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entries := append([]types.AddressIndexEntry(nil), idx.entries[addr]...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BlockHeight != entries[j].BlockHeight {
			return entries[i].BlockHeight > entries[j].BlockHeight
		}
		return entries[i].TxIndex > entries[j].TxIndex
	})
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// Snapshot is a point-in-time copy used by the reorg two-phase commit's
// Prepare phase.
type Snapshot struct {
	entries map[types.Address][]types.AddressIndexEntry
}

// Snapshot copies the index for rollback.
func (idx *Index) Snapshot() *Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cp := make(map[types.Address][]types.AddressIndexEntry, len(idx.entries))
	for addr, entries := range idx.entries {
		cp[addr] = append([]types.AddressIndexEntry(nil), entries...)
	}
	return &Snapshot{entries: cp}
}

// Restore replaces the live index's contents with a snapshot, rolling back
// a failed reorg.
func (idx *Index) Restore(snap *Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	fresh := make(map[types.Address][]types.AddressIndexEntry, len(snap.entries))
	for addr, entries := range snap.entries {
		fresh[addr] = append([]types.AddressIndexEntry(nil), entries...)
	}
	idx.entries = fresh
}
