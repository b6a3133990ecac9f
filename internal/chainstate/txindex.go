package chainstate

import (
	"sync"

	"ledgerchain/internal/types"
)

// txLocation pins a transaction to the block that currently contains it,
// kept in lockstep with the active chain the same way the address index is:
// appended on connect, stripped on disconnect.
type txLocation struct {
	height uint64
	index  int
}

// txIndex is the in-memory txid lookup table backing get_tx. It is not
// durably persisted; like the UTXO set and nonce tracker it is rebuilt by
// replayFromStorage on restart.
type txIndex struct {
	mu  sync.RWMutex
	loc map[types.Hash]txLocation
}

func newTxIndex() *txIndex {
	return &txIndex{loc: make(map[types.Hash]txLocation)}
}

func (t *txIndex) appendBlock(block *types.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, tx := range block.Transactions {
		t.loc[tx.TxID] = txLocation{height: block.Header.Height, index: i}
	}
}

func (t *txIndex) removeBlock(block *types.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tx := range block.Transactions {
		delete(t.loc, tx.TxID)
	}
}

func (t *txIndex) lookup(txid types.Hash) (txLocation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, ok := t.loc[txid]
	return loc, ok
}

// txIndexSnapshot is a point-in-time copy used by the reorg two-phase
// commit's Prepare phase, mirroring addressindex.Snapshot.
type txIndexSnapshot struct {
	loc map[types.Hash]txLocation
}

func (t *txIndex) snapshot() *txIndexSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[types.Hash]txLocation, len(t.loc))
	for k, v := range t.loc {
		cp[k] = v
	}
	return &txIndexSnapshot{loc: cp}
}

func (t *txIndex) restore(snap *txIndexSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := make(map[types.Hash]txLocation, len(snap.loc))
	for k, v := range snap.loc {
		fresh[k] = v
	}
	t.loc = fresh
}
