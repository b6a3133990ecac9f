package chainstate

import (
	"fmt"

	"ledgerchain/internal/consensus"
	"ledgerchain/internal/events"
	"ledgerchain/internal/storage"
	"ledgerchain/internal/types"
	"ledgerchain/internal/validator"
)

// reorganizeTo walks back from newTip to the common ancestor with the
// current active chain, then hands the disconnect/connect lists to connect.
func (cs *ChainState) reorganizeTo(newTip types.ChainTip) error {
	connectBlocks, ancestorHash, ancestorHeight, err := cs.collectBranch(newTip.Hash)
	if err != nil {
		return fmt.Errorf("collect branch: %w", err)
	}

	disconnectBlocks, err := cs.collectActiveChainAbove(ancestorHeight, ancestorHash)
	if err != nil {
		return fmt.Errorf("collect active chain: %w", err)
	}

	if err := cs.connect(disconnectBlocks, connectBlocks, newTip); err != nil {
		return err
	}
	cs.cascadePendingFrom(newTip.Hash)
	return nil
}

// collectBranch walks backward from tipHash through the pending pool until
// it reaches a block already connected (present in storage), returning the
// branch's blocks in bottom-up (connect) order plus the common ancestor's
// hash and height.
func (cs *ChainState) collectBranch(tipHash types.Hash) (blocks []*types.Block, ancestorHash types.Hash, ancestorHeight uint64, err error) {
	var topDown []*types.Block
	cur := tipHash
	for {
		if b, ok := cs.pending.get(cur); ok {
			topDown = append(topDown, b)
			cur = b.Header.PrevHash
			continue
		}
		ancestor, gerr := cs.store.GetBlockByHash(cur)
		if gerr != nil {
			return nil, types.Hash{}, 0, fmt.Errorf("ancestor %s not connected: %w", cur.String(), gerr)
		}
		ancestorHash = cur
		ancestorHeight = ancestor.Header.Height
		break
	}
	blocks = make([]*types.Block, len(topDown))
	for i, b := range topDown {
		blocks[len(topDown)-1-i] = b
	}
	return blocks, ancestorHash, ancestorHeight, nil
}

// collectActiveChainAbove returns every currently-connected block above
// ancestorHeight, in top-down order (tip first), by walking the active
// chain's PrevHash links backward from the current tip.
func (cs *ChainState) collectActiveChainAbove(ancestorHeight uint64, ancestorHash types.Hash) ([]*types.Block, error) {
	var out []*types.Block
	cur := cs.tip.Hash
	for {
		b, err := cs.store.GetBlockByHash(cur)
		if err != nil {
			return nil, fmt.Errorf("active chain block %s: %w", cur.String(), err)
		}
		if cur == ancestorHash || b.Header.Height <= ancestorHeight {
			break
		}
		out = append(out, b)
		cur = b.Header.PrevHash
	}
	return out, nil
}

// connect is the two-phase-commit core shared by EXTEND (disconnect == nil)
// and REORG. disconnect is top-down (highest block first); connectList is
// bottom-up (lowest block first).
func (cs *ChainState) connect(disconnect []*types.Block, connectList []*types.Block, newTip types.ChainTip) error {
	utxoSnap := cs.utxos.Snapshot()
	nonceSnap := cs.nonces.Snapshot()
	addrSnap := cs.addrIdx.Snapshot()
	txSnap := cs.txIdx.snapshot()
	oldTip := cs.tip

	rec := reorgRecord{OldTip: oldTip.Hash, NewTip: newTip.Hash}
	for _, d := range disconnect {
		rec.Disconnect = append(rec.Disconnect, headerHash(d))
		if loc, ok := cs.store.Locate(d.Header.Height); ok {
			rec.DisconnectLocations = append(rec.DisconnectLocations, journaledLocation{
				Hash: headerHash(d), Height: d.Header.Height, FileID: loc.FileID, Offset: loc.Offset,
			})
		}
	}
	for _, c := range connectList {
		rec.Connect = append(rec.Connect, headerHash(c))
	}
	if _, err := cs.wal.append(kindReorgBegin, rec); err != nil {
		return fmt.Errorf("journal reorg begin: %w", err)
	}

	if err := cs.executeConnect(disconnect, connectList); err != nil {
		cs.utxos.Restore(utxoSnap)
		cs.nonces.Restore(nonceSnap)
		cs.addrIdx.Restore(addrSnap)
		cs.txIdx.restore(txSnap)
		if _, walErr := cs.wal.append(kindReorgAbort, rec); walErr != nil {
			cs.logger.WithError(walErr).Error("failed to journal reorg abort")
		}
		cs.sink.Emit(events.Event{Kind: events.KindReorgAborted, Attributes: map[string]interface{}{
			"old_tip": oldTip.Hash.String(), "attempted_tip": newTip.Hash.String(), "reason": err.Error(),
		}})
		return err
	}

	if _, err := cs.wal.append(kindReorgCommit, rec); err != nil {
		cs.logger.WithError(err).Error("failed to journal reorg commit")
	}

	cs.tip = newTip
	cs.hasTip = true

	for _, c := range connectList {
		cs.journalCheckpointIfDue(c)
	}

	for _, d := range disconnect {
		for _, tx := range d.Transactions {
			_ = cs.mempool.Admit(tx, tx.Timestamp)
		}
	}
	for _, c := range connectList {
		cs.mempool.OnBlockConfirmed(c.Transactions)
	}

	if len(disconnect) == 0 {
		cs.sink.Emit(events.Event{Kind: events.KindBlockConnected, Attributes: map[string]interface{}{
			"height": newTip.Height, "hash": newTip.Hash.String(),
		}})
	} else {
		cs.sink.Emit(events.Event{Kind: events.KindChainReorganized, Attributes: map[string]interface{}{
			"from": oldTip.Hash.String(), "to": newTip.Hash.String(),
			"disconnected": len(disconnect), "connected": len(connectList),
		}})
	}
	return nil
}

// journalCheckpointIfDue writes a CHECKPOINT record every
// consensus.CheckpointInterval blocks, pinning a recovery point for operator
// tooling (spec §4.8). A failure to journal it is logged but does not fail
// the connect, since the checkpoint is advisory rather than load-bearing.
func (cs *ChainState) journalCheckpointIfDue(c *types.Block) {
	if c.Header.Height%consensus.CheckpointInterval != 0 {
		return
	}
	ckpt := checkpointRecord{Height: c.Header.Height, Hash: headerHash(c)}
	if _, err := cs.wal.append(kindCheckpoint, ckpt); err != nil {
		cs.logger.WithError(err).Error("failed to journal checkpoint")
	}
}

// executeConnect performs Phase 2: disconnect top-down, connect bottom-up.
// It mutates the live UTXO set, nonce tracker, address index, and storage
// index directly; the caller restores from snapshots on error.
func (cs *ChainState) executeConnect(disconnect []*types.Block, connectList []*types.Block) error {
	for _, d := range disconnect {
		if err := cs.revertConnectedBlock(d); err != nil {
			return fmt.Errorf("revert block %d: %w", d.Header.Height, err)
		}
		cs.store.RemoveBlockIndex(d)
	}

	for _, c := range connectList {
		if err := cs.contextuallyValidateEvolving(c); err != nil {
			return err
		}
		if err := cs.applyConnectedBlock(c); err != nil {
			return fmt.Errorf("apply block %d: %w", c.Header.Height, err)
		}
		if err := cs.store.PutBlock(c); err != nil {
			return fmt.Errorf("%w: persist block %d", err, c.Header.Height)
		}
	}
	return nil
}

func (cs *ChainState) contextuallyValidateEvolving(block *types.Block) error {
	var parentHeight uint64
	hasParent := block.Header.Height > 0
	if hasParent {
		parentHeight = block.Header.Height - 1
	}
	medianTime := cs.medianAncestorTime(parentHeight, hasParent)
	return validator.ContextualCheckBlock(block, block.Header.Height, medianTime, cs.clock(), cs.utxos.Snapshot(), cs.nonces.Snapshot(), cs.params)
}

// recoverFromWAL scans the reorg log for an uncommitted REORG_BEGIN left by
// a crash mid-reorg, restoring the disconnect set's index entries and
// stripping any connect-set entries that made it into the index before the
// crash, then journals a REORG_ABORT to close out the record. Deterministic
// by construction: the journaled disconnect locations are exact on-disk
// offsets captured before anything was mutated.
func (cs *ChainState) recoverFromWAL() error {
	records, err := cs.wal.scan()
	if err != nil {
		return err
	}

	var pendingBegin *reorgRecord
	for _, r := range records {
		switch r.kind {
		case kindReorgBegin:
			rec, derr := decodeReorgRecord(r.payload)
			if derr != nil {
				return derr
			}
			pendingBegin = &rec
		case kindReorgCommit, kindReorgAbort:
			pendingBegin = nil
		}
	}
	if pendingBegin == nil {
		return nil
	}

	cs.logger.Warn("recovering from uncommitted reorg record, rolling back")

	for _, cHash := range pendingBegin.Connect {
		block, gerr := cs.store.GetBlockByHash(cHash)
		if gerr != nil {
			continue // never made it into the index before the crash
		}
		cs.store.RemoveBlockIndex(block)
	}
	for _, loc := range pendingBegin.DisconnectLocations {
		block, rerr := cs.store.ReadAt(storage.BlockLocation{FileID: loc.FileID, Offset: loc.Offset})
		if rerr != nil {
			return fmt.Errorf("re-read disconnected block at recovery: %w", rerr)
		}
		cs.store.RestoreBlockIndex(block, storage.BlockLocation{FileID: loc.FileID, Offset: loc.Offset})
	}

	if _, err := cs.wal.append(kindReorgAbort, *pendingBegin); err != nil {
		return fmt.Errorf("journal recovery abort: %w", err)
	}
	return nil
}
