package chainstate

import (
	"fmt"

	"ledgerchain/internal/consensus"
	"ledgerchain/internal/events"
	"ledgerchain/internal/types"
	"ledgerchain/internal/validator"
)

// AddBlock accepts a block that has already passed stateless validation and
// decides whether to extend the active tip, track it as an alternate branch
// head, reorganize onto it, or defer it as an orphan (spec §4.8 add_block).
func (cs *ChainState) AddBlock(block *types.Block) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.addBlockLocked(block)
}

func (cs *ChainState) addBlockLocked(block *types.Block) error {
	height := block.Header.Height

	if cs.hasTip && cs.reorgDepthLimit > 0 && cs.tip.Height >= cs.reorgDepthLimit {
		finalized := cs.tip.Height - cs.reorgDepthLimit
		if height <= finalized {
			cs.sink.EmitSecurity("reorg_too_deep", map[string]interface{}{"height": height, "finalized": finalized})
			return ErrReorgTooDeep
		}
	}

	if !cs.hasTip {
		if height != 0 || !block.Header.PrevHash.IsZero() {
			return ErrBadGenesis
		}
		work, err := consensus.WorkFromBits(block.Header.DifficultyBits)
		if err != nil {
			return fmt.Errorf("genesis work: %w", err)
		}
		block.CumulativeWork = consensus.AddWork([32]byte{}, work)
		newTip := types.ChainTip{Hash: headerHash(block), Height: 0, CumulativeWork: block.CumulativeWork}
		if err := cs.connect(nil, []*types.Block{block}, newTip); err != nil {
			return err
		}
		cs.cascadePendingFrom(newTip.Hash)
		return nil
	}

	if block.Header.PrevHash == cs.tip.Hash {
		work, err := consensus.WorkFromBits(block.Header.DifficultyBits)
		if err != nil {
			return fmt.Errorf("work from bits: %w", err)
		}
		block.CumulativeWork = consensus.AddWork(cs.tip.CumulativeWork, work)
		newTip := types.ChainTip{Hash: headerHash(block), Height: height, CumulativeWork: block.CumulativeWork}
		if err := cs.contextuallyValidate(block, cs.tip); err != nil {
			cs.sink.Emit(events.Event{Kind: events.KindBlockRejected, Attributes: map[string]interface{}{
				"height": height, "hash": newTip.Hash.String(), "reason": err.Error(),
			}})
			return err
		}
		if err := cs.connect(nil, []*types.Block{block}, newTip); err != nil {
			return err
		}
		cs.cascadePendingFrom(newTip.Hash)
		return nil
	}

	parentWork, parentHash, ok := cs.lookupParentWork(block.Header.PrevHash)
	if !ok {
		cs.pending.put(headerHash(block), block)
		return ErrOrphan
	}

	work, err := consensus.WorkFromBits(block.Header.DifficultyBits)
	if err != nil {
		return fmt.Errorf("work from bits: %w", err)
	}
	block.CumulativeWork = consensus.AddWork(parentWork, work)
	newTip := types.ChainTip{Hash: headerHash(block), Height: height, CumulativeWork: block.CumulativeWork}

	cs.pending.put(newTip.Hash, block)
	delete(cs.branchHeads, parentHash)

	if !consensus.CumulativeWorkGreater(newTip.CumulativeWork, cs.tip.CumulativeWork) {
		cs.branchHeads[newTip.Hash] = newTip
		return nil
	}

	return cs.reorganizeTo(newTip)
}

// lookupParentWork finds the cumulative work of a known parent, either on
// the active chain (in storage) or on a pending alternate branch, so a new
// block's candidate work can be computed without trusting its own claim.
func (cs *ChainState) lookupParentWork(parentHash types.Hash) (work [32]byte, hash types.Hash, ok bool) {
	if b, found := cs.pending.get(parentHash); found {
		return b.CumulativeWork, parentHash, true
	}
	if b, err := cs.store.GetBlockByHash(parentHash); err == nil {
		return b.CumulativeWork, parentHash, true
	}
	return [32]byte{}, types.Hash{}, false
}

func (cs *ChainState) contextuallyValidate(block *types.Block, parentTip types.ChainTip) error {
	medianTime := cs.medianAncestorTime(parentTip.Height, cs.hasTip)
	return validator.ContextualCheckBlock(block, block.Header.Height, medianTime, cs.clock(), cs.utxos.Snapshot(), cs.nonces.Snapshot(), cs.params)
}

// cascadePendingFrom connects any pending blocks whose parent is hash,
// recursively, now that hash itself is connected.
func (cs *ChainState) cascadePendingFrom(hash types.Hash) {
	for _, child := range cs.pending.take(hash) {
		_ = cs.addBlockLocked(child)
	}
}
