package chainstate

import "ledgerchain/internal/types"

// pendingPool holds blocks that cannot yet be connected to the active
// chain: either their parent is completely unknown (a true orphan) or their
// parent is known but sits on an alternate, not-yet-reorganized branch. Both
// cases are handled the same way: the block body is held in memory until a
// later add_block either connects it (EXTEND/REORG) or the pool evicts it
// for capacity.
type pendingPool struct {
	capacity int
	byHash   map[types.Hash]*types.Block
	children map[types.Hash][]types.Hash // parent hash -> blocks waiting on it
	order    []types.Hash                // insertion order, oldest first
}

func newPendingPool(capacity int) *pendingPool {
	if capacity <= 0 {
		capacity = 1024
	}
	return &pendingPool{
		capacity: capacity,
		byHash:   make(map[types.Hash]*types.Block),
		children: make(map[types.Hash][]types.Hash),
	}
}

func (p *pendingPool) put(hash types.Hash, block *types.Block) {
	if _, exists := p.byHash[hash]; exists {
		return
	}
	if len(p.order) >= p.capacity {
		p.evictOldest()
	}
	p.byHash[hash] = block
	p.order = append(p.order, hash)
	parent := block.Header.PrevHash
	p.children[parent] = append(p.children[parent], hash)
}

func (p *pendingPool) evictOldest() {
	if len(p.order) == 0 {
		return
	}
	oldest := p.order[0]
	p.order = p.order[1:]
	if b, ok := p.byHash[oldest]; ok {
		parent := b.Header.PrevHash
		p.children[parent] = removeHash(p.children[parent], oldest)
	}
	delete(p.byHash, oldest)
}

func (p *pendingPool) get(hash types.Hash) (*types.Block, bool) {
	b, ok := p.byHash[hash]
	return b, ok
}

// take removes and returns every block directly waiting on parentHash.
func (p *pendingPool) take(parentHash types.Hash) []*types.Block {
	hashes := p.children[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	delete(p.children, parentHash)
	out := make([]*types.Block, 0, len(hashes))
	for _, h := range hashes {
		if b, ok := p.byHash[h]; ok {
			out = append(out, b)
			delete(p.byHash, h)
		}
		p.order = removeHash(p.order, h)
	}
	return out
}

func removeHash(hashes []types.Hash, target types.Hash) []types.Hash {
	out := hashes[:0]
	for _, h := range hashes {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}
