// Package chainstate implements the chain state machine (spec §4.8): the
// single logical writer that decides, for every incoming block, whether to
// extend the active tip, track it as an alternate branch head, or reorganize
// onto it, and that keeps the UTXO set, nonce tracker, and address index in
// lockstep with whatever chain is currently active. Every tip change, extend
// or reorg alike, goes through the same two-phase-commit path: Prepare
// snapshots the mutable participants and journals the operation to
// wal/reorg.log, Execute applies it, and a failure anywhere in Execute rolls
// every participant back to its Prepare-time snapshot. This mirrors the
// teacher's own applyBlock/WAL discipline in core/ledger.go, generalized
// from a single-chain append to the branch/reorg state machine the
// specification requires.
package chainstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ledgerchain/internal/addressindex"
	"ledgerchain/internal/codec"
	"ledgerchain/internal/consensus"
	"ledgerchain/internal/events"
	"ledgerchain/internal/mempool"
	"ledgerchain/internal/noncetracker"
	"ledgerchain/internal/primitives"
	"ledgerchain/internal/storage"
	"ledgerchain/internal/types"
	"ledgerchain/internal/utxoset"
	"ledgerchain/internal/validator"
)

// Error kinds from spec §7 "Chain State".
var (
	ErrReorgTooDeep   = errors.New("chainstate: reorg exceeds depth limit")
	ErrOrphan         = errors.New("chainstate: parent unknown, block held as orphan")
	ErrBadGenesis     = errors.New("chainstate: first block must be height 0 with zero prev hash")
	ErrAlreadyHaveTip = errors.New("chainstate: genesis rejected, chain already has a tip")
)

const medianTimeWindow = 11

// Config wires every participant the chain state machine serializes writes
// across.
type Config struct {
	DataDir              string
	BlockCacheEntries    int
	CompressDepth        uint64
	ReorgDepthLimit      uint64
	MaxPendingBlocks     int
	ValidatorParams      validator.Params
	MempoolTombstoneTTL  uint64
	MempoolMaxAge        uint64
	MempoolCapacityBytes int
	Sink                 events.Sink
	Logger               *logrus.Logger
	// Clock returns the current wall-clock time as a unix timestamp, used
	// for the validator's future-timestamp clock-skew check. Tests supply
	// a deterministic fake; production wires time.Now().Unix().
	Clock func() uint64
}

// ChainState is the mutex-guarded chain state machine. All mutating
// operations are serialized through its single mutex, matching the
// "single logical writer" scheduling model. Balance, History, the block
// lookups and Transaction do not take it: they read the live UTXO set,
// address index, txid index and block store under those structures' own
// locks. Tip does take it.
type ChainState struct {
	mu sync.Mutex

	store   *storage.Store
	wal     *reorgWAL
	utxos   *utxoset.Set
	nonces  *noncetracker.Tracker
	addrIdx *addressindex.Index
	txIdx   *txIndex
	mempool *mempool.Pool
	sink    events.Sink
	logger  *logrus.Logger
	clock   func() uint64

	params          validator.Params
	reorgDepthLimit uint64

	pending     *pendingPool
	branchHeads map[types.Hash]types.ChainTip

	tip    types.ChainTip
	hasTip bool
}

// Open constructs a chain state machine, opening durable storage and the
// reorg WAL, replaying every connected block to rebuild the in-memory UTXO
// set, nonce tracker, and address index, and recovering from a crash that
// interrupted a reorg mid-flight.
func Open(cfg Config) (*ChainState, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	store, err := storage.Open(cfg.DataDir, cfg.BlockCacheEntries, cfg.CompressDepth, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	wal, err := openReorgWAL(store.WALDir())
	if err != nil {
		return nil, fmt.Errorf("open reorg wal: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() uint64 { return 0 }
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.NewLogrusSink(logger)
	}

	utxos := utxoset.New()
	nonces := noncetracker.New()

	cs := &ChainState{
		store:           store,
		wal:             wal,
		utxos:           utxos,
		nonces:          nonces,
		addrIdx:         addressindex.New(),
		txIdx:           newTxIndex(),
		mempool:         mempool.New(utxos, nonces, cfg.MempoolTombstoneTTL, cfg.MempoolMaxAge, cfg.MempoolCapacityBytes),
		sink:            sink,
		logger:          logger,
		clock:           clock,
		params:          cfg.ValidatorParams,
		reorgDepthLimit: cfg.ReorgDepthLimit,
		pending:         newPendingPool(cfg.MaxPendingBlocks),
		branchHeads:     make(map[types.Hash]types.ChainTip),
	}

	if err := cs.recoverFromWAL(); err != nil {
		return nil, fmt.Errorf("recover reorg wal: %w", err)
	}
	if err := cs.replayFromStorage(); err != nil {
		return nil, fmt.Errorf("replay storage: %w", err)
	}
	return cs, nil
}

// Tip returns the current active chain tip.
func (cs *ChainState) Tip() (types.ChainTip, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.tip, cs.hasTip
}

// Mempool returns the transaction pool backing this chain state, sharing
// the same UTXO set and nonce tracker so admission reservations and block
// connection stay consistent.
func (cs *ChainState) Mempool() *mempool.Pool {
	return cs.mempool
}

// Balance serves get_balance against the live UTXO set.
func (cs *ChainState) Balance(addr types.Address) uint64 {
	return cs.utxos.Balance(addr)
}

// History serves get_history against the live address index.
func (cs *ChainState) History(addr types.Address, offset, limit int) []types.AddressIndexEntry {
	return cs.addrIdx.Query(addr, offset, limit)
}

// BlockByHeight and BlockByHash serve get_block.
func (cs *ChainState) BlockByHeight(height uint64) (*types.Block, error) {
	return cs.store.GetBlockByHeight(height)
}

func (cs *ChainState) BlockByHash(hash types.Hash) (*types.Block, error) {
	return cs.store.GetBlockByHash(hash)
}

// Transaction serves get_tx: the containing block's height plus the
// transaction itself, looked up through the in-memory txid index kept in
// lockstep with the active chain.
func (cs *ChainState) Transaction(txid types.Hash) (*types.Transaction, uint64, error) {
	loc, ok := cs.txIdx.lookup(txid)
	if !ok {
		return nil, 0, fmt.Errorf("chainstate: unknown transaction %s", txid.String())
	}
	block, err := cs.store.GetBlockByHeight(loc.height)
	if err != nil {
		return nil, 0, fmt.Errorf("load block for tx %s: %w", txid.String(), err)
	}
	if loc.index >= len(block.Transactions) {
		return nil, 0, fmt.Errorf("chainstate: tx index out of range for %s", txid.String())
	}
	return block.Transactions[loc.index], loc.height, nil
}

func headerHash(block *types.Block) types.Hash {
	return primitives.H256(codec.EncodeBlockHeader(&block.Header))
}

// replayFromStorage rebuilds the UTXO set, nonce tracker, and address index
// by sequentially re-applying every block already durable in storage. This
// is the mechanism crash recovery relies on: once recoverFromWAL has
// reconciled the index to reflect the chain that was actually active when
// the process died, replaying that corrected index from genesis yields
// exactly the in-memory state that was lost, without serializing UTXO/nonce
// snapshots into the WAL itself.
func (cs *ChainState) replayFromStorage() error {
	for height := uint64(0); ; height++ {
		block, err := cs.store.GetBlockByHeight(height)
		if err != nil {
			break
		}
		if err := cs.applyConnectedBlock(block); err != nil {
			return fmt.Errorf("replay height %d: %w", height, err)
		}
		cs.tip = types.ChainTip{Hash: headerHash(block), Height: block.Header.Height, CumulativeWork: block.CumulativeWork}
		cs.hasTip = true
	}
	return nil
}

// applyConnectedBlock mutates the UTXO set, nonce tracker, and address index
// for a block that is (or is being made) part of the active chain. It does
// not touch storage or the mempool; callers are responsible for those.
func (cs *ChainState) applyConnectedBlock(block *types.Block) error {
	for _, tx := range block.Transactions {
		if err := cs.utxos.ApplyTx(tx); err != nil {
			return fmt.Errorf("apply tx %s: %w", tx.TxID, err)
		}
		if tx.Kind == types.TxTransfer {
			if err := cs.nonces.CheckAndReserve(tx.Sender, tx.AccountNonce); err != nil {
				return fmt.Errorf("reserve nonce for tx %s: %w", tx.TxID, err)
			}
			if err := cs.nonces.Commit(tx.Sender, tx.AccountNonce); err != nil {
				return fmt.Errorf("commit nonce for tx %s: %w", tx.TxID, err)
			}
		}
	}
	cs.addrIdx.AppendBlock(block)
	cs.txIdx.appendBlock(block)
	return nil
}

// revertConnectedBlock is the exact inverse of applyConnectedBlock, used
// when disconnecting a block during a reorg.
func (cs *ChainState) revertConnectedBlock(block *types.Block) error {
	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		if err := cs.utxos.RevertTx(tx); err != nil {
			return fmt.Errorf("revert tx %s: %w", tx.TxID, err)
		}
		if tx.Kind == types.TxTransfer {
			cs.nonces.Uncommit(tx.Sender, tx.AccountNonce)
		}
	}
	cs.addrIdx.RemoveBlock(block)
	cs.txIdx.removeBlock(block)
	return nil
}

// medianAncestorTime walks up to medianTimeWindow ancestors backward from
// parentHeight (inclusive) and returns their median timestamp.
func (cs *ChainState) medianAncestorTime(parentHeight uint64, hasParent bool) uint64 {
	if !hasParent {
		return 0
	}
	var timestamps []uint64
	for i := 0; i < medianTimeWindow; i++ {
		if parentHeight < uint64(i) {
			break
		}
		h := parentHeight - uint64(i)
		block, err := cs.store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		timestamps = append(timestamps, block.Header.Timestamp)
	}
	return validator.MedianTime(timestamps)
}
