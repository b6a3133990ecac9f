// Package node is the single public entry point of the chain core (spec
// §4.12). It receives externally validated Block and Transaction values —
// never raw bytes that have not passed the canonical codec — routes them
// to the chain state machine or the mempool, and serves every query
// (get_balance, get_history, get_tip, get_block, get_tx). Queries are not
// served from snapshots: balance, history, block and transaction lookups
// read the live chain state under each structure's own lock, and get_tip
// takes the chain state's writer mutex, so it waits for an in-progress
// block submission. This mirrors the teacher's Ledger,
// which exposes its own query surface (BalanceOf, GetBlock, BlockByHash,
// GetUTXO) directly alongside AddBlock/AddToPool, but splits chain-state
// writes and pool admission into their own packages behind this facade.
package node

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ledgerchain/internal/chainstate"
	"ledgerchain/internal/config"
	"ledgerchain/internal/consensus"
	"ledgerchain/internal/events"
	"ledgerchain/internal/types"
	"ledgerchain/internal/validator"
)

// Node wires together the chain state machine, its mempool, and the
// validator parameters every accepted block or transaction must satisfy.
type Node struct {
	chain  *chainstate.ChainState
	params validator.Params
	logger *logrus.Logger
}

// Open constructs a Node from a loaded configuration, matching the
// teacher's NewLedger(cfg) entry point: opens durable storage and the
// reorg log, replays to rebuild in-memory state, and returns ready to
// accept blocks and transactions.
func Open(cfg config.Config, sink events.Sink, logger *logrus.Logger) (*Node, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	params := validator.Params{
		MaxBlockSize:   cfg.MaxBlockSize,
		MaxTxsPerBlock: cfg.MaxTxsPerBlock,
		MinFeePerByte:  cfg.MinFeePerByte,
		ClockSkewMax:   cfg.ClockSkewMax,
		Subsidy:        consensus.Subsidy,
	}

	chain, err := chainstate.Open(chainstate.Config{
		DataDir:              cfg.DataDir,
		BlockCacheEntries:    cfg.BlockCacheEntries,
		CompressDepth:        cfg.CompressDepth,
		ReorgDepthLimit:      cfg.ReorgDepthLimit,
		MaxPendingBlocks:     1024,
		ValidatorParams:      params,
		MempoolTombstoneTTL:  cfg.MempoolTTLSecs,
		MempoolMaxAge:        cfg.MempoolTTLSecs,
		MempoolCapacityBytes: cfg.MempoolCapacityBytes,
		Sink:                 sink,
		Logger:               logger,
		Clock:                func() uint64 { return uint64(time.Now().Unix()) },
	})
	if err != nil {
		return nil, fmt.Errorf("open chain state: %w", err)
	}

	if tip, ok := chain.Tip(); ok {
		logger.WithFields(logrus.Fields{"height": tip.Height}).Info("node opened")
	} else {
		logger.Info("node opened at genesis")
	}
	return &Node{chain: chain, params: params, logger: logger}, nil
}

// SubmitBlock runs stateless validation and hands a valid block to the
// chain state machine's add_block decision (extend, branch, reorg, or
// orphan). A block that fails stateless validation is rejected before the
// writer ever sees it, matching spec §2's inbound data-flow ordering.
func (n *Node) SubmitBlock(block *types.Block, encodedHeader []byte) error {
	if err := validator.StatelessCheckBlock(block, encodedHeader, n.params); err != nil {
		return fmt.Errorf("stateless check: %w", err)
	}
	return n.chain.AddBlock(block)
}

// SubmitTransaction runs stateless validation and admits tx into the
// mempool the chain state machine shares its UTXO set and nonce tracker
// with.
func (n *Node) SubmitTransaction(tx *types.Transaction, now uint64) error {
	if err := validator.StatelessCheckTransaction(tx, n.params); err != nil {
		return fmt.Errorf("stateless check: %w", err)
	}
	return n.chain.Mempool().Admit(tx, now)
}

// GetBalance serves get_balance(addr).
func (n *Node) GetBalance(addr types.Address) uint64 {
	return n.chain.Balance(addr)
}

// GetHistory serves get_history(addr, offset, limit).
func (n *Node) GetHistory(addr types.Address, offset, limit int) []types.AddressIndexEntry {
	return n.chain.History(addr, offset, limit)
}

// GetTip serves get_tip().
func (n *Node) GetTip() (types.ChainTip, bool) {
	return n.chain.Tip()
}

// GetBlockByHeight and GetBlockByHash together serve get_block(height|hash).
func (n *Node) GetBlockByHeight(height uint64) (*types.Block, error) {
	return n.chain.BlockByHeight(height)
}

func (n *Node) GetBlockByHash(hash types.Hash) (*types.Block, error) {
	return n.chain.BlockByHash(hash)
}

// GetTx serves get_tx(txid): the transaction plus the height of the block
// that currently contains it.
func (n *Node) GetTx(txid types.Hash) (*types.Transaction, uint64, error) {
	return n.chain.Transaction(txid)
}
