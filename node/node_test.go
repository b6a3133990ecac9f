package node

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"ledgerchain/internal/chainstate"
	"ledgerchain/internal/codec"
	"ledgerchain/internal/consensus"
	"ledgerchain/internal/primitives"
	"ledgerchain/internal/types"
	"ledgerchain/internal/validator"
)

const testBits = uint32(0x1d00ffff)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	chain, err := chainstate.Open(chainstate.Config{
		DataDir:           t.TempDir(),
		BlockCacheEntries: 16,
		CompressDepth:     1000,
		MaxPendingBlocks:  64,
		ValidatorParams:   validator.Params{Subsidy: consensus.Subsidy},
		Clock:             func() uint64 { return 10_000_000 },
	})
	if err != nil {
		t.Fatalf("open chain state: %v", err)
	}
	return &Node{chain: chain, params: validator.Params{Subsidy: consensus.Subsidy}, logger: logrus.StandardLogger()}
}

func TestSubmitBlockRejectsMalformedBlock(t *testing.T) {
	n := newTestNode(t)
	empty := &types.Block{Header: types.BlockHeader{Height: 0}}
	if err := n.SubmitBlock(empty, nil); err == nil {
		t.Fatalf("expected stateless rejection for block with no transactions")
	}
}

func TestSubmitTransactionReservesUTXOAndRejectsDuplicate(t *testing.T) {
	n := newTestNode(t)

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	senderAddr, err := primitives.DeriveAddress(0x01, priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}

	coinbase := &types.Transaction{Kind: types.TxCoinbase, Outputs: []types.TxOutput{{Address: senderAddr, Amount: 1000}}}
	coinbase.TxID[0] = 0x01
	genesis := &types.Block{
		Header:       types.BlockHeader{Height: 0, Timestamp: 1000, DifficultyBits: testBits},
		Transactions: []*types.Transaction{coinbase},
	}
	if err := n.chain.AddBlock(genesis); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}
	if got := n.GetBalance(senderAddr); got != 1000 {
		t.Fatalf("expected balance 1000 before submit, got %d", got)
	}

	var recipient types.Address
	recipient[0] = 0x02
	tx := &types.Transaction{
		Version:      1,
		Kind:         types.TxTransfer,
		Sender:       senderAddr,
		Recipient:    recipient,
		Amount:       100,
		Fee:          10,
		AccountNonce: 0,
		Timestamp:    2000,
		Inputs:       []types.OutPoint{{TxID: coinbase.TxID, Vout: 0}},
		Outputs:      []types.TxOutput{{Address: recipient, Amount: 100}, {Address: senderAddr, Amount: 890}},
		PublicKey:    priv.PubKey().SerializeCompressed(),
	}
	digest := primitives.H256(codec.TxSignedPayload(tx))
	sig, err := primitives.Sign(priv, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signature = sig
	tx.TxID = primitives.H256(codec.TxSignedPayload(tx))

	if err := n.SubmitTransaction(tx, 2000); err != nil {
		t.Fatalf("submit transaction: %v", err)
	}
	if got := n.GetBalance(senderAddr); got != 0 {
		t.Fatalf("expected balance 0 once the spending input is reserved, got %d", got)
	}

	if err := n.SubmitTransaction(tx, 2001); err == nil {
		t.Fatalf("expected duplicate submission to be rejected")
	}
}

func TestNodeQueryMethodsServeGetters(t *testing.T) {
	n := newTestNode(t)
	var addrA types.Address
	addrA[0] = 0xAA

	coinbase := &types.Transaction{Kind: types.TxCoinbase, Outputs: []types.TxOutput{{Address: addrA, Amount: 50}}}
	coinbase.TxID[0] = 0x01
	genesis := &types.Block{
		Header:       types.BlockHeader{Height: 0, Timestamp: 1000, DifficultyBits: testBits},
		Transactions: []*types.Transaction{coinbase},
	}
	if err := n.chain.AddBlock(genesis); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}

	tip, ok := n.GetTip()
	if !ok || tip.Height != 0 {
		t.Fatalf("unexpected tip: %+v ok=%v", tip, ok)
	}
	byHeight, err := n.GetBlockByHeight(0)
	if err != nil || byHeight.Header.Height != 0 {
		t.Fatalf("get block by height failed: %v", err)
	}
	byHash, err := n.GetBlockByHash(tip.Hash)
	if err != nil || byHash.Header.Height != 0 {
		t.Fatalf("get block by hash failed: %v", err)
	}
	tx, height, err := n.GetTx(coinbase.TxID)
	if err != nil || height != 0 || tx.TxID != coinbase.TxID {
		t.Fatalf("get tx failed: %v", err)
	}
	history := n.GetHistory(addrA, 0, 10)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
}
