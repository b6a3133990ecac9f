package mempool

import (
	"testing"

	"ledgerchain/internal/noncetracker"
	"ledgerchain/internal/types"
	"ledgerchain/internal/utxoset"
)

func newTestPool() (*Pool, *utxoset.Set, *noncetracker.Tracker) {
	u := utxoset.New()
	n := noncetracker.New()
	return New(u, n, 100, 100, 0), u, n
}

func newTestPoolWithCapacity(maxBytes int) (*Pool, *utxoset.Set, *noncetracker.Tracker) {
	u := utxoset.New()
	n := noncetracker.New()
	return New(u, n, 100, 100, maxBytes), u, n
}

func seed(u *utxoset.Set, owner types.Address, marker byte, amount uint64) types.OutPoint {
	var txid types.Hash
	txid[0] = marker
	op := types.OutPoint{TxID: txid, Vout: 0}
	t := &types.Transaction{Outputs: []types.TxOutput{{Address: owner, Amount: amount}}}
	t.TxID = txid
	_ = u.ApplyTx(t)
	return op
}

func makeTx(sender types.Address, nonce uint64, fee uint64, inputs []types.OutPoint, idByte byte) *types.Transaction {
	tx := &types.Transaction{
		Kind:         types.TxTransfer,
		Sender:       sender,
		AccountNonce: nonce,
		Fee:          fee,
		Inputs:       inputs,
		Outputs:      []types.TxOutput{{Address: sender, Amount: 1}},
	}
	tx.TxID[0] = idByte
	return tx
}

func TestAdmitReservesNonceAndUTXO(t *testing.T) {
	p, u, n := newTestPool()
	var sender types.Address
	sender[0] = 0x01
	op := seed(u, sender, 0x10, 100)

	tx := makeTx(sender, 0, 1000, []types.OutPoint{op}, 0x20)
	if err := p.Admit(tx, 1); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if n.PendingCount(sender) != 1 {
		t.Fatalf("expected pending nonce reservation")
	}
	utxo, _ := u.Get(op)
	if utxo.Status != types.UTXOPending {
		t.Fatalf("expected input reserved pending")
	}
}

func TestAdmitRejectsDuplicate(t *testing.T) {
	p, u, _ := newTestPool()
	var sender types.Address
	op := seed(u, sender, 0x10, 100)
	tx := makeTx(sender, 0, 1000, []types.OutPoint{op}, 0x20)
	if err := p.Admit(tx, 1); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := p.Admit(tx, 1); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestReplaceByFeeRequiresHigherFee(t *testing.T) {
	p, u, _ := newTestPool()
	var sender types.Address
	op := seed(u, sender, 0x10, 100)
	tx1 := makeTx(sender, 0, 1000, []types.OutPoint{op}, 0x20)
	if err := p.Admit(tx1, 1); err != nil {
		t.Fatalf("admit tx1: %v", err)
	}

	var op2 types.OutPoint
	op2.TxID[0] = 0x11
	low := makeTx(sender, 0, 500, nil, 0x21)
	if err := p.Admit(low, 1); err != ErrReplacementUnderpriced {
		t.Fatalf("expected ErrReplacementUnderpriced, got %v", err)
	}

	high := makeTx(sender, 0, 1_000_000, []types.OutPoint{op}, 0x22)
	if err := p.Admit(high, 2); err != nil {
		t.Fatalf("admit replacement: %v", err)
	}
	if _, ok := p.Get(tx1.TxID); ok {
		t.Fatalf("original transaction should have been replaced")
	}
	if _, ok := p.Get(high.TxID); !ok {
		t.Fatalf("replacement transaction should be admitted")
	}
}

func TestSelectForBlockRespectsNonceOrder(t *testing.T) {
	p, u, _ := newTestPool()
	var sender types.Address
	op0 := seed(u, sender, 0x10, 100)

	low := makeTx(sender, 0, 10, []types.OutPoint{op0}, 0x30)
	if err := p.Admit(low, 1); err != nil {
		t.Fatalf("admit nonce0: %v", err)
	}
	high := makeTx(sender, 1, 1_000_000, nil, 0x31)
	if err := p.Admit(high, 1); err != nil {
		t.Fatalf("admit nonce1: %v", err)
	}

	selected := p.SelectForBlock(10_000)
	if len(selected) != 2 {
		t.Fatalf("expected both transactions selected, got %d", len(selected))
	}
	if selected[0].TxID != low.TxID {
		t.Fatalf("lower nonce must be selected first despite lower fee rate")
	}
}

func TestOnBlockConfirmedCommitsNonceAndRemoves(t *testing.T) {
	p, u, n := newTestPool()
	var sender types.Address
	op := seed(u, sender, 0x10, 100)
	tx := makeTx(sender, 0, 10, []types.OutPoint{op}, 0x40)
	if err := p.Admit(tx, 1); err != nil {
		t.Fatalf("admit: %v", err)
	}
	p.OnBlockConfirmed([]*types.Transaction{tx})
	if _, ok := p.Get(tx.TxID); ok {
		t.Fatalf("confirmed transaction should be removed from pool")
	}
	if n.Current(sender) != 1 {
		t.Fatalf("nonce should have been committed")
	}
}

func TestAdmitEvictsLowestFeeWhenOverCapacity(t *testing.T) {
	p, u, _ := newTestPoolWithCapacity(150) // room for roughly one 144-byte tx
	var senderA, senderB types.Address
	senderA[0] = 0xA0
	senderB[0] = 0xB0
	opA := seed(u, senderA, 0x60, 100)
	opB := seed(u, senderB, 0x61, 100)

	low := makeTx(senderA, 0, 10, []types.OutPoint{opA}, 0x70)
	if err := p.Admit(low, 1); err != nil {
		t.Fatalf("admit low: %v", err)
	}
	high := makeTx(senderB, 0, 10_000, []types.OutPoint{opB}, 0x71)
	if err := p.Admit(high, 1); err != nil {
		t.Fatalf("admit high: %v", err)
	}

	if _, ok := p.Get(low.TxID); ok {
		t.Fatalf("low-fee transaction should have been evicted for capacity")
	}
	if _, ok := p.Get(high.TxID); !ok {
		t.Fatalf("high-fee transaction should remain admitted")
	}
	if err := p.Admit(low, 1); err != ErrTombstoned {
		t.Fatalf("expected evicted tx tombstoned, got %v", err)
	}
}

func TestAdmitReturnsErrFullWhenNewEntryIsTheEvictee(t *testing.T) {
	p, u, _ := newTestPoolWithCapacity(150)
	var senderA, senderB types.Address
	senderA[0] = 0xA1
	senderB[0] = 0xB1
	opA := seed(u, senderA, 0x62, 100)
	opB := seed(u, senderB, 0x63, 100)

	high := makeTx(senderA, 0, 10_000, []types.OutPoint{opA}, 0x72)
	if err := p.Admit(high, 1); err != nil {
		t.Fatalf("admit high: %v", err)
	}
	low := makeTx(senderB, 0, 1, []types.OutPoint{opB}, 0x73)
	if err := p.Admit(low, 1); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if _, ok := p.Get(low.TxID); ok {
		t.Fatalf("low-fee tx should not remain admitted after eviction")
	}
}

func TestExpireEvictsAndTombstones(t *testing.T) {
	p, u, _ := newTestPool()
	var sender types.Address
	op := seed(u, sender, 0x10, 100)
	tx := makeTx(sender, 0, 10, []types.OutPoint{op}, 0x50)
	if err := p.Admit(tx, 1); err != nil {
		t.Fatalf("admit: %v", err)
	}
	expired := p.Expire(200)
	if len(expired) != 1 || expired[0] != tx.TxID {
		t.Fatalf("expected tx to expire")
	}
	if err := p.Admit(tx, 200); err != ErrTombstoned {
		t.Fatalf("expected ErrTombstoned, got %v", err)
	}
}
