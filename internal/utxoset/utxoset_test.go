package utxoset

import (
	"testing"

	"ledgerchain/internal/types"
)

func seedUTXO(s *Set, owner types.Address, amount uint64) types.OutPoint {
	var txid types.Hash
	txid[0] = byte(len(s.utxos)) + 1
	op := types.OutPoint{TxID: txid, Vout: 0}
	s.utxos[op] = &types.UTXO{TxID: txid, Vout: 0, Owner: owner, Amount: amount, Status: types.UTXOUnspent}
	return op
}

func TestReserveApplyRevertRoundTrip(t *testing.T) {
	s := New()
	var owner types.Address
	owner[0] = 0xAA
	op := seedUTXO(s, owner, 100)

	before := s.Snapshot()

	tx := &types.Transaction{
		Inputs:  []types.OutPoint{op},
		Outputs: []types.TxOutput{{Address: owner, Amount: 100}},
	}
	tx.TxID[1] = 0x01

	id, err := s.Reserve(tx)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	s.Release(id)

	u, _ := s.Get(op)
	if u.Status != types.UTXOUnspent {
		t.Fatalf("release must restore unspent status")
	}

	if err := s.ApplyTx(tx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	spent, _ := s.Get(op)
	if spent.Status != types.UTXOSpent {
		t.Fatalf("apply must mark input spent")
	}
	newOut, ok := s.Get(types.OutPoint{TxID: tx.TxID, Vout: 0})
	if !ok || newOut.Amount != 100 {
		t.Fatalf("apply must insert outputs")
	}

	if err := s.RevertTx(tx); err != nil {
		t.Fatalf("revert: %v", err)
	}
	after := s.Snapshot()
	if len(after.utxos) != len(before.utxos) {
		t.Fatalf("revert must restore set size: before=%d after=%d", len(before.utxos), len(after.utxos))
	}
	reverted, _ := s.Get(op)
	if reverted.Status != types.UTXOUnspent {
		t.Fatalf("revert must restore unspent status")
	}
}

func TestReserveRejectsDuplicateInput(t *testing.T) {
	s := New()
	var owner types.Address
	op := seedUTXO(s, owner, 10)
	tx := &types.Transaction{Inputs: []types.OutPoint{op, op}}
	if _, err := s.Reserve(tx); err != ErrDuplicateInput {
		t.Fatalf("expected ErrDuplicateInput, got %v", err)
	}
	u, _ := s.Get(op)
	if u.Status != types.UTXOUnspent {
		t.Fatalf("failed reserve must not mutate state")
	}
}

func TestReserveRejectsAlreadyReserved(t *testing.T) {
	s := New()
	var owner types.Address
	op := seedUTXO(s, owner, 10)
	tx1 := &types.Transaction{Inputs: []types.OutPoint{op}}
	if _, err := s.Reserve(tx1); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	tx2 := &types.Transaction{Inputs: []types.OutPoint{op}}
	if _, err := s.Reserve(tx2); err != ErrAlreadyReserved {
		t.Fatalf("expected ErrAlreadyReserved, got %v", err)
	}
}

func TestReserveRejectsUnknownInput(t *testing.T) {
	s := New()
	var bogus types.OutPoint
	bogus.TxID[0] = 0xFF
	tx := &types.Transaction{Inputs: []types.OutPoint{bogus}}
	if _, err := s.Reserve(tx); err != ErrUnknownInput {
		t.Fatalf("expected ErrUnknownInput, got %v", err)
	}
}

func TestSnapshotIndependentOfLaterMutation(t *testing.T) {
	s := New()
	var owner types.Address
	op := seedUTXO(s, owner, 50)
	snap := s.Snapshot()

	tx := &types.Transaction{Inputs: []types.OutPoint{op}}
	if _, err := s.Reserve(tx); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	u, ok := snap.Get(op)
	if !ok || u.Status != types.UTXOUnspent {
		t.Fatalf("snapshot must not observe later mutation")
	}
}
