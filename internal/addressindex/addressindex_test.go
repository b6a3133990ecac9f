package addressindex

import (
	"testing"

	"ledgerchain/internal/types"
)

func blockWithTransfer(height uint64, sender, recipient types.Address, amount uint64, idByte byte) *types.Block {
	tx := &types.Transaction{
		Kind:      types.TxTransfer,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Outputs:   []types.TxOutput{{Address: recipient, Amount: amount}},
	}
	tx.TxID[0] = idByte
	return &types.Block{
		Header:       types.BlockHeader{Height: height, Timestamp: height},
		Transactions: []*types.Transaction{tx},
	}
}

func TestAppendBlockRecordsSentAndReceived(t *testing.T) {
	idx := New()
	var sender, recipient types.Address
	sender[0] = 0x01
	recipient[0] = 0x02

	idx.AppendBlock(blockWithTransfer(1, sender, recipient, 100, 0x10))

	sentEntries := idx.Query(sender, 0, 10)
	if len(sentEntries) != 1 || sentEntries[0].Direction != types.DirSent {
		t.Fatalf("expected one sent entry for sender")
	}
	recvEntries := idx.Query(recipient, 0, 10)
	if len(recvEntries) != 1 || recvEntries[0].Direction != types.DirReceived {
		t.Fatalf("expected one received entry for recipient")
	}
}

func TestRemoveBlockDeletesItsEntries(t *testing.T) {
	idx := New()
	var sender, recipient types.Address
	sender[0] = 0x01
	recipient[0] = 0x02

	b := blockWithTransfer(1, sender, recipient, 100, 0x10)
	idx.AppendBlock(b)
	idx.RemoveBlock(b)

	if entries := idx.Query(sender, 0, 10); len(entries) != 0 {
		t.Fatalf("expected no entries after removal, got %d", len(entries))
	}
}

func TestQueryOrdersByHeightDescending(t *testing.T) {
	idx := New()
	var recipient types.Address
	recipient[0] = 0xAA
	var sender types.Address

	idx.AppendBlock(blockWithTransfer(1, sender, recipient, 10, 0x01))
	idx.AppendBlock(blockWithTransfer(2, sender, recipient, 20, 0x02))
	idx.AppendBlock(blockWithTransfer(3, sender, recipient, 30, 0x03))

	entries := idx.Query(recipient, 0, 10)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].BlockHeight != 3 || entries[2].BlockHeight != 1 {
		t.Fatalf("expected descending height order, got %+v", entries)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	idx := New()
	var recipient types.Address
	var sender types.Address
	idx.AppendBlock(blockWithTransfer(1, sender, recipient, 10, 0x01))
	snap := idx.Snapshot()

	idx.AppendBlock(blockWithTransfer(2, sender, recipient, 20, 0x02))
	if got := len(idx.Query(recipient, 0, 10)); got != 2 {
		t.Fatalf("expected 2 entries before restore, got %d", got)
	}

	idx.Restore(snap)
	if got := len(idx.Query(recipient, 0, 10)); got != 1 {
		t.Fatalf("expected 1 entry after restore, got %d", got)
	}
}
