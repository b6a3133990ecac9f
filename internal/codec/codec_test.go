package codec

import (
	"testing"

	"ledgerchain/internal/types"
)

func sampleTx() *types.Transaction {
	tx := &types.Transaction{
		Version:      1,
		Kind:         types.TxTransfer,
		Amount:       100,
		Fee:          5,
		AccountNonce: 3,
		Timestamp:    1690000000,
		Inputs:       []types.OutPoint{{Vout: 1}},
		Outputs:      []types.TxOutput{{Amount: 95}, {Amount: 5}},
		PublicKey:    []byte{1, 2, 3},
		Signature:    []byte{4, 5, 6, 7},
	}
	tx.Sender[0] = 0xAA
	tx.Recipient[0] = 0xBB
	tx.Inputs[0].TxID[0] = 0xCC
	tx.Outputs[0].Address[0] = 0xDD
	tx.TxID[0] = 0xEE
	return tx
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTx()
	encoded := EncodeTransaction(tx)
	decoded, err := DecodeTransaction(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reEncoded := EncodeTransaction(decoded)
	if string(reEncoded) != string(encoded) {
		t.Fatalf("round trip not byte-identical")
	}
}

func TestSignedPayloadExcludesTxIDAndSignature(t *testing.T) {
	tx := sampleTx()
	p1 := TxSignedPayload(tx)
	tx.TxID[5] = 0xFF
	tx.Signature = append(tx.Signature, 0xFF)
	p2 := TxSignedPayload(tx)
	if string(p1) != string(p2) {
		t.Fatalf("signed payload must be independent of txid/signature")
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	tx := sampleTx()
	fields := txSignedFields(tx)
	fields = append(fields,
		Field{Key: []byte("txid"), Value: tx.TxID[:]},
		Field{Key: []byte("signature"), Value: EncodeBytes(tx.Signature)},
		Field{Key: []byte("bogus"), Value: []byte{1}},
	)
	buf := EncodeMap(fields)
	if _, err := DecodeTransaction(buf); err == nil {
		t.Fatalf("expected BadTag error for unknown field")
	} else if cerr, ok := err.(*Error); !ok || cerr.Kind != BadTag {
		t.Fatalf("expected BadTag, got %v", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	tx := sampleTx()
	encoded := EncodeTransaction(tx)
	if _, err := DecodeTransaction(encoded[:len(encoded)-2]); err == nil {
		t.Fatalf("expected error on truncated input")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	tx := sampleTx()
	b := &types.Block{
		Header: types.BlockHeader{
			Version:        1,
			Height:         7,
			DifficultyBits: 0x1d00ffff,
			Timestamp:      1690000001,
		},
		Transactions: []*types.Transaction{tx},
	}
	encoded := EncodeBlock(b)
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if decoded.Header.Height != b.Header.Height {
		t.Fatalf("height mismatch")
	}
	if len(decoded.Transactions) != 1 || decoded.Transactions[0].Amount != 100 {
		t.Fatalf("tx not round-tripped")
	}
	reEncoded := EncodeBlock(decoded)
	if string(reEncoded) != string(encoded) {
		t.Fatalf("block round trip not byte-identical")
	}
}

func TestMapSortedRegardlessOfInputOrder(t *testing.T) {
	f1 := []Field{{Key: []byte("b"), Value: []byte{1}}, {Key: []byte("a"), Value: []byte{2}}}
	f2 := []Field{{Key: []byte("a"), Value: []byte{2}}, {Key: []byte("b"), Value: []byte{1}}}
	if string(EncodeMap(f1)) != string(EncodeMap(f2)) {
		t.Fatalf("encoding must be independent of field input order")
	}
}

func TestDecodeRejectsDuplicateKey(t *testing.T) {
	raw := EncodeUint32(2)
	dup := append(append([]byte(nil), raw...), EncodeBytes([]byte("a"))...)
	dup = append(dup, EncodeBytes([]byte{1})...)
	dup = append(dup, EncodeBytes([]byte("a"))...)
	dup = append(dup, EncodeBytes([]byte{2})...)
	if _, err := DecodeMap(dup); err == nil {
		t.Fatalf("expected DuplicateKey error")
	} else if cerr, ok := err.(*Error); !ok || cerr.Kind != DuplicateKey {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}
}
