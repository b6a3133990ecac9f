package codec

import (
	"bytes"
	"encoding/binary"

	"ledgerchain/internal/types"
)

var txFieldNames = []string{
	"account_nonce", "amount", "fee", "inputs", "kind",
	"outputs", "public_key", "recipient", "sender", "timestamp", "version",
}

// txSignedFields builds the canonical field set shared by the txid hash and
// the signed payload: every Transaction field except TxID and Signature.
func txSignedFields(tx *types.Transaction) []Field {
	return []Field{
		{Key: []byte("account_nonce"), Value: EncodeUint64(tx.AccountNonce)},
		{Key: []byte("amount"), Value: EncodeUint64(tx.Amount)},
		{Key: []byte("fee"), Value: EncodeUint64(tx.Fee)},
		{Key: []byte("inputs"), Value: encodeInputs(tx.Inputs)},
		{Key: []byte("kind"), Value: []byte{byte(tx.Kind)}},
		{Key: []byte("outputs"), Value: encodeOutputs(tx.Outputs)},
		{Key: []byte("public_key"), Value: EncodeBytes(tx.PublicKey)},
		{Key: []byte("recipient"), Value: append([]byte(nil), tx.Recipient[:]...)},
		{Key: []byte("sender"), Value: append([]byte(nil), tx.Sender[:]...)},
		{Key: []byte("timestamp"), Value: EncodeUint64(tx.Timestamp)},
		{Key: []byte("version"), Value: EncodeUint32(tx.Version)},
	}
}

// TxSignedPayload returns the canonical bytes that are both signed by the
// sender and hashed (via h256) to produce the txid.
func TxSignedPayload(tx *types.Transaction) []byte {
	return EncodeMap(txSignedFields(tx))
}

// EncodeTransaction renders the full wire form of a transaction, including
// TxID and Signature, for storage and block bodies.
func EncodeTransaction(tx *types.Transaction) []byte {
	fields := txSignedFields(tx)
	fields = append(fields,
		Field{Key: []byte("txid"), Value: append([]byte(nil), tx.TxID[:]...)},
		Field{Key: []byte("signature"), Value: EncodeBytes(tx.Signature)},
	)
	return EncodeMap(fields)
}

// DecodeTransaction strictly decodes the full wire form produced by
// EncodeTransaction.
func DecodeTransaction(buf []byte) (*types.Transaction, error) {
	fields, err := DecodeMap(buf)
	if err != nil {
		return nil, err
	}
	m := ToFieldMap(fields)
	allowed := append(append([]string(nil), txFieldNames...), "txid", "signature")
	if err := m.RejectUnknown(allowed...); err != nil {
		return nil, err
	}

	tx := &types.Transaction{}

	v, err := m.Require("version")
	if err != nil {
		return nil, err
	}
	if tx.Version, err = DecodeUint32(v); err != nil {
		return nil, err
	}

	kindB, err := m.Require("kind")
	if err != nil {
		return nil, err
	}
	if len(kindB) != 1 {
		return nil, errf(OutOfRange, "kind field must be 1 byte")
	}
	tx.Kind = types.TxKind(kindB[0])

	sender, err := m.Require("sender")
	if err != nil {
		return nil, err
	}
	if len(sender) != types.AddressLength {
		return nil, errf(OutOfRange, "sender must be %d bytes", types.AddressLength)
	}
	copy(tx.Sender[:], sender)

	recipient, err := m.Require("recipient")
	if err != nil {
		return nil, err
	}
	if len(recipient) != types.AddressLength {
		return nil, errf(OutOfRange, "recipient must be %d bytes", types.AddressLength)
	}
	copy(tx.Recipient[:], recipient)

	amount, err := m.Require("amount")
	if err != nil {
		return nil, err
	}
	if tx.Amount, err = DecodeUint64(amount); err != nil {
		return nil, err
	}

	fee, err := m.Require("fee")
	if err != nil {
		return nil, err
	}
	if tx.Fee, err = DecodeUint64(fee); err != nil {
		return nil, err
	}

	nonce, err := m.Require("account_nonce")
	if err != nil {
		return nil, err
	}
	if tx.AccountNonce, err = DecodeUint64(nonce); err != nil {
		return nil, err
	}

	ts, err := m.Require("timestamp")
	if err != nil {
		return nil, err
	}
	if tx.Timestamp, err = DecodeUint64(ts); err != nil {
		return nil, err
	}

	inputs, err := m.Require("inputs")
	if err != nil {
		return nil, err
	}
	if tx.Inputs, err = decodeInputs(inputs); err != nil {
		return nil, err
	}

	outputs, err := m.Require("outputs")
	if err != nil {
		return nil, err
	}
	if tx.Outputs, err = decodeOutputs(outputs); err != nil {
		return nil, err
	}

	pub, err := m.Require("public_key")
	if err != nil {
		return nil, err
	}
	pubVal, _, err := readBytes(pub, 0)
	if err != nil {
		return nil, err
	}
	if len(pubVal) > 0 {
		tx.PublicKey = append([]byte(nil), pubVal...)
	}

	txid, err := m.Require("txid")
	if err != nil {
		return nil, err
	}
	if len(txid) != types.HashLength {
		return nil, errf(OutOfRange, "txid must be %d bytes", types.HashLength)
	}
	copy(tx.TxID[:], txid)

	sig, err := m.Require("signature")
	if err != nil {
		return nil, err
	}
	sigVal, _, err := readBytes(sig, 0)
	if err != nil {
		return nil, err
	}
	if len(sigVal) > 0 {
		tx.Signature = append([]byte(nil), sigVal...)
	}

	return tx, nil
}

func encodeInputs(ins []types.OutPoint) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(ins))))
	for _, in := range ins {
		buf.Write(in.TxID[:])
		buf.Write(EncodeUint32(in.Vout))
	}
	return buf.Bytes()
}

func decodeInputs(b []byte) ([]types.OutPoint, error) {
	if len(b) < 4 {
		return nil, errf(Truncated, "inputs count truncated")
	}
	n := binary.BigEndian.Uint32(b[:4])
	off := 4
	const itemLen = types.HashLength + 4
	out := make([]types.OutPoint, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+itemLen > len(b) {
			return nil, errf(Truncated, "input %d truncated", i)
		}
		var op types.OutPoint
		copy(op.TxID[:], b[off:off+types.HashLength])
		off += types.HashLength
		op.Vout = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		out = append(out, op)
	}
	if off != len(b) {
		return nil, errf(BadTag, "trailing bytes in inputs")
	}
	return out, nil
}

func encodeOutputs(outs []types.TxOutput) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(outs))))
	for _, o := range outs {
		buf.Write(o.Address[:])
		buf.Write(EncodeUint64(o.Amount))
	}
	return buf.Bytes()
}

func decodeOutputs(b []byte) ([]types.TxOutput, error) {
	if len(b) < 4 {
		return nil, errf(Truncated, "outputs count truncated")
	}
	n := binary.BigEndian.Uint32(b[:4])
	off := 4
	const itemLen = types.AddressLength + 8
	out := make([]types.TxOutput, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+itemLen > len(b) {
			return nil, errf(Truncated, "output %d truncated", i)
		}
		var o types.TxOutput
		copy(o.Address[:], b[off:off+types.AddressLength])
		off += types.AddressLength
		o.Amount = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		out = append(out, o)
	}
	if off != len(b) {
		return nil, errf(BadTag, "trailing bytes in outputs")
	}
	return out, nil
}
