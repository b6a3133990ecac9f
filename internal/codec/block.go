package codec

import (
	"bytes"
	"encoding/binary"

	"ledgerchain/internal/types"
)

var headerFieldNames = []string{
	"bits", "height", "merkle_root", "nonce", "prev_hash", "timestamp", "version",
}

func headerFields(h *types.BlockHeader) []Field {
	return []Field{
		{Key: []byte("bits"), Value: EncodeUint32(h.DifficultyBits)},
		{Key: []byte("height"), Value: EncodeUint64(h.Height)},
		{Key: []byte("merkle_root"), Value: append([]byte(nil), h.MerkleRoot[:]...)},
		{Key: []byte("nonce"), Value: EncodeUint64(h.Nonce)},
		{Key: []byte("prev_hash"), Value: append([]byte(nil), h.PrevHash[:]...)},
		{Key: []byte("timestamp"), Value: EncodeUint64(h.Timestamp)},
		{Key: []byte("version"), Value: EncodeUint32(h.Version)},
	}
}

// EncodeBlockHeader renders the canonical, hashed form of a block header.
func EncodeBlockHeader(h *types.BlockHeader) []byte {
	return EncodeMap(headerFields(h))
}

// DecodeBlockHeader strictly decodes a canonical block header.
func DecodeBlockHeader(buf []byte) (*types.BlockHeader, error) {
	fields, err := DecodeMap(buf)
	if err != nil {
		return nil, err
	}
	m := ToFieldMap(fields)
	if err := m.RejectUnknown(headerFieldNames...); err != nil {
		return nil, err
	}

	h := &types.BlockHeader{}
	bits, err := m.Require("bits")
	if err != nil {
		return nil, err
	}
	if h.DifficultyBits, err = DecodeUint32(bits); err != nil {
		return nil, err
	}

	height, err := m.Require("height")
	if err != nil {
		return nil, err
	}
	if h.Height, err = DecodeUint64(height); err != nil {
		return nil, err
	}

	mr, err := m.Require("merkle_root")
	if err != nil {
		return nil, err
	}
	if len(mr) != types.HashLength {
		return nil, errf(OutOfRange, "merkle_root must be %d bytes", types.HashLength)
	}
	copy(h.MerkleRoot[:], mr)

	nonce, err := m.Require("nonce")
	if err != nil {
		return nil, err
	}
	if h.Nonce, err = DecodeUint64(nonce); err != nil {
		return nil, err
	}

	prev, err := m.Require("prev_hash")
	if err != nil {
		return nil, err
	}
	if len(prev) != types.HashLength {
		return nil, errf(OutOfRange, "prev_hash must be %d bytes", types.HashLength)
	}
	copy(h.PrevHash[:], prev)

	ts, err := m.Require("timestamp")
	if err != nil {
		return nil, err
	}
	if h.Timestamp, err = DecodeUint64(ts); err != nil {
		return nil, err
	}

	ver, err := m.Require("version")
	if err != nil {
		return nil, err
	}
	if h.Version, err = DecodeUint32(ver); err != nil {
		return nil, err
	}

	return h, nil
}

// EncodeBlock renders the full wire form of a block: header, transactions
// and cumulative work.
func EncodeBlock(b *types.Block) []byte {
	var buf bytes.Buffer
	hdr := EncodeBlockHeader(&b.Header)
	buf.Write(EncodeBytes(hdr))
	buf.Write(EncodeUint32(uint32(len(b.Transactions))))
	for _, tx := range b.Transactions {
		buf.Write(EncodeBytes(EncodeTransaction(tx)))
	}
	buf.Write(b.CumulativeWork[:])
	return buf.Bytes()
}

// DecodeBlock decodes the full wire form produced by EncodeBlock.
func DecodeBlock(buf []byte) (*types.Block, error) {
	hdrBytes, off, err := readBytes(buf, 0)
	if err != nil {
		return nil, err
	}
	hdr, err := DecodeBlockHeader(hdrBytes)
	if err != nil {
		return nil, err
	}

	if off+4 > len(buf) {
		return nil, errf(Truncated, "tx count truncated")
	}
	n := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	txs := make([]*types.Transaction, 0, n)
	for i := uint32(0); i < n; i++ {
		txBytes, next, err := readBytes(buf, off)
		if err != nil {
			return nil, err
		}
		off = next
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if off+32 > len(buf) {
		return nil, errf(Truncated, "cumulative work truncated")
	}
	var work [32]byte
	copy(work[:], buf[off:off+32])
	off += 32

	if off != len(buf) {
		return nil, errf(BadTag, "trailing bytes after block (strict decode)")
	}

	return &types.Block{Header: *hdr, Transactions: txs, CumulativeWork: work}, nil
}
