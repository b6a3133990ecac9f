// Package types holds the data model shared across every component of the
// chain core: addresses, hashes, transactions, blocks and the small value
// types that flow between the codec, validator, mempool, UTXO set and
// storage packages. Keeping these declarations in one leaf package (rather
// than duplicating them, or introducing import cycles between components)
// mirrors the centralised struct file the teacher repo uses for the same
// reason.
package types

import "encoding/hex"

// AddressLength is the fixed wire size of an Address: one network prefix
// byte followed by a 20-byte hash160 of a compressed public key.
const AddressLength = 21

// HashLength is the fixed wire size of a SHA-256 digest.
const HashLength = 32

// Address is an opaque, fixed-length byte string: prefix || hash160(pubkey).
type Address [AddressLength]byte

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Hash is a 32-byte SHA-256 digest used for both transaction and block ids.
type Hash [HashLength]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// TxKind is a tagged variant distinguishing the two transaction shapes the
// core understands. Validators must pattern-match on it exhaustively and
// never use dynamic type dispatch.
type TxKind uint8

const (
	// TxTransfer spends existing UTXOs and is subject to account-nonce and
	// fee rules.
	TxTransfer TxKind = iota + 1
	// TxCoinbase mints the block subsidy plus collected fees and has no
	// inputs.
	TxCoinbase
)

func (k TxKind) String() string {
	switch k {
	case TxTransfer:
		return "transfer"
	case TxCoinbase:
		return "coinbase"
	default:
		return "unknown"
	}
}

// OutPoint identifies a transaction output by its producing txid and index.
type OutPoint struct {
	TxID Hash
	Vout uint32
}

// TxOutput is a single payment to an address.
type TxOutput struct {
	Address Address
	Amount  uint64
}

// Transaction is the wire/consensus representation of a transfer or
// coinbase transaction. Txid and signed-payload are both derived by the
// codec package over every field except TxID and Signature.
type Transaction struct {
	Version      uint32
	Kind         TxKind
	Sender       Address // zero for coinbase
	Recipient    Address
	Amount       uint64
	Fee          uint64
	AccountNonce uint64
	Timestamp    uint64
	Inputs       []OutPoint
	Outputs      []TxOutput
	PublicKey    []byte // compressed secp256k1 public key, optional
	Signature    []byte // low-S DER signature, optional

	TxID Hash // derived, not part of the signed payload
}

// EncodedSize is a cheap, deterministic estimate of the wire size used for
// fee-per-byte calculations; the codec package computes the exact figure
// during encode, this mirrors it closely enough for prioritisation.
func (tx *Transaction) EncodedSize() int {
	size := 4 + 1 + AddressLength*2 + 8 + 8 + 8 + 8
	size += len(tx.Inputs) * (HashLength + 4)
	size += len(tx.Outputs) * (AddressLength + 8)
	size += len(tx.PublicKey) + len(tx.Signature)
	return size
}

// FeePerByte returns the transaction's fee divided by its encoded size,
// floored, as used for mempool priority ordering.
func (tx *Transaction) FeePerByte() uint64 {
	size := tx.EncodedSize()
	if size <= 0 {
		return 0
	}
	return tx.Fee / uint64(size)
}

// BlockHeader is the fixed-size, hashed portion of a block.
type BlockHeader struct {
	Version         uint32
	Height          uint64
	PrevHash        Hash
	MerkleRoot      Hash
	Timestamp       uint64
	DifficultyBits  uint32 // compact "bits" encoding of the target
	Nonce           uint64
}

// Block is a header plus its ordered transaction list.
type Block struct {
	Header           BlockHeader
	Transactions     []*Transaction
	CumulativeWork   [32]byte // big-endian 256-bit cumulative work, as of this block
}

// ChainTip identifies the head of a chain branch.
type ChainTip struct {
	Hash           Hash
	Height         uint64
	CumulativeWork [32]byte
}

// UTXOStatus is the tri-state spend status of a UTXO.
type UTXOStatus uint8

const (
	UTXOUnspent UTXOStatus = iota
	UTXOPending
	UTXOSpent
)

// ReservationID identifies a single mempool reservation against the UTXO
// set, backed by a random UUID.
type ReservationID [16]byte

func (r ReservationID) IsZero() bool { return r == ReservationID{} }

// UTXO is an unspent (or tentatively/finally spent) transaction output.
type UTXO struct {
	TxID   Hash
	Vout   uint32
	Owner  Address
	Amount uint64
	Status UTXOStatus
	// PendingRef names the reservation holding the UTXO pending, zero
	// otherwise.
	PendingRef ReservationID
}

// AddressDirection tags an address-index entry as money moving in or out.
type AddressDirection uint8

const (
	DirSent AddressDirection = iota
	DirReceived
)

// AddressIndexEntry is one line of an address's transaction history.
type AddressIndexEntry struct {
	Address      Address
	BlockHeight  uint64
	TxIndex      int
	TxID         Hash
	Direction    AddressDirection
	Amount       uint64
	Timestamp    uint64
}
