// Package validator implements the two-tier block and transaction
// validation rules (spec §4.6): stateless checks that depend only on the
// value itself, and contextual checks that depend on a UTXO/nonce state
// snapshot. Both tiers return a Result carrying the taxonomy of reasons
// from spec §7 rather than ad-hoc error strings, so callers and the event
// sink can pattern-match on exactly what failed.
package validator

import (
	"errors"

	"ledgerchain/internal/codec"
	"ledgerchain/internal/consensus"
	"ledgerchain/internal/noncetracker"
	"ledgerchain/internal/primitives"
	"ledgerchain/internal/types"
	"ledgerchain/internal/utxoset"
)

// Reason enumerates the validator-specific error kinds from spec §7.
type Reason uint8

const (
	ReasonMalformedBlock Reason = iota
	ReasonMerkleMismatch
	ReasonPowInsufficient
	ReasonBadTimestamp
	ReasonOversizedBlock
	ReasonCoinbaseMismatch
	ReasonIntraBlockDoubleSpend
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformedBlock:
		return "malformed_block"
	case ReasonMerkleMismatch:
		return "merkle_mismatch"
	case ReasonPowInsufficient:
		return "pow_insufficient"
	case ReasonBadTimestamp:
		return "bad_timestamp"
	case ReasonOversizedBlock:
		return "oversized_block"
	case ReasonCoinbaseMismatch:
		return "coinbase_mismatch"
	case ReasonIntraBlockDoubleSpend:
		return "intra_block_double_spend"
	default:
		return "unknown"
	}
}

// Invalid is the error carrying a Reason. It has no Is method: callers
// extract it with AsInvalid (errors.As) and compare Reason, not the message.
type Invalid struct {
	Reason Reason
	Detail string
}

func (e *Invalid) Error() string {
	if e.Detail == "" {
		return "validator: " + e.Reason.String()
	}
	return "validator: " + e.Reason.String() + ": " + e.Detail
}

func invalid(reason Reason, detail string) error {
	return &Invalid{Reason: reason, Detail: detail}
}

// Params are the consensus-fixed and configurable bounds validation checks
// against (spec §6 configuration surface plus fixed wire limits).
type Params struct {
	MaxBlockSize   int
	MaxTxsPerBlock int
	MinFeePerByte  uint64
	ClockSkewMax   uint64
	Subsidy        func(height uint64) uint64
}

// StatelessCheckTransaction validates everything about a transaction that
// does not depend on chain state: structural well-formedness, fee floor,
// and (for non-coinbase transactions) signature validity.
func StatelessCheckTransaction(tx *types.Transaction, params Params) error {
	if tx.Kind != types.TxTransfer && tx.Kind != types.TxCoinbase {
		return invalid(ReasonMalformedBlock, "unknown transaction kind")
	}
	if tx.Kind == types.TxCoinbase {
		if len(tx.Inputs) != 0 {
			return invalid(ReasonCoinbaseMismatch, "coinbase must have no inputs")
		}
		return nil
	}

	if tx.FeePerByte() < params.MinFeePerByte {
		return invalid(ReasonMalformedBlock, "fee below minimum")
	}
	if len(tx.Signature) == 0 || len(tx.PublicKey) == 0 {
		return invalid(ReasonMalformedBlock, "missing signature or public key")
	}
	payload := codec.TxSignedPayload(tx)
	digest := primitives.H256(payload)
	if err := primitives.Verify(tx.PublicKey, digest, tx.Signature); err != nil {
		return invalid(ReasonMalformedBlock, err.Error())
	}
	return nil
}

// StatelessCheckBlock validates block-level structure that does not
// require chain state: size, transaction count, coinbase position, merkle
// root, and proof of work.
func StatelessCheckBlock(block *types.Block, encodedHeader []byte, params Params) error {
	if len(block.Transactions) == 0 {
		return invalid(ReasonMalformedBlock, "block has no transactions")
	}
	if len(block.Transactions) > params.MaxTxsPerBlock {
		return invalid(ReasonOversizedBlock, "too many transactions")
	}
	if block.Transactions[0].Kind != types.TxCoinbase {
		return invalid(ReasonCoinbaseMismatch, "first transaction must be coinbase")
	}
	for _, tx := range block.Transactions[1:] {
		if tx.Kind == types.TxCoinbase {
			return invalid(ReasonCoinbaseMismatch, "coinbase must be the sole first transaction")
		}
	}

	encoded := codec.EncodeBlock(block)
	if len(encoded) > params.MaxBlockSize {
		return invalid(ReasonOversizedBlock, "block exceeds max size")
	}

	leaves := make([]types.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		leaves[i] = tx.TxID
	}
	root := primitives.MerkleRoot(leaves)
	if root != block.Header.MerkleRoot {
		return invalid(ReasonMerkleMismatch, "")
	}

	headerHash := consensus.HeaderHash(encodedHeader)
	ok, err := consensus.CheckPoW(headerHash, block.Header.DifficultyBits)
	if err != nil {
		return invalid(ReasonPowInsufficient, err.Error())
	}
	if !ok {
		return invalid(ReasonPowInsufficient, "")
	}
	return nil
}

// MedianTime is the median of the last up-to-11 ancestor timestamps,
// computed by the caller from storage/chain state and passed in here.
func MedianTime(ancestorTimestamps []uint64) uint64 {
	n := len(ancestorTimestamps)
	if n == 0 {
		return 0
	}
	sorted := append([]uint64(nil), ancestorTimestamps...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[n/2]
}

// ContextualCheckBlock validates a block against a UTXO/nonce snapshot of
// its parent: intra-block double spend, input existence, sufficient
// balance, nonce contiguity, timestamp bounds, and coinbase amount.
func ContextualCheckBlock(
	block *types.Block,
	height uint64,
	medianAncestorTime uint64,
	now uint64,
	utxos *utxoset.Snapshot,
	nonces *noncetracker.Snapshot,
	params Params,
) error {
	if block.Header.Timestamp <= medianAncestorTime {
		return invalid(ReasonBadTimestamp, "timestamp not greater than median of ancestors")
	}
	if block.Header.Timestamp > now+params.ClockSkewMax {
		return invalid(ReasonBadTimestamp, "timestamp too far in the future")
	}

	spent := make(map[types.OutPoint]struct{})
	var totalFees uint64
	expectedNonce := make(map[types.Address]uint64)

	for _, tx := range block.Transactions[1:] {
		for _, in := range tx.Inputs {
			if _, dup := spent[in]; dup {
				return invalid(ReasonIntraBlockDoubleSpend, "")
			}
			spent[in] = struct{}{}
			u, ok := utxos.Get(in)
			if !ok || u.Status == types.UTXOSpent {
				return invalid(ReasonMalformedBlock, "input unknown or already spent")
			}
		}

		var inputTotal uint64
		for _, in := range tx.Inputs {
			u, _ := utxos.Get(in)
			inputTotal += u.Amount
		}
		var outputTotal uint64
		for _, out := range tx.Outputs {
			outputTotal += out.Amount
		}
		if inputTotal < outputTotal+tx.Fee {
			return invalid(ReasonMalformedBlock, "insufficient input value")
		}

		want, seen := expectedNonce[tx.Sender]
		if !seen {
			want = nonces.Current(tx.Sender)
		}
		if tx.AccountNonce != want {
			return invalid(ReasonMalformedBlock, "account nonce not contiguous")
		}
		expectedNonce[tx.Sender] = want + 1

		totalFees += tx.Fee
	}

	coinbase := block.Transactions[0]
	var coinbaseOut uint64
	for _, out := range coinbase.Outputs {
		coinbaseOut += out.Amount
	}
	if params.Subsidy != nil && coinbaseOut > params.Subsidy(height)+totalFees {
		return invalid(ReasonCoinbaseMismatch, "coinbase exceeds subsidy plus fees")
	}

	return nil
}

// AsInvalid extracts the Reason from err if it is (or wraps) an *Invalid.
func AsInvalid(err error) (Reason, bool) {
	var inv *Invalid
	if errors.As(err, &inv) {
		return inv.Reason, true
	}
	return 0, false
}
