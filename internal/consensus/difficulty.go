package consensus

import (
	"errors"
	"math/big"

	"ledgerchain/internal/primitives"
	"ledgerchain/internal/types"
)

// ErrBadBits is returned when a compact bits value cannot be canonicalized
// or decodes to a non-positive or overflowing target.
var ErrBadBits = errors.New("consensus: malformed difficulty bits")

var maxTarget = func() *big.Int {
	t := new(big.Int).Lsh(big.NewInt(1), 256)
	return t.Sub(t, big.NewInt(1))
}()

// TargetFromBits decodes a compact "bits" encoding (mantissa in the low 24
// bits, base-256 exponent in the high byte, matching Bitcoin's nBits
// encoding) into a target integer, canonicalizing negative-mantissa
// encodings to an error.
func TargetFromBits(bits uint32) (*big.Int, error) {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x007fffff)
	if bits&0x00800000 != 0 {
		return nil, ErrBadBits
	}
	if mantissa == 0 {
		return nil, ErrBadBits
	}

	target := big.NewInt(mantissa)
	shift := exponent - 3
	switch {
	case shift > 0:
		target.Lsh(target, uint(shift)*8)
	case shift < 0:
		target.Rsh(target, uint(-shift)*8)
	}
	if target.Sign() <= 0 || target.Cmp(maxTarget) > 0 {
		return nil, ErrBadBits
	}
	return target, nil
}

// BitsFromTarget re-encodes a target integer into its canonical compact
// form, the inverse of TargetFromBits.
func BitsFromTarget(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	raw := target.Bytes()
	exponent := len(raw)
	var mantissa uint32
	switch {
	case exponent <= 3:
		padded := make([]byte, 3)
		copy(padded[3-exponent:], raw)
		mantissa = uint32(padded[0])<<16 | uint32(padded[1])<<8 | uint32(padded[2])
	default:
		mantissa = uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2])
	}
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	return uint32(exponent)<<24 | mantissa
}

// CheckPoW reports whether the header's hash satisfies its declared target.
func CheckPoW(headerHash types.Hash, bits uint32) (bool, error) {
	target, err := TargetFromBits(bits)
	if err != nil {
		return false, err
	}
	h := new(big.Int).SetBytes(headerHash[:])
	return h.Cmp(target) <= 0, nil
}

// WorkFromBits returns the work contributed by a block with the given bits,
// defined as floor(2^256 / (target+1)), used to accumulate cumulative work.
func WorkFromBits(bits uint32) (*big.Int, error) {
	target, err := TargetFromBits(bits)
	if err != nil {
		return nil, err
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	numerator := new(big.Int).Lsh(big.NewInt(1), 256)
	return numerator.Div(numerator, denom), nil
}

// Retarget computes the new compact bits given the old bits and the
// observed timespan (in seconds) of the last RetargetInterval blocks,
// clamping the adjustment to [old/4, old*4].
func Retarget(oldBits uint32, actualTimespan int64) (uint32, error) {
	oldTarget, err := TargetFromBits(oldBits)
	if err != nil {
		return 0, err
	}

	minSpan := int64(ExpectedTimespan / 4)
	maxSpan := int64(ExpectedTimespan * 4)
	if actualTimespan < minSpan {
		actualTimespan = minSpan
	}
	if actualTimespan > maxSpan {
		actualTimespan = maxSpan
	}

	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(ExpectedTimespan))
	if newTarget.Cmp(maxTarget) > 0 {
		newTarget.Set(maxTarget)
	}
	if newTarget.Sign() <= 0 {
		return 0, ErrBadBits
	}
	return BitsFromTarget(newTarget), nil
}

// CumulativeWorkGreater reports whether a strictly exceeds b as a 256-bit
// big-endian unsigned integer.
func CumulativeWorkGreater(a, b [32]byte) bool {
	return new(big.Int).SetBytes(a[:]).Cmp(new(big.Int).SetBytes(b[:])) > 0
}

// AddWork adds delta (as produced by WorkFromBits) to a 256-bit accumulator
// and returns the updated big-endian bytes.
func AddWork(acc [32]byte, delta *big.Int) [32]byte {
	sum := new(big.Int).Add(new(big.Int).SetBytes(acc[:]), delta)
	var out [32]byte
	b := sum.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// SelectTip chooses the preferred chain tip between two candidates: the
// strictly greater cumulative work wins; ties are broken by the
// lexicographically smaller hash.
func SelectTip(a, b types.ChainTip) types.ChainTip {
	if CumulativeWorkGreater(a.CumulativeWork, b.CumulativeWork) {
		return a
	}
	if CumulativeWorkGreater(b.CumulativeWork, a.CumulativeWork) {
		return b
	}
	for i := range a.Hash {
		if a.Hash[i] != b.Hash[i] {
			if a.Hash[i] < b.Hash[i] {
				return a
			}
			return b
		}
	}
	return a
}

// HeaderHash is the canonical PoW input: SHA-256 over the header's
// canonical encoding, delegated to the primitives package so every hashing
// rule in the tree shares one implementation.
func HeaderHash(encodedHeader []byte) types.Hash {
	return primitives.H256(encodedHeader)
}
