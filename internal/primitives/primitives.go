// Package primitives implements the crypto contract of spec §4.2: address
// derivation, secp256k1 ECDSA signature verification with low-S
// canonicalization, SHA-256 domain hashing, and Merkle roots. Signing uses
// the secp256k1 curve via github.com/btcsuite/btcd/btcec/v2 (the same
// family the teacher pack's dcrd member and go-ethereum both build on);
// addresses use the classic hash160 (sha256 then ripemd160) construction
// over the compressed public key.
package primitives

import (
	"bytes"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // legacy hash160 construction, by design

	"ledgerchain/internal/types"
)

// Error kinds from spec §7 "Crypto".
var (
	ErrBadSignature     = errors.New("primitives: bad signature")
	ErrHighSSignature   = errors.New("primitives: high-S signature rejected as malleable")
	ErrUnknownKeyFormat = errors.New("primitives: unknown key format")
)

// secp256k1N is the order of the secp256k1 base point. It is a well-known
// constant, not something we trust a library's internal (unexported) field
// layout for.
var secp256k1N, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

var halfOrder = new(big.Int).Rsh(new(big.Int).Set(secp256k1N), 1)

type derSignature struct {
	R *big.Int
	S *big.Int
}

// H256 is the domain hash function used throughout the codec and consensus
// paths.
func H256(data []byte) types.Hash {
	return types.Hash(sha256.Sum256(data))
}

// DeriveAddress computes prefix || hash160(compressed pubkey).
func DeriveAddress(prefix byte, compressedPubKey []byte) (types.Address, error) {
	var addr types.Address
	if len(compressedPubKey) != 33 {
		return addr, ErrUnknownKeyFormat
	}
	sha := sha256.Sum256(compressedPubKey)
	ripemd := ripemd160.New()
	if _, err := ripemd.Write(sha[:]); err != nil {
		return addr, err
	}
	digest := ripemd.Sum(nil)

	addr[0] = prefix
	copy(addr[1:], digest)
	return addr, nil
}

// Sign produces a low-S-canonical DER signature over msgHash using priv.
func Sign(priv *btcec.PrivateKey, msgHash types.Hash) ([]byte, error) {
	sig := ecdsa.Sign(priv, msgHash[:])
	der := sig.Serialize()
	return canonicalizeLowS(der)
}

// canonicalizeLowS rewrites a DER ECDSA signature so that S <= N/2,
// negating S (S' = N - S) when necessary. ECDSA signatures (r, s) and
// (r, N-s) verify identically, so this does not change what the signature
// attests to; it only rules out the malleable high-S encoding.
func canonicalizeLowS(der []byte) ([]byte, error) {
	var parsed derSignature
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, ErrBadSignature
	}
	if parsed.S.Cmp(halfOrder) > 0 {
		parsed.S = new(big.Int).Sub(secp256k1N, parsed.S)
	}
	out, err := asn1.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify checks a DER-encoded secp256k1 ECDSA signature against a compressed
// public key and message hash, rejecting any signature whose S component
// exceeds N/2 as malleable (spec §4.2).
func Verify(compressedPubKey []byte, msgHash types.Hash, sigDER []byte) error {
	var parsed derSignature
	if _, err := asn1.Unmarshal(sigDER, &parsed); err != nil {
		return ErrBadSignature
	}
	if parsed.S.Sign() <= 0 || parsed.R.Sign() <= 0 {
		return ErrBadSignature
	}
	if parsed.S.Cmp(halfOrder) > 0 {
		return ErrHighSSignature
	}

	pub, err := btcec.ParsePubKey(compressedPubKey)
	if err != nil {
		return ErrUnknownKeyFormat
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return ErrBadSignature
	}
	if !sig.Verify(msgHash[:], pub) {
		return ErrBadSignature
	}
	return nil
}

// MerkleRoot computes the root of a Merkle tree over leaves using SHA-256,
// duplicating the final leaf at each level with an odd count (spec §4.2:
// "if leaf count is odd, the last leaf is duplicated before pairing").
func MerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var buf bytes.Buffer
			buf.Write(level[i][:])
			buf.Write(level[i+1][:])
			next[i/2] = types.Hash(sha256.Sum256(buf.Bytes()))
		}
		level = next
	}
	return level[0]
}

// MerkleProof returns a Merkle proof for the leaf at index along with the
// tree's root.
func MerkleProof(leaves []types.Hash, index int) ([]types.Hash, types.Hash, error) {
	if index < 0 || index >= len(leaves) {
		return nil, types.Hash{}, errors.New("primitives: merkle index out of range")
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	var proof []types.Hash
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if idx%2 == 0 {
			proof = append(proof, level[idx+1])
		} else {
			proof = append(proof, level[idx-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var buf bytes.Buffer
			buf.Write(level[i][:])
			buf.Write(level[i+1][:])
			next[i/2] = types.Hash(sha256.Sum256(buf.Bytes()))
		}
		level = next
		idx /= 2
	}
	return proof, level[0], nil
}

// VerifyMerklePath checks that proof reconstructs root for leaf at index.
func VerifyMerklePath(root, leaf types.Hash, proof []types.Hash, index int) bool {
	hash := leaf
	for _, p := range proof {
		var buf bytes.Buffer
		if index%2 == 0 {
			buf.Write(hash[:])
			buf.Write(p[:])
		} else {
			buf.Write(p[:])
			buf.Write(hash[:])
		}
		hash = types.Hash(sha256.Sum256(buf.Bytes()))
		index /= 2
	}
	return hash == root
}
