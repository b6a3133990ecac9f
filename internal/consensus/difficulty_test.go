package consensus

import (
	"math/big"
	"testing"

	"ledgerchain/internal/types"
)

func TestTargetBitsRoundTrip(t *testing.T) {
	bits := uint32(0x1d00ffff)
	target, err := TargetFromBits(bits)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := BitsFromTarget(target)
	target2, err := TargetFromBits(got)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if target.Cmp(target2) != 0 {
		t.Fatalf("round trip target mismatch: %s != %s", target, target2)
	}
}

func TestCheckPoWAcceptsHashBelowTarget(t *testing.T) {
	bits := uint32(0x1d00ffff)
	var hash types.Hash // all-zero hash is always <= any positive target
	ok, err := CheckPoW(hash, bits)
	if err != nil {
		t.Fatalf("check pow: %v", err)
	}
	if !ok {
		t.Fatalf("zero hash must satisfy any positive target")
	}
}

func TestCheckPoWRejectsHashAboveTarget(t *testing.T) {
	bits := uint32(0x03000001) // smallest positive target: 1
	var hash types.Hash
	hash[31] = 2
	ok, err := CheckPoW(hash, bits)
	if err != nil {
		t.Fatalf("check pow: %v", err)
	}
	if ok {
		t.Fatalf("hash above target must fail PoW check")
	}
}

func TestRetargetClampsToQuarterAndQuadruple(t *testing.T) {
	oldBits := uint32(0x1d00ffff)

	tooFast, err := Retarget(oldBits, ExpectedTimespan/100)
	if err != nil {
		t.Fatalf("retarget fast: %v", err)
	}
	oldTarget, _ := TargetFromBits(oldBits)
	fastTarget, _ := TargetFromBits(tooFast)
	minTarget := new(big.Int).Div(oldTarget, big.NewInt(4))
	if fastTarget.Cmp(minTarget) < 0 {
		t.Fatalf("retarget must clamp to at least old/4")
	}

	tooSlow, err := Retarget(oldBits, ExpectedTimespan*100)
	if err != nil {
		t.Fatalf("retarget slow: %v", err)
	}
	slowTarget, _ := TargetFromBits(tooSlow)
	maxClampTarget := new(big.Int).Mul(oldTarget, big.NewInt(4))
	if maxClampTarget.Cmp(maxTarget) > 0 {
		maxClampTarget.Set(maxTarget)
	}
	if slowTarget.Cmp(maxClampTarget) > 0 {
		t.Fatalf("retarget must clamp to at most old*4")
	}
}

func TestSelectTipPrefersGreaterWork(t *testing.T) {
	low := types.ChainTip{Hash: types.Hash{1}, CumulativeWork: [32]byte{0: 1}}
	high := types.ChainTip{Hash: types.Hash{2}, CumulativeWork: [32]byte{0: 2}}
	if got := SelectTip(low, high); got.Hash != high.Hash {
		t.Fatalf("expected higher-work tip selected")
	}
}

func TestSelectTipBreaksTiesByHash(t *testing.T) {
	a := types.ChainTip{Hash: types.Hash{0, 2}, CumulativeWork: [32]byte{0: 5}}
	b := types.ChainTip{Hash: types.Hash{0, 1}, CumulativeWork: [32]byte{0: 5}}
	if got := SelectTip(a, b); got.Hash != b.Hash {
		t.Fatalf("expected lexicographically smaller hash to win tie")
	}
}
