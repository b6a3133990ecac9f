package consensus

// InitialSubsidy is the coinbase reward paid at height 0, before any
// halving, expressed in the chain's smallest unit.
const InitialSubsidy uint64 = 50_00000000

// HalvingInterval is the block spacing at which the coinbase subsidy is
// halved, mirroring the teacher's RewardHalvingPeriod/BlockRewardAt
// schedule in core/coin.go but expressed over uint64 rather than big.Int
// since this chain's subsidy never approaches a 64-bit overflow.
const HalvingInterval = 210_000

// Subsidy returns the coinbase reward for a block at height, halving every
// HalvingInterval blocks until it reaches zero.
func Subsidy(height uint64) uint64 {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return InitialSubsidy >> halvings
}
