// Package consensus implements the chain's proof-of-work rules: difficulty
// retargeting, compact "bits" encoding, PoW verification, and cumulative-
// work chain selection (spec §4.9).
package consensus

// Pinned network parameters. The specification leaves finality depth and
// checkpoint trust anchors as an open question for implementers to pin
// before mainnet; these are the values this tree commits to.
const (
	// FinalityDepth is the number of confirmations beyond which a block may
	// not be reorganized out.
	FinalityDepth = 100

	// CheckpointInterval is the block spacing at which a CHECKPOINT WAL
	// record pins a safe recovery point.
	CheckpointInterval = 2016

	// RetargetInterval is the block spacing at which difficulty is
	// recomputed from observed block times.
	RetargetInterval = 2016

	// ExpectedTimespan is the target duration, in seconds, for
	// RetargetInterval blocks at the intended block rate.
	ExpectedTimespan = RetargetInterval * 600

	// MaxReorgDepth bounds how many blocks a single reorg may disconnect.
	MaxReorgDepth = FinalityDepth
)
