// Package onchain holds the settlement-contract encoding helpers and the
// ChainClient collaborator interface (SPEC_FULL.md §4.9/§6). Only the
// contract is described here; a concrete RPC implementation and a
// deterministic fake satisfy it. The conditionId-padding and indexSet
// derivation below are grounded structurally on the teacher's
// contract.ParseTicker idiom (a small regexp-validated parse-and-construct
// helper with typed sentinel errors) repurposed from weather-ticker parsing
// to on-chain identifier encoding.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// ConditionIDLength is the byte width of a conditionId once padded, matching
// the settlement contract's bytes32 parameter.
const ConditionIDLength = 32

var (
	// ErrInvalidConditionID is returned when a conditionId cannot be
	// represented as a 32-byte value.
	ErrInvalidConditionID = errors.New("onchain: invalid conditionId")
	// ErrOutcomeIndexOutOfRange is returned when an outcomeIndex falls
	// outside [0, outcomeSlotCount).
	ErrOutcomeIndexOutOfRange = errors.New("onchain: outcome index out of range")
)

// PadConditionID left-pads a conditionId's raw bytes to 32 bytes, as required
// by the settlement contract's bytes32 parameter. Accepts either a raw byte
// slice already ≤32 bytes, or fails if longer.
func PadConditionID(raw []byte) ([ConditionIDLength]byte, error) {
	var out [ConditionIDLength]byte
	if len(raw) > ConditionIDLength {
		return out, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidConditionID, len(raw), ConditionIDLength)
	}
	copy(out[ConditionIDLength-len(raw):], raw)
	return out, nil
}

// IndexSets derives the indexSets argument to redeemPositions: one bit per
// outcome slot, [1<<0, 1<<1, ..., 1<<(n-1)].
func IndexSets(outcomeSlotCount int) ([]*big.Int, error) {
	if outcomeSlotCount <= 0 {
		return nil, fmt.Errorf("onchain: outcomeSlotCount must be positive, got %d", outcomeSlotCount)
	}
	sets := make([]*big.Int, outcomeSlotCount)
	for i := 0; i < outcomeSlotCount; i++ {
		sets[i] = new(big.Int).Lsh(big.NewInt(1), uint(i))
	}
	return sets, nil
}

// ValidateOutcomeIndex checks outcomeIndex ∈ [0, outcomeSlotCount) per
// SPEC_FULL.md §4.9.
func ValidateOutcomeIndex(outcomeIndex, outcomeSlotCount int) error {
	if outcomeIndex < 0 || outcomeIndex >= outcomeSlotCount {
		return fmt.Errorf("%w: index %d, slot count %d", ErrOutcomeIndexOutOfRange, outcomeIndex, outcomeSlotCount)
	}
	return nil
}

// RedeemReceipt is the outcome of an on-chain redemption submission.
type RedeemReceipt struct {
	Success bool
	TxHash  string
	GasUsed uint64
	Err     error
}

// ChainClient is the settlement-contract-plus-collateral-token collaborator:
// only the call signatures named in SPEC_FULL.md §6/§4.7.b are exposed.
// Concrete transport (raw JSON-RPC, a signer, gas estimation) is entirely
// behind this interface — the core never constructs or parses a transaction
// itself.
type ChainClient interface {
	// PayoutDenominator reads payoutDenominator(bytes32). A zero result
	// means the market has not yet settled.
	PayoutDenominator(ctx context.Context, conditionID [ConditionIDLength]byte) (*big.Int, error)
	// PayoutNumerators reads payoutNumerators(bytes32,uint256) for one
	// outcome index.
	PayoutNumerators(ctx context.Context, conditionID [ConditionIDLength]byte, outcomeIndex int) (*big.Int, error)
	// OutcomeSlotCount reads getOutcomeSlotCount(bytes32).
	OutcomeSlotCount(ctx context.Context, conditionID [ConditionIDLength]byte) (int, error)
	// RedeemPositions calls
	// redeemPositions(collateralToken, ZERO_PARENT, paddedConditionId, indexSets),
	// fee-bumped to 120% of the current gas price, with a 500,000 gas
	// limit, and waits for the receipt.
	RedeemPositions(ctx context.Context, wallet, privateKey string, conditionID [ConditionIDLength]byte, indexSets []*big.Int) (RedeemReceipt, error)
	// QuoteBalance reads balanceOf(wallet) on the collateral ERC-20 token,
	// in the token's own fixed-point units. Live BUY sizing reads this
	// instead of a locally tracked balance (SPEC_FULL.md §4.7.b).
	QuoteBalance(ctx context.Context, wallet string) (*big.Int, error)
}
