// Package settlement implements the settlement-contract operations named in
// SPEC_FULL.md §4.9 (payoutRatio, redeemOnChain) plus the collateral-balance
// read Live BUY sizing depends on (§4.7.b). It is the only place
// in the codebase that performs fixed-point decimal arithmetic — everywhere
// else money is a float64 (see internal/model's package comment) — because
// this is the one boundary where the core crosses into collateral-decimals
// accounting the way the settlement contract itself does it. The pattern is
// grounded on the shopspring/decimal usage throughout the teacher's
// internal/lmsr and internal/model packages, narrowed to this one adapter.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/copytrade/engine/internal/onchain"
)

// CollateralDecimals is the number of decimal places the settlement
// contract's collateral token uses for fixed-point amounts. USDC on the
// venues this engine targets uses 6.
const CollateralDecimals = 6

// ErrNotSettled is returned by PayoutRatio when the market has not yet
// resolved (payoutDenominator is still zero).
var ErrNotSettled = errors.New("settlement: market not yet settled")

// Adapter wraps a ChainClient with the conditionId encoding and
// decimal-conversion rules the settlement contract expects.
type Adapter struct {
	chain             onchain.ChainClient
	settlementAddress string
	collateralAddress string
}

// NewAdapter builds a settlement Adapter over a ChainClient.
func NewAdapter(chain onchain.ChainClient, settlementAddress, collateralAddress string) *Adapter {
	return &Adapter{chain: chain, settlementAddress: settlementAddress, collateralAddress: collateralAddress}
}

// PayoutRatio returns the winning ratio for one outcome index of a
// condition: payoutNumerators(index) / payoutDenominator, as a float64 in
// [0,1]. Returns ErrNotSettled if the market has not resolved.
func (a *Adapter) PayoutRatio(ctx context.Context, conditionIDRaw []byte, outcomeIndex int) (float64, error) {
	conditionID, err := onchain.PadConditionID(conditionIDRaw)
	if err != nil {
		return 0, err
	}

	denominator, err := a.chain.PayoutDenominator(ctx, conditionID)
	if err != nil {
		return 0, fmt.Errorf("settlement: payoutDenominator: %w", err)
	}
	if denominator.Sign() == 0 {
		return 0, ErrNotSettled
	}

	slotCount, err := a.chain.OutcomeSlotCount(ctx, conditionID)
	if err != nil {
		return 0, fmt.Errorf("settlement: getOutcomeSlotCount: %w", err)
	}
	if err := onchain.ValidateOutcomeIndex(outcomeIndex, slotCount); err != nil {
		return 0, err
	}

	numerator, err := a.chain.PayoutNumerators(ctx, conditionID, outcomeIndex)
	if err != nil {
		return 0, fmt.Errorf("settlement: payoutNumerators: %w", err)
	}

	ratio := decimal.NewFromBigInt(numerator, 0).Div(decimal.NewFromBigInt(denominator, 0))
	result, _ := ratio.Float64()
	return result, nil
}

// RedeemReceipt is the outcome of a redemption, mirroring onchain.RedeemReceipt
// but with the collateral payout converted back to a float64 for the caller.
type RedeemReceipt struct {
	Success bool
	TxHash  string
}

// RedeemOnChain redeems a winning position: derives indexSets from the
// condition's outcome slot count and submits redeemPositions through the
// underlying ChainClient.
func (a *Adapter) RedeemOnChain(ctx context.Context, wallet, privateKey string, conditionIDRaw []byte) (RedeemReceipt, error) {
	conditionID, err := onchain.PadConditionID(conditionIDRaw)
	if err != nil {
		return RedeemReceipt{}, err
	}

	slotCount, err := a.chain.OutcomeSlotCount(ctx, conditionID)
	if err != nil {
		return RedeemReceipt{}, fmt.Errorf("settlement: getOutcomeSlotCount: %w", err)
	}
	indexSets, err := onchain.IndexSets(slotCount)
	if err != nil {
		return RedeemReceipt{}, err
	}

	receipt, err := a.chain.RedeemPositions(ctx, wallet, privateKey, conditionID, indexSets)
	if err != nil {
		return RedeemReceipt{}, fmt.Errorf("settlement: redeemPositions: %w", err)
	}
	return RedeemReceipt{Success: receipt.Success, TxHash: receipt.TxHash}, nil
}

// QuoteBalance reads the operator wallet's on-chain collateral balance and
// converts it from the contract's fixed-point units into the float64 quote
// units the handlers size BUY orders with (SPEC_FULL.md §4.7.b).
func (a *Adapter) QuoteBalance(ctx context.Context, wallet string) (float64, error) {
	units, err := a.chain.QuoteBalance(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("settlement: balanceOf: %w", err)
	}
	return FromCollateralUnits(decimal.NewFromBigInt(units, 0)), nil
}

// FromCollateralUnits converts a contract fixed-point collateral amount back
// into a float64 for the core's position and balance tracking.
func FromCollateralUnits(units decimal.Decimal) float64 {
	f, _ := units.Shift(-CollateralDecimals).Float64()
	return f
}
