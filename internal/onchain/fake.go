package onchain

import (
	"context"
	"math/big"
)

// Fake is an in-memory ChainClient used by tests, mirroring the shape of
// venue.Fake: seeded by field assignment, no network or key material.
type Fake struct {
	Denominators map[[ConditionIDLength]byte]*big.Int
	Numerators   map[[ConditionIDLength]byte]map[int]*big.Int
	SlotCounts   map[[ConditionIDLength]byte]int
	Redeemed     []FakeRedemption

	// NextReceipt is returned by RedeemPositions for every call; tests set
	// it to whatever success/failure shape they want to exercise.
	NextReceipt RedeemReceipt
	NextErr     error

	// Balances holds QuoteBalance's wallet -> fixed-point collateral units.
	Balances map[string]*big.Int
}

// FakeRedemption records one RedeemPositions call for assertions.
type FakeRedemption struct {
	Wallet      string
	ConditionID [ConditionIDLength]byte
	IndexSets   []*big.Int
}

// NewFake creates an empty fake settlement chain.
func NewFake() *Fake {
	return &Fake{
		Denominators: make(map[[ConditionIDLength]byte]*big.Int),
		Numerators:   make(map[[ConditionIDLength]byte]map[int]*big.Int),
		SlotCounts:   make(map[[ConditionIDLength]byte]int),
		NextReceipt:  RedeemReceipt{Success: true, TxHash: "0xfake"},
		Balances:     make(map[string]*big.Int),
	}
}

// QuoteBalance returns the seeded balance for wallet, or zero if unseeded.
func (f *Fake) QuoteBalance(_ context.Context, wallet string) (*big.Int, error) {
	if b, ok := f.Balances[wallet]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) PayoutDenominator(_ context.Context, conditionID [ConditionIDLength]byte) (*big.Int, error) {
	if d, ok := f.Denominators[conditionID]; ok {
		return d, nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) PayoutNumerators(_ context.Context, conditionID [ConditionIDLength]byte, outcomeIndex int) (*big.Int, error) {
	if byIndex, ok := f.Numerators[conditionID]; ok {
		if n, ok := byIndex[outcomeIndex]; ok {
			return n, nil
		}
	}
	return big.NewInt(0), nil
}

func (f *Fake) OutcomeSlotCount(_ context.Context, conditionID [ConditionIDLength]byte) (int, error) {
	return f.SlotCounts[conditionID], nil
}

func (f *Fake) RedeemPositions(_ context.Context, wallet, _ string, conditionID [ConditionIDLength]byte, indexSets []*big.Int) (RedeemReceipt, error) {
	if f.NextErr != nil {
		return RedeemReceipt{}, f.NextErr
	}
	f.Redeemed = append(f.Redeemed, FakeRedemption{Wallet: wallet, ConditionID: conditionID, IndexSets: indexSets})
	return f.NextReceipt, nil
}
