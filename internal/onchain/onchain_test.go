package onchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestPadConditionID(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	padded, err := PadConditionID(raw)
	if err != nil {
		t.Fatalf("PadConditionID: %v", err)
	}
	for i := 0; i < ConditionIDLength-3; i++ {
		if padded[i] != 0 {
			t.Fatalf("expected leading zero padding at index %d, got %x", i, padded[i])
		}
	}
	if padded[ConditionIDLength-3] != 0x01 || padded[ConditionIDLength-2] != 0x02 || padded[ConditionIDLength-1] != 0x03 {
		t.Fatalf("unexpected tail bytes: %x", padded)
	}
}

func TestPadConditionID_TooLong(t *testing.T) {
	raw := make([]byte, ConditionIDLength+1)
	if _, err := PadConditionID(raw); !errors.Is(err, ErrInvalidConditionID) {
		t.Fatalf("expected ErrInvalidConditionID, got %v", err)
	}
}

func TestIndexSets(t *testing.T) {
	sets, err := IndexSets(3)
	if err != nil {
		t.Fatalf("IndexSets: %v", err)
	}
	want := []int64{1, 2, 4}
	if len(sets) != len(want) {
		t.Fatalf("expected %d sets, got %d", len(want), len(sets))
	}
	for i, w := range want {
		if sets[i].Cmp(big.NewInt(w)) != 0 {
			t.Errorf("index %d: expected %d, got %s", i, w, sets[i].String())
		}
	}
}

func TestIndexSets_NonPositive(t *testing.T) {
	if _, err := IndexSets(0); err == nil {
		t.Fatal("expected error for zero outcomeSlotCount")
	}
}

func TestValidateOutcomeIndex(t *testing.T) {
	if err := ValidateOutcomeIndex(1, 2); err != nil {
		t.Fatalf("expected index 1 valid for slot count 2, got %v", err)
	}
	if err := ValidateOutcomeIndex(2, 2); !errors.Is(err, ErrOutcomeIndexOutOfRange) {
		t.Fatalf("expected ErrOutcomeIndexOutOfRange, got %v", err)
	}
	if err := ValidateOutcomeIndex(-1, 2); !errors.Is(err, ErrOutcomeIndexOutOfRange) {
		t.Fatalf("expected ErrOutcomeIndexOutOfRange for negative index, got %v", err)
	}
}

func TestFake_RedeemPositionsRecordsCall(t *testing.T) {
	fake := NewFake()
	conditionID, _ := PadConditionID([]byte{0xAB})
	indexSets, _ := IndexSets(2)

	receipt, err := fake.RedeemPositions(context.Background(), "0xwallet", "unused", conditionID, indexSets)
	if err != nil {
		t.Fatalf("RedeemPositions: %v", err)
	}
	if !receipt.Success {
		t.Fatal("expected fake receipt to default to success")
	}
	if len(fake.Redeemed) != 1 {
		t.Fatalf("expected 1 recorded redemption, got %d", len(fake.Redeemed))
	}
	if fake.Redeemed[0].Wallet != "0xwallet" {
		t.Errorf("expected wallet recorded, got %q", fake.Redeemed[0].Wallet)
	}
}

func TestFake_PayoutDenominatorUnsetMeansUnsettled(t *testing.T) {
	fake := NewFake()
	conditionID, _ := PadConditionID([]byte{0x01})

	d, err := fake.PayoutDenominator(context.Background(), conditionID)
	if err != nil {
		t.Fatalf("PayoutDenominator: %v", err)
	}
	if d.Sign() != 0 {
		t.Fatalf("expected zero denominator for unseeded condition, got %s", d.String())
	}
}
