package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/copytrade/engine/internal/onchain"
)

func conditionID(t *testing.T, b byte) [onchain.ConditionIDLength]byte {
	t.Helper()
	id, err := onchain.PadConditionID([]byte{b})
	if err != nil {
		t.Fatalf("PadConditionID: %v", err)
	}
	return id
}

func TestPayoutRatio_WinningOutcome(t *testing.T) {
	fake := onchain.NewFake()
	cid := conditionID(t, 0x01)
	fake.Denominators[cid] = big.NewInt(1)
	fake.SlotCounts[cid] = 2
	fake.Numerators[cid] = map[int]*big.Int{0: big.NewInt(1), 1: big.NewInt(0)}

	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")
	ratio, err := adapter.PayoutRatio(context.Background(), []byte{0x01}, 0)
	if err != nil {
		t.Fatalf("PayoutRatio: %v", err)
	}
	if ratio != 1.0 {
		t.Fatalf("expected winning ratio 1.0, got %v", ratio)
	}
}

func TestPayoutRatio_LosingOutcome(t *testing.T) {
	fake := onchain.NewFake()
	cid := conditionID(t, 0x02)
	fake.Denominators[cid] = big.NewInt(1)
	fake.SlotCounts[cid] = 2
	fake.Numerators[cid] = map[int]*big.Int{0: big.NewInt(1), 1: big.NewInt(0)}

	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")
	ratio, err := adapter.PayoutRatio(context.Background(), []byte{0x02}, 1)
	if err != nil {
		t.Fatalf("PayoutRatio: %v", err)
	}
	if ratio != 0.0 {
		t.Fatalf("expected losing ratio 0.0, got %v", ratio)
	}
}

func TestPayoutRatio_NotSettled(t *testing.T) {
	fake := onchain.NewFake()
	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")

	_, err := adapter.PayoutRatio(context.Background(), []byte{0x03}, 0)
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}
}

func TestPayoutRatio_OutcomeIndexOutOfRange(t *testing.T) {
	fake := onchain.NewFake()
	cid := conditionID(t, 0x04)
	fake.Denominators[cid] = big.NewInt(1)
	fake.SlotCounts[cid] = 2

	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")
	_, err := adapter.PayoutRatio(context.Background(), []byte{0x04}, 5)
	if !errors.Is(err, onchain.ErrOutcomeIndexOutOfRange) {
		t.Fatalf("expected ErrOutcomeIndexOutOfRange, got %v", err)
	}
}

func TestRedeemOnChain_DerivesIndexSetsFromSlotCount(t *testing.T) {
	fake := onchain.NewFake()
	cid := conditionID(t, 0x05)
	fake.SlotCounts[cid] = 3

	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")
	receipt, err := adapter.RedeemOnChain(context.Background(), "0xwallet", "unused", []byte{0x05})
	if err != nil {
		t.Fatalf("RedeemOnChain: %v", err)
	}
	if !receipt.Success {
		t.Fatal("expected successful receipt")
	}
	if len(fake.Redeemed) != 1 {
		t.Fatalf("expected 1 redemption recorded, got %d", len(fake.Redeemed))
	}
	if len(fake.Redeemed[0].IndexSets) != 3 {
		t.Fatalf("expected 3 index sets for slot count 3, got %d", len(fake.Redeemed[0].IndexSets))
	}
}

func TestQuoteBalance_ConvertsFixedPointUnitsToFloat(t *testing.T) {
	fake := onchain.NewFake()
	fake.Balances["0xwallet"] = big.NewInt(12_500_000) // 12.5 USDC at 6 decimals

	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")
	balance, err := adapter.QuoteBalance(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("QuoteBalance: %v", err)
	}
	if balance != 12.5 {
		t.Fatalf("expected 12.5, got %v", balance)
	}
}

func TestQuoteBalance_UnseededWalletIsZero(t *testing.T) {
	fake := onchain.NewFake()
	adapter := NewAdapter(fake, "0xsettlement", "0xcollateral")

	balance, err := adapter.QuoteBalance(context.Background(), "0xunknown")
	if err != nil {
		t.Fatalf("QuoteBalance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %v", balance)
	}
}
