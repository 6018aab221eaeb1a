package orderbook

import "testing"

func closeEnough(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestFillBuy_SimpleCopyBuy(t *testing.T) {
	book := Book{Asks: []Level{{Price: 0.40, Size: 400}, {Price: 0.41, Size: 1000}}}

	r := Fill(book, SideBuy, 100, 0.40, DefaultSlippagePctLimit)
	if !r.Success {
		t.Fatalf("expected success, got reason=%q", r.Reason)
	}
	if !closeEnough(r.FillPrice, 0.40, 1e-9) {
		t.Fatalf("fillPrice = %v, want 0.40", r.FillPrice)
	}
	if !closeEnough(r.FillSize, 250, 1e-6) {
		t.Fatalf("fillSize = %v, want 250", r.FillSize)
	}
	if !closeEnough(r.QuoteAmount, 100, 1e-9) {
		t.Fatalf("quoteAmount = %v, want 100", r.QuoteAmount)
	}
}

func TestFillBuy_SlippageRejection(t *testing.T) {
	book := Book{Asks: []Level{{Price: 0.40, Size: 10}, {Price: 0.60, Size: 1000}}}

	r := Fill(book, SideBuy, 100, 0.40, DefaultSlippagePctLimit)
	if r.Success {
		t.Fatalf("expected rejection on slippage, got success fillPrice=%v", r.FillPrice)
	}
	if r.Reason != "slippage too high" {
		t.Fatalf("reason = %q, want %q", r.Reason, "slippage too high")
	}
	if !closeEnough(r.SlippagePct, 55.0, 1.0) {
		t.Fatalf("slippagePct = %v, want ~55", r.SlippagePct)
	}
}

func TestFillBuy_NoLiquidity(t *testing.T) {
	r := Fill(Book{}, SideBuy, 100, 0.40, DefaultSlippagePctLimit)
	if r.Success || r.Reason != "no liquidity" {
		t.Fatalf("expected no-liquidity failure, got %+v", r)
	}
}

func TestFillBuy_DiscardsInvalidLevels(t *testing.T) {
	book := Book{Asks: []Level{{Price: -1, Size: 500}, {Price: 0.5, Size: 0}, {Price: 0.5, Size: 200}}}
	r := Fill(book, SideBuy, 50, 0.5, DefaultSlippagePctLimit)
	if !r.Success {
		t.Fatalf("expected success from the one valid level, got reason=%q", r.Reason)
	}
	if !closeEnough(r.FillSize, 100, 1e-6) {
		t.Fatalf("fillSize = %v, want 100", r.FillSize)
	}
}

func TestFillSell_PartialSellMatchesScenario3(t *testing.T) {
	book := Book{Bids: []Level{{Price: 0.50, Size: 1000}}}
	r := Fill(book, SideSell, 40, 0.50, 0)
	if !r.Success {
		t.Fatalf("expected success, got reason=%q", r.Reason)
	}
	if !closeEnough(r.QuoteAmount, 20.00, 1e-9) {
		t.Fatalf("quoteAmount = %v, want 20.00", r.QuoteAmount)
	}
}

func TestFillSell_NoSlippageCeiling(t *testing.T) {
	// Adverse price far from target must still succeed for SELL.
	book := Book{Bids: []Level{{Price: 0.01, Size: 1000}}}
	r := Fill(book, SideSell, 100, 0.90, 0)
	if !r.Success {
		t.Fatalf("SELL must never be rejected for slippage, got reason=%q", r.Reason)
	}
}
