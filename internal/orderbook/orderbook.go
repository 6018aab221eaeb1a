// Package orderbook implements the order-book fill simulator (C6):
// given a snapshot of bid/ask levels, walk the relevant side and compute a
// weighted-average fill price, size, and slippage against a target price.
//
// This is not a matching engine: there are no resting orders, no order
// index, and no cancel path — it consumes a single static snapshot handed
// in by the caller. That shape is grounded on
// awstasiuk-market-simulator's book.go (Level/Side vocabulary, sorted-side
// sweep) and on the weighted-fill accumulation loop used by Polymarket
// copy-trading bots in the wider reference set, adapted from "sweep a live
// resting book" to "sweep a given snapshot" — order matching is explicitly
// out of scope here.
package orderbook

import (
	"sort"
)

// Level is one price/size rung of a book side.
type Level struct {
	Price float64
	Size  float64
}

// Book is a snapshot of both sides of one asset's order book.
type Book struct {
	Bids []Level
	Asks []Level
}

// Side selects which half of the book a fill walks.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// DefaultSlippagePctLimit is the BUY slippage ceiling (§6 slippagePctLimitBuy).
const DefaultSlippagePctLimit = 5.0

// Result is the outcome of walking a book for a requested amount.
type Result struct {
	Success     bool
	FillPrice   float64 // weighted-mean execution price
	FillSize    float64 // tokens filled
	QuoteAmount float64 // quote currency spent (BUY) or received (SELL)
	SlippagePct float64 // signed: (fillPrice - targetPrice) / targetPrice * 100
	Reason      string  // populated when Success is false
}

// Fill walks the book for side at the given target price.
//
// For SideBuy, amount is notional in quote units; for SideSell, amount is a
// token quantity. slippagePctLimit is only enforced for BUY — liquidation
// must proceed at any price, so pass a negative limit (or just use SellAny)
// to disable it for SELL call sites.
func Fill(book Book, side Side, amount, targetPrice, slippagePctLimit float64) Result {
	if side == SideBuy {
		return fillBuy(book.Asks, amount, targetPrice, slippagePctLimit)
	}
	return fillSell(book.Bids, amount, targetPrice)
}

// fillBuy walks asks ascending by price, spending up to `notional` quote
// units, then checks the slippage ceiling.
func fillBuy(asks []Level, notional, targetPrice, slippagePctLimit float64) Result {
	levels := cleanLevels(asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })

	var totalTokens, totalQuote float64
	remaining := notional

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		levelQuote := lvl.Size * lvl.Price
		spend := min(remaining, levelQuote)
		tokens := spend / lvl.Price

		totalTokens += tokens
		totalQuote += spend
		remaining -= spend
	}

	if totalTokens <= 0 {
		return Result{Success: false, Reason: "no liquidity"}
	}

	fillPrice := totalQuote / totalTokens
	slippagePct := (fillPrice - targetPrice) / targetPrice * 100

	if abs(slippagePct) > slippagePctLimit {
		return Result{
			Success:     false,
			FillPrice:   fillPrice,
			FillSize:    totalTokens,
			QuoteAmount: totalQuote,
			SlippagePct: slippagePct,
			Reason:      "slippage too high",
		}
	}

	return Result{
		Success:     true,
		FillPrice:   fillPrice,
		FillSize:    totalTokens,
		QuoteAmount: totalQuote,
		SlippagePct: slippagePct,
	}
}

// fillSell walks bids descending by price, selling up to `tokens` units.
// No slippage ceiling: liquidation must proceed even at adverse prices.
func fillSell(bids []Level, tokens, targetPrice float64) Result {
	levels := cleanLevels(bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })

	var totalTokens, totalQuote float64
	remaining := tokens

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := min(remaining, lvl.Size)
		totalTokens += take
		totalQuote += take * lvl.Price
		remaining -= take
	}

	if totalTokens <= 0 {
		return Result{Success: false, Reason: "no liquidity"}
	}

	fillPrice := totalQuote / totalTokens
	var slippagePct float64
	if targetPrice != 0 {
		slippagePct = (fillPrice - targetPrice) / targetPrice * 100
	}

	return Result{
		Success:     true,
		FillPrice:   fillPrice,
		FillSize:    totalTokens,
		QuoteAmount: totalQuote,
		SlippagePct: slippagePct,
	}
}

// cleanLevels discards levels with non-positive price or size (§4.6 step 1)
// and returns a copy so callers' slices are never mutated by sort.Slice.
func cleanLevels(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Price > 0 && l.Size > 0 {
			out = append(out, l)
		}
	}
	return out
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
