// Package handler implements the BUY/SELL/REDEEM trade handlers (C7):
// given a pending Activity, the owning Task, and the two positions involved
// (ours and the target trader's), each handler decides whether and how much
// to trade, fills it against the order-book simulator (Mock) or the live
// order book (Live; no order is sent to the venue), and returns the
// activity's next state. The validate→compute→persist→log
// shape is grounded on the teacher's trade.Service.ExecuteTrade; the sizing,
// slippage-guard, and dedup-sentinel rules are grounded on the copy-trading
// bot's processTrade/executeBotBuy/executeBotSell functions from the
// example pack, and the Mock-mode vocabulary (paper fills, virtual orders)
// on that pack's paper-trading position model.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/onchain"
	"github.com/copytrade/engine/internal/orderbook"
	"github.com/copytrade/engine/internal/settlement"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

// Outcome is the terminal disposition of one handler run.
type Outcome string

const (
	OutcomeDoneOK        Outcome = "done-ok"
	OutcomeDoneSkipped   Outcome = "done-skipped"
	OutcomeDoneExhausted Outcome = "done-exhausted"
)

// Result is returned by every handler in place of an exception: outcome,
// a short human-readable reason (always set on skip/exhaust), and the
// underlying error, if any, for logging.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
}

// Sentinel errors for the taxonomy in SPEC_FULL.md §7. Handlers wrap these
// with fmt.Errorf("...: %w", ...) so callers can errors.Is/errors.As them.
var (
	ErrPreconditionFailed = errors.New("handler: precondition failed")
	ErrNoLiquidity        = errors.New("handler: no liquidity")
	ErrInsufficientFunds  = errors.New("handler: insufficient funds")
	ErrValidation         = errors.New("handler: validation error")
)

const (
	minOrderUSD    = 1.00
	priceCapBuy    = 0.99
	balanceBuffer  = 0.99
	liveRetryLimit = 3
	liveSlippageGuardAbs = 0.05
	positionResidualEpsilon = 0.01
	soldFractionZeroThreshold = 0.99
)

// Handlers bundles the collaborators every trade handler needs.
type Handlers struct {
	Store      store.Store
	Books      venue.BookClient
	Settlement *settlement.Adapter
	Now        func() time.Time
}

// New builds a Handlers bundle. now defaults to time.Now if nil.
func New(st store.Store, books venue.BookClient, settle *settlement.Adapter, now func() time.Time) *Handlers {
	if now == nil {
		now = time.Now
	}
	return &Handlers{Store: st, Books: books, Settlement: settle, Now: now}
}

func fail(err error, reason string) Result {
	return Result{Outcome: OutcomeDoneSkipped, Reason: reason, Err: err}
}

func ok(reason string) Result {
	return Result{Outcome: OutcomeDoneOK, Reason: reason}
}

// BuyMock executes a simulated BUY fill and updates the Mock position.
func (h *Handlers) BuyMock(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position) Result {
	if activity.Price > priceCapBuy {
		return fail(fmt.Errorf("%w: price %.4f exceeds cap %.2f", ErrPreconditionFailed, activity.Price, priceCapBuy), "price above cap")
	}
	if myPosition != nil && myPosition.Size > 0 {
		return fail(fmt.Errorf("%w: already holding position in %s", ErrPreconditionFailed, activity.ConditionID), "already holding position")
	}

	notional := task.FixedAmount
	balanceCap := task.CurrentBalance * balanceBuffer
	if notional > balanceCap {
		notional = balanceCap
	}
	if notional < minOrderUSD {
		return fail(fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrValidation, notional, minOrderUSD), "notional below minimum")
	}

	book, err := h.Books.OrderBook(ctx, activity.Asset)
	if err != nil {
		return fail(fmt.Errorf("handler: fetch order book: %w", err), "order book fetch failed")
	}

	fill := orderbook.Fill(toBookSnapshot(book), orderbook.SideBuy, notional, activity.Price, orderbook.DefaultSlippagePctLimit)
	if !fill.Success {
		return fail(fmt.Errorf("%w: %s", ErrNoLiquidity, fill.Reason), fill.Reason)
	}

	pos := &model.Position{
		TaskID: task.ID, Asset: activity.Asset, ConditionID: activity.ConditionID, OutcomeIndex: activity.OutcomeIndex,
		Size: fill.FillSize, AvgPrice: fill.FillPrice, TotalBought: fill.QuoteAmount,
		RealizedPnl: 0, CurPrice: fill.FillPrice,
		Title: activity.Title, Slug: activity.Slug, OutcomeLabel: activity.OutcomeLabel,
	}
	if err := h.Store.UpsertPosition(ctx, pos); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "persist failed", Err: err}
	}

	record := model.TradeRecord{
		TaskID: task.ID, TxHash: activity.TxHash, ConditionID: activity.ConditionID, Asset: activity.Asset,
		Side: model.SideBuy, Size: fill.FillSize, Price: fill.FillPrice, QuoteAmount: fill.QuoteAmount,
		Mode: model.ModeMock, Timestamp: h.Now(),
	}
	if err := h.Store.InsertTradeRecord(ctx, &record); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "trade record write failed", Err: err}
	}

	task.CurrentBalance -= fill.QuoteAmount
	if err := h.Store.UpdateTask(ctx, task); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "balance update failed", Err: err}
	}

	return ok("buy filled")
}

// BuyLive sizes a Live BUY from the operator wallet's on-chain quote balance
// and walks the live order book, giving up after liveRetryLimit consecutive
// failed book fetches. Each iteration takes the best ask and counts it as
// filled; no order is submitted to the venue, so the fill, position, trade
// record and balance debit are computed and persisted locally.
func (h *Handlers) BuyLive(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position) Result {
	if activity.Price > priceCapBuy {
		return fail(fmt.Errorf("%w: price %.4f exceeds cap %.2f", ErrPreconditionFailed, activity.Price, priceCapBuy), "price above cap")
	}
	if myPosition != nil && myPosition.Size > 0 {
		return fail(fmt.Errorf("%w: already holding position in %s", ErrPreconditionFailed, activity.ConditionID), "already holding position")
	}

	hasEarlier, err := h.Store.HasEarlierBuy(ctx, task.ID, activity.ConditionID, activity.Timestamp.Unix())
	if err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "dedup lookup failed", Err: err}
	}
	if hasEarlier {
		return fail(fmt.Errorf("%w: earlier done-ok BUY pending venue reflection", ErrPreconditionFailed), "recent-buy sentinel")
	}

	quoteBalance, err := h.Settlement.QuoteBalance(ctx, task.Live.OperatorWallet)
	if err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "quote balance fetch failed", Err: err}
	}

	notional := task.FixedAmount
	balanceCap := quoteBalance * balanceBuffer
	if notional > balanceCap {
		notional = balanceCap
	}
	if notional < minOrderUSD {
		return fail(fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrValidation, notional, minOrderUSD), "notional below minimum")
	}

	remaining := notional
	var boughtSize, spent float64
	retries := 0
	slippageAborted := false

	for remaining >= minOrderUSD && retries < liveRetryLimit {
		book, err := h.Books.OrderBook(ctx, activity.Asset)
		if err != nil {
			retries++
			continue
		}
		if len(book.Asks) == 0 {
			retries++
			continue
		}
		best := bestAsk(book)
		if best.Price > activity.Price+liveSlippageGuardAbs {
			// A tripped guard stops further buying, but any fill already
			// executed in an earlier iteration of this loop is real and
			// must still be persisted below, not discarded.
			slippageAborted = true
			break
		}

		orderNotional := remaining
		if maxFill := best.Size * best.Price; maxFill < orderNotional {
			orderNotional = maxFill
		}

		filledSize := orderNotional / best.Price
		boughtSize += filledSize
		spent += orderNotional
		remaining -= orderNotional
		retries = 0
	}
	exhausted := !slippageAborted && retries >= liveRetryLimit && remaining >= minOrderUSD && boughtSize == 0

	if boughtSize == 0 {
		if slippageAborted {
			return fail(fmt.Errorf("%w: best ask exceeds target %.4f + guard", ErrPreconditionFailed, activity.Price), "live slippage guard")
		}
		outcome := OutcomeDoneSkipped
		if exhausted {
			outcome = OutcomeDoneExhausted
		}
		return Result{Outcome: outcome, Reason: "no fill achieved"}
	}

	avgPrice := spent / boughtSize
	pos := &model.Position{
		TaskID: task.ID, Asset: activity.Asset, ConditionID: activity.ConditionID, OutcomeIndex: activity.OutcomeIndex,
		Size: boughtSize, AvgPrice: avgPrice, TotalBought: spent,
		Title: activity.Title, Slug: activity.Slug, OutcomeLabel: activity.OutcomeLabel,
	}
	if err := h.Store.UpsertPosition(ctx, pos); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "persist failed", Err: err}
	}

	activity.MyBoughtSize = boughtSize
	record := model.TradeRecord{
		TaskID: task.ID, TxHash: activity.TxHash, ConditionID: activity.ConditionID, Asset: activity.Asset,
		Side: model.SideBuy, Size: boughtSize, Price: avgPrice, QuoteAmount: spent,
		Mode: model.ModeLive, Timestamp: h.Now(),
	}
	if err := h.Store.InsertTradeRecord(ctx, &record); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "trade record write failed", Err: err}
	}

	task.CurrentBalance -= spent
	if err := h.Store.UpdateTask(ctx, task); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "balance update failed", Err: err}
	}

	if slippageAborted {
		return Result{Outcome: OutcomeDoneExhausted, Reason: "live slippage guard tripped after partial fill"}
	}
	if remaining >= minOrderUSD {
		return Result{Outcome: OutcomeDoneExhausted, Reason: "retry limit hit with remaining notional"}
	}
	return ok("buy filled")
}

func bestAsk(book venue.Book) venue.Level {
	best := book.Asks[0]
	for _, l := range book.Asks[1:] {
		if l.Price < best.Price {
			best = l
		}
	}
	return best
}

func bestBid(book venue.Book) (venue.Level, bool) {
	if len(book.Bids) == 0 {
		return venue.Level{}, false
	}
	best := book.Bids[0]
	for _, l := range book.Bids[1:] {
		if l.Price > best.Price {
			best = l
		}
	}
	return best, true
}

func toBookSnapshot(book venue.Book) orderbook.Book {
	out := orderbook.Book{Bids: make([]orderbook.Level, len(book.Bids)), Asks: make([]orderbook.Level, len(book.Asks))}
	for i, l := range book.Bids {
		out.Bids[i] = orderbook.Level{Price: l.Price, Size: l.Size}
	}
	for i, l := range book.Asks {
		out.Asks[i] = orderbook.Level{Price: l.Price, Size: l.Size}
	}
	return out
}

// sellRatio reconstructs T_before and the fraction of the target's
// pre-SELL position this one activity represents, per SPEC_FULL.md §4.7.c.
func sellRatio(targetNow float64, targetAbsent bool, pendingUnprocessedSize float64, tradeSize float64) (ratio float64, sellEverything bool) {
	if targetAbsent {
		return 0, true
	}
	tBefore := targetNow + pendingUnprocessedSize
	if tBefore <= 0 {
		return 0, true
	}
	return tradeSize / tBefore, false
}

// SellMock executes a simulated SELL fill.
func (h *Handlers) SellMock(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position, targetPosition *model.TargetPosition, pendingUnprocessedSellSize float64) Result {
	if myPosition == nil || myPosition.Size <= 0 {
		return ok("no position to sell")
	}

	baseSize := resolveSellBaseSize(myPosition.Size, myPosition.Size, targetPosition, pendingUnprocessedSellSize, activity.Size)
	if baseSize < 1.0 {
		return fail(fmt.Errorf("%w: computed sell size %.4f below 1 token", ErrValidation, baseSize), "below minimum sell size")
	}

	book, err := h.Books.OrderBook(ctx, activity.Asset)
	if err != nil {
		return fail(fmt.Errorf("handler: fetch order book: %w", err), "order book fetch failed")
	}

	fill := orderbook.Fill(toBookSnapshot(book), orderbook.SideSell, baseSize, activity.Price, orderbook.DefaultSlippagePctLimit)
	if !fill.Success {
		return fail(fmt.Errorf("%w: %s", ErrNoLiquidity, fill.Reason), fill.Reason)
	}

	realizedPnl := fill.QuoteAmount - fill.FillSize*myPosition.AvgPrice
	residual := myPosition.Size - fill.FillSize

	if residual <= positionResidualEpsilon {
		if err := h.Store.DeletePosition(ctx, task.ID, activity.Asset, activity.ConditionID); err != nil {
			return Result{Outcome: OutcomeDoneSkipped, Reason: "delete position failed", Err: err}
		}
	} else {
		myPosition.Size = residual
		myPosition.TotalBought -= fill.FillSize * myPosition.AvgPrice
		myPosition.RealizedPnl += realizedPnl
		if err := h.Store.UpsertPosition(ctx, myPosition); err != nil {
			return Result{Outcome: OutcomeDoneSkipped, Reason: "persist position failed", Err: err}
		}
	}

	record := model.TradeRecord{
		TaskID: task.ID, TxHash: activity.TxHash, ConditionID: activity.ConditionID, Asset: activity.Asset,
		Side: model.SideSell, Size: fill.FillSize, Price: fill.FillPrice, QuoteAmount: fill.QuoteAmount,
		RealizedPnl: realizedPnl, Mode: model.ModeMock, Timestamp: h.Now(),
	}
	if err := h.Store.InsertTradeRecord(ctx, &record); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "trade record write failed", Err: err}
	}

	task.CurrentBalance += fill.QuoteAmount
	if err := h.Store.UpdateTask(ctx, task); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "balance update failed", Err: err}
	}

	return ok("sell filled")
}

// resolveSellBaseSize applies the Mock/Live baseSize selection and clamp
// from SPEC_FULL.md §4.7.c.
func resolveSellBaseSize(myPositionSize, myBoughtSizeTotal float64, targetPosition *model.TargetPosition, pendingUnprocessedSellSize, tradeSize float64) float64 {
	targetNow := 0.0
	absent := targetPosition == nil
	if !absent {
		targetNow = targetPosition.Size
	}

	ratio, sellEverything := sellRatio(targetNow, absent, pendingUnprocessedSellSize, tradeSize)
	var baseSize float64
	if sellEverything {
		baseSize = myPositionSize
	} else if myBoughtSizeTotal > 0 {
		baseSize = myBoughtSizeTotal * ratio
	} else {
		baseSize = myPositionSize * ratio
	}

	if baseSize > myPositionSize {
		baseSize = myPositionSize
	}
	return baseSize
}

// SellLive runs a Live SELL, looping against the bid side of the live book
// the same way BuyLive loops against the ask side. As in BuyLive, the best
// bid is counted as filled and the result persisted locally; no order is
// submitted to the venue.
func (h *Handlers) SellLive(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position, myBoughtSizeTotal float64, targetPosition *model.TargetPosition, pendingUnprocessedSellSize float64) Result {
	if myPosition == nil || myPosition.Size <= 0 {
		return ok("no position to sell")
	}

	baseSize := resolveSellBaseSize(myPosition.Size, myBoughtSizeTotal, targetPosition, pendingUnprocessedSellSize, activity.Size)
	if baseSize < 1.0 {
		return fail(fmt.Errorf("%w: computed sell size %.4f below 1 token", ErrValidation, baseSize), "below minimum sell size")
	}

	remaining := baseSize
	var soldSize, received float64
	retries := 0
	exhausted := false

	for remaining >= 1.0 && retries < liveRetryLimit {
		book, err := h.Books.OrderBook(ctx, activity.Asset)
		if err != nil {
			retries++
			continue
		}
		best, found := bestBid(book)
		if !found {
			retries++
			continue
		}

		orderSize := remaining
		if best.Size < orderSize {
			orderSize = best.Size
		}

		soldSize += orderSize
		received += orderSize * best.Price
		remaining -= orderSize
		retries = 0
	}
	if retries >= liveRetryLimit && remaining >= 1.0 {
		exhausted = soldSize == 0
	}

	if soldSize == 0 {
		outcome := OutcomeDoneSkipped
		if exhausted {
			outcome = OutcomeDoneExhausted
		}
		return Result{Outcome: outcome, Reason: "no fill achieved"}
	}

	realizedPnl := received - soldSize*myPosition.AvgPrice
	residual := myPosition.Size - soldSize

	if residual <= positionResidualEpsilon {
		if err := h.Store.DeletePosition(ctx, task.ID, activity.Asset, activity.ConditionID); err != nil {
			return Result{Outcome: OutcomeDoneSkipped, Reason: "delete position failed", Err: err}
		}
	} else {
		myPosition.Size = residual
		myPosition.TotalBought -= soldSize * myPosition.AvgPrice
		myPosition.RealizedPnl += realizedPnl
		if err := h.Store.UpsertPosition(ctx, myPosition); err != nil {
			return Result{Outcome: OutcomeDoneSkipped, Reason: "persist position failed", Err: err}
		}
	}

	record := model.TradeRecord{
		TaskID: task.ID, TxHash: activity.TxHash, ConditionID: activity.ConditionID, Asset: activity.Asset,
		Side: model.SideSell, Size: soldSize, Price: received / soldSize, QuoteAmount: received,
		RealizedPnl: realizedPnl, Mode: model.ModeLive, Timestamp: h.Now(),
	}
	if err := h.Store.InsertTradeRecord(ctx, &record); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "trade record write failed", Err: err}
	}

	if err := h.scaleOrZeroBuyActivities(ctx, task.ID, activity.Asset, soldSize, myBoughtSizeTotal); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "buy activity rescale failed", Err: err}
	}

	if remaining >= 1.0 {
		return Result{Outcome: OutcomeDoneExhausted, Reason: "retry limit hit with remaining size"}
	}
	return ok("sell filled")
}

// scaleOrZeroBuyActivities rescales tracked myBoughtSize across prior BUY
// activities for this asset after a live SELL: zero them all once ≥99% of
// tracked tokens have been sold, otherwise scale each by (1 - soldFraction).
func (h *Handlers) scaleOrZeroBuyActivities(ctx context.Context, taskID, asset string, soldSize, myBoughtSizeTotal float64) error {
	if myBoughtSizeTotal <= 0 {
		return nil
	}
	soldFraction := soldSize / myBoughtSizeTotal
	zeroOut := soldFraction >= soldFractionZeroThreshold

	activities, err := h.Store.ListActivitiesByAsset(ctx, taskID, asset)
	if err != nil {
		return err
	}
	for i := range activities {
		a := &activities[i]
		if a.Side != model.SideBuy || a.MyBoughtSize <= 0 {
			continue
		}
		if zeroOut {
			a.MyBoughtSize = 0
		} else {
			a.MyBoughtSize *= 1 - soldFraction
		}
		if err := h.Store.UpdateActivity(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Redeem settles a winning position against the on-chain contract.
func (h *Handlers) Redeem(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position) Result {
	if myPosition == nil || myPosition.Size <= 0 {
		return ok("no position to redeem")
	}

	payoutRatio, err := h.Settlement.PayoutRatio(ctx, []byte(activity.ConditionID), activity.OutcomeIndex)
	if err != nil {
		if errors.Is(err, settlement.ErrNotSettled) || errors.Is(err, onchain.ErrOutcomeIndexOutOfRange) {
			return fail(err, "not settled")
		}
		return Result{Outcome: OutcomeDoneSkipped, Reason: "payout lookup failed", Err: err}
	}

	redeemValue := myPosition.Size * payoutRatio
	realizedPnl := redeemValue - myPosition.Size*myPosition.AvgPrice

	if task.Mode == model.ModeLive {
		receipt, err := h.Settlement.RedeemOnChain(ctx, task.Live.OperatorWallet, task.Live.PrivateKey, []byte(activity.ConditionID))
		if err != nil || !receipt.Success {
			return fail(fmt.Errorf("handler: on-chain redemption failed: %w", err), "redemption failed")
		}
	}

	if err := h.Store.DeletePosition(ctx, task.ID, activity.Asset, activity.ConditionID); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "delete position failed", Err: err}
	}

	record := model.TradeRecord{
		TaskID: task.ID, TxHash: activity.TxHash, ConditionID: activity.ConditionID, Asset: activity.Asset,
		Side: model.SideRedeem, Size: myPosition.Size, Price: payoutRatio, QuoteAmount: redeemValue,
		RealizedPnl: realizedPnl, Mode: task.Mode, Timestamp: h.Now(),
	}
	if err := h.Store.InsertTradeRecord(ctx, &record); err != nil {
		return Result{Outcome: OutcomeDoneSkipped, Reason: "trade record write failed", Err: err}
	}

	if task.Mode == model.ModeMock {
		task.CurrentBalance += redeemValue
		if err := h.Store.UpdateTask(ctx, task); err != nil {
			return Result{Outcome: OutcomeDoneSkipped, Reason: "balance update failed", Err: err}
		}
	}

	return ok("redeemed")
}
