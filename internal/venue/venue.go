// Package venue defines the read-only collaborator surface the core depends
// on for trader activity, positions, and order-book data (SPEC_FULL.md §6).
// Only the contracts are described here; the HTTP implementations are thin
// adapters, and in-memory fakes back unit tests.
package venue

import (
	"context"
	"time"

	"github.com/copytrade/engine/internal/model"
)

// ActivityPage is one page of the target's recent activity, as returned by
// the data API's /activity endpoint.
type ActivityPage struct {
	TxHash       string
	Timestamp    time.Time
	ConditionID  string
	Asset        string
	Side         model.Side
	Size         float64
	Notional     float64
	Price        float64
	OutcomeIndex int
	Title        string
	Slug         string
	OutcomeLabel string
}

// DataClient is the data-API collaborator (§6 "Data API").
type DataClient interface {
	// Activity fetches the target address's activity since `since`.
	Activity(ctx context.Context, targetAddress string, since time.Time) ([]ActivityPage, error)
	// Positions fetches the target address's current non-redeemable
	// positions.
	Positions(ctx context.Context, targetAddress string) ([]model.TargetPosition, error)
}

// BookClient is the order-book-API collaborator (§6 "Order-book API").
type BookClient interface {
	// OrderBook fetches the current book for an asset.
	OrderBook(ctx context.Context, assetID string) (Book, error)
	// Price fetches the best sell-side price quote for an asset, used as a
	// slippage-guard reference during Live execution.
	Price(ctx context.Context, assetID string) (float64, error)
	// Time fetches the venue's server clock, used as a health probe.
	Time(ctx context.Context) (time.Time, error)
}

// Level is one price/size rung of a book side, as returned over the wire.
type Level struct {
	Price float64
	Size  float64
}

// Book is the wire shape of /orderbook/{assetId}.
type Book struct {
	Bids []Level
	Asks []Level
}
