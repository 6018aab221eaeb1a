package venue

import (
	"context"
	"time"

	"github.com/copytrade/engine/internal/model"
)

// Fake is an in-memory DataClient + BookClient used by tests. Seeded
// directly by field assignment — there is no builder API because tests
// benefit from seeing the literal fixture shape.
type Fake struct {
	ActivityPages map[string][]ActivityPage      // targetAddress -> pages
	TargetPos     map[string][]model.TargetPosition // targetAddress -> positions
	Books         map[string]Book                // assetID -> book
	Prices        map[string]float64             // assetID -> sell price
	Now           time.Time

	// BookSequence, when set for an assetID, is popped one call at a time
	// instead of returning the static Books entry — for tests that need the
	// live book to move between successive retry-loop iterations (e.g. a
	// BuyLive/SellLive retry walking into a slippage guard).
	BookSequence map[string][]Book
}

// NewFake creates an empty fake venue.
func NewFake() *Fake {
	return &Fake{
		ActivityPages: make(map[string][]ActivityPage),
		TargetPos:     make(map[string][]model.TargetPosition),
		Books:         make(map[string]Book),
		Prices:        make(map[string]float64),
		BookSequence:  make(map[string][]Book),
		Now:           time.Now(),
	}
}

func (f *Fake) Activity(_ context.Context, targetAddress string, since time.Time) ([]ActivityPage, error) {
	var out []ActivityPage
	for _, a := range f.ActivityPages[targetAddress] {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *Fake) Positions(_ context.Context, targetAddress string) ([]model.TargetPosition, error) {
	return f.TargetPos[targetAddress], nil
}

func (f *Fake) OrderBook(_ context.Context, assetID string) (Book, error) {
	if seq := f.BookSequence[assetID]; len(seq) > 0 {
		next := seq[0]
		f.BookSequence[assetID] = seq[1:]
		return next, nil
	}
	return f.Books[assetID], nil
}

func (f *Fake) Price(_ context.Context, assetID string) (float64, error) {
	return f.Prices[assetID], nil
}

func (f *Fake) Time(_ context.Context) (time.Time, error) {
	return f.Now, nil
}
