package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/copytrade/engine/internal/httpx"
	"github.com/copytrade/engine/internal/model"
)

// HTTPClient implements DataClient and BookClient against the JSON HTTP
// endpoints described in SPEC_FULL.md §6.
type HTTPClient struct {
	baseURL    string
	orderbookURL string
	client     *http.Client
}

// NewHTTPClient builds a venue client. dataBaseURL serves /activity and
// /positions; bookBaseURL serves /orderbook, /price, and /time. In
// deployments the same host typically serves both.
func NewHTTPClient(dataBaseURL, bookBaseURL string) *HTTPClient {
	return &HTTPClient{baseURL: dataBaseURL, orderbookURL: bookBaseURL, client: httpx.NewClient()}
}

type wireActivity struct {
	TxHash       string  `json:"txHash"`
	Timestamp    int64   `json:"timestamp"`
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	Side         string  `json:"side"`
	Size         float64 `json:"size"`
	Notional     float64 `json:"notional"`
	Price        float64 `json:"price"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	OutcomeLabel string  `json:"outcomeLabel"`
}

func (c *HTTPClient) Activity(ctx context.Context, targetAddress string, since time.Time) ([]ActivityPage, error) {
	u := fmt.Sprintf("%s/activity?user=%s&start=%d", c.baseURL, url.QueryEscape(targetAddress), since.Unix())

	var wire []wireActivity
	if err := c.getJSON(ctx, u, &wire); err != nil {
		return nil, err
	}

	out := make([]ActivityPage, len(wire))
	for i, w := range wire {
		out[i] = ActivityPage{
			TxHash:       w.TxHash,
			Timestamp:    time.Unix(w.Timestamp, 0).UTC(),
			ConditionID:  w.ConditionID,
			Asset:        w.Asset,
			Side:         model.Side(w.Side),
			Size:         w.Size,
			Notional:     w.Notional,
			Price:        w.Price,
			OutcomeIndex: w.OutcomeIndex,
			Title:        w.Title,
			Slug:         w.Slug,
			OutcomeLabel: w.OutcomeLabel,
		}
	}
	return out, nil
}

type wirePosition struct {
	ConditionID string  `json:"conditionId"`
	Asset       string  `json:"asset"`
	Size        float64 `json:"size"`
}

func (c *HTTPClient) Positions(ctx context.Context, targetAddress string) ([]model.TargetPosition, error) {
	u := fmt.Sprintf("%s/positions?user=%s&redeemable=false&limit=500", c.baseURL, url.QueryEscape(targetAddress))

	var wire []wirePosition
	if err := c.getJSON(ctx, u, &wire); err != nil {
		return nil, err
	}

	out := make([]model.TargetPosition, len(wire))
	for i, w := range wire {
		out[i] = model.TargetPosition{ConditionID: w.ConditionID, Asset: w.Asset, Size: w.Size}
	}
	return out, nil
}

type wireBook struct {
	Bids []wireLevel `json:"bids"`
	Asks []wireLevel `json:"asks"`
}

type wireLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (c *HTTPClient) OrderBook(ctx context.Context, assetID string) (Book, error) {
	u := fmt.Sprintf("%s/orderbook/%s", c.orderbookURL, url.PathEscape(assetID))

	var wire wireBook
	if err := c.getJSON(ctx, u, &wire); err != nil {
		return Book{}, err
	}

	book := Book{Bids: make([]Level, len(wire.Bids)), Asks: make([]Level, len(wire.Asks))}
	for i, l := range wire.Bids {
		book.Bids[i] = Level{Price: l.Price, Size: l.Size}
	}
	for i, l := range wire.Asks {
		book.Asks[i] = Level{Price: l.Price, Size: l.Size}
	}
	return book, nil
}

func (c *HTTPClient) Price(ctx context.Context, assetID string) (float64, error) {
	u := fmt.Sprintf("%s/price?token_id=%s&side=sell", c.orderbookURL, url.QueryEscape(assetID))

	var wire struct {
		Price float64 `json:"price"`
	}
	if err := c.getJSON(ctx, u, &wire); err != nil {
		return 0, err
	}
	return wire.Price, nil
}

func (c *HTTPClient) Time(ctx context.Context) (time.Time, error) {
	u := c.orderbookURL + "/time"

	var wire struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.getJSON(ctx, u, &wire); err != nil {
		return time.Time{}, err
	}
	return time.Unix(wire.Timestamp, 0).UTC(), nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, dest interface{}) error {
	return httpx.Do(ctx, func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	})
}
