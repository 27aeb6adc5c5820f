// Package broker defines the consumed broker contract (spec §6:
// get_account, get_quote) and a paper-trading REST adapter, modeled on
// the typed-client-over-REST shape the teacher uses for its exchange
// adapters. No live order placement is implemented; the adapter's sole
// safety-critical job is refusing to start against a non-paper host.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/atlas-desktop/trading-core/internal/corerr"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

const (
	maxGetAttempts    = 3
	initialGetBackoff = 100 * time.Millisecond
	maxGetBackoff     = 2 * time.Second
	backoffMultiplier = 2.0
)

// Client is the consumed-contract interface every component depends on.
type Client interface {
	GetAccount(ctx context.Context) (types.AccountSnapshot, error)
	GetQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// PaperClient adapts a paper-trading broker's REST API. NewPaperClient
// refuses to construct against a host that doesn't look like the paper
// endpoint — a fatal safety-config violation, not a recoverable one.
type PaperClient struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
	logger  *zap.Logger
}

// NewPaperClient validates baseURL is the configured paper host before
// returning a client. Any other host is a KindSafetyConfig error: this
// core never talks to a live trading endpoint.
func NewPaperClient(baseURL, keyID, secret string, logger *zap.Logger) (*PaperClient, error) {
	if !strings.Contains(strings.ToLower(baseURL), "paper") {
		return nil, corerr.New(corerr.KindSafetyConfig,
			"BROKER_PAPER_BASE_URL does not look like a paper-trading host: "+baseURL)
	}
	return &PaperClient{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		http:    &http.Client{Timeout: 8 * time.Second},
		logger:  logger,
	}, nil
}

type accountResponse struct {
	Equity      string             `json:"equity"`
	Cash        string             `json:"cash"`
	BuyingPower string             `json:"buying_power"`
	Positions   []positionResponse `json:"positions"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// GetAccount fetches equity, cash, buying power, and open positions.
func (c *PaperClient) GetAccount(ctx context.Context) (types.AccountSnapshot, error) {
	var resp accountResponse
	if err := c.get(ctx, "/v2/account", &resp); err != nil {
		return types.AccountSnapshot{}, err
	}

	equity, err := money.Parse(resp.Equity)
	if err != nil {
		return types.AccountSnapshot{}, corerr.Wrap(corerr.KindValidation, "parse equity", err)
	}
	cash, err := money.Parse(resp.Cash)
	if err != nil {
		return types.AccountSnapshot{}, corerr.Wrap(corerr.KindValidation, "parse cash", err)
	}
	buyingPower, err := money.Parse(resp.BuyingPower)
	if err != nil {
		return types.AccountSnapshot{}, corerr.Wrap(corerr.KindValidation, "parse buying power", err)
	}

	positions := make([]types.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		qty, err := money.Parse(p.Qty)
		if err != nil {
			return types.AccountSnapshot{}, corerr.Wrap(corerr.KindValidation, "parse position qty", err)
		}
		avg, err := money.Parse(p.AvgEntryPrice)
		if err != nil {
			return types.AccountSnapshot{}, corerr.Wrap(corerr.KindValidation, "parse position avg entry", err)
		}
		positions = append(positions, types.Position{Symbol: p.Symbol, Quantity: qty, AvgEntryPrice: avg})
	}

	return types.AccountSnapshot{
		Equity:      equity,
		Cash:        cash,
		BuyingPower: buyingPower,
		Positions:   positions,
		AsOf:        time.Now(),
	}, nil
}

type quoteResponse struct {
	Bid  string `json:"bid"`
	Ask  string `json:"ask"`
	Last string `json:"last"`
}

// GetQuote fetches the current bid/ask/last for symbol.
func (c *PaperClient) GetQuote(ctx context.Context, symbol string) (types.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/v2/stocks/"+symbol+"/quote", &resp); err != nil {
		return types.Quote{}, err
	}
	bid, err := money.Parse(resp.Bid)
	if err != nil {
		return types.Quote{}, corerr.Wrap(corerr.KindValidation, "parse bid", err)
	}
	ask, err := money.Parse(resp.Ask)
	if err != nil {
		return types.Quote{}, corerr.Wrap(corerr.KindValidation, "parse ask", err)
	}
	last, err := money.Parse(resp.Last)
	if err != nil {
		return types.Quote{}, corerr.Wrap(corerr.KindValidation, "parse last", err)
	}
	return types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Last: last, TS: time.Now()}, nil
}

// get issues a GET and retries a transient (network or non-200) failure up
// to maxGetAttempts times with full-jitter exponential backoff. A
// validation failure (bad request, bad response body) never retries.
func (c *PaperClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return corerr.Wrap(corerr.KindValidation, "build request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)

	delay := initialGetBackoff
	var lastErr error
	for attempt := 1; attempt <= maxGetAttempts; attempt++ {
		lastErr = c.doGet(req, path, out)
		if lastErr == nil {
			return nil
		}
		if !corerr.IsTransient(lastErr) || attempt == maxGetAttempts {
			break
		}

		jittered := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return corerr.Wrap(corerr.KindTransientIO, "broker request canceled", ctx.Err())
		}
		delay = time.Duration(float64(delay) * backoffMultiplier)
		if delay > maxGetBackoff {
			delay = maxGetBackoff
		}
	}
	return lastErr
}

func (c *PaperClient) doGet(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "broker request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return corerr.New(corerr.KindTransientIO, fmt.Sprintf("broker status %d on %s", resp.StatusCode, path))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return corerr.Wrap(corerr.KindValidation, "decode broker response", err)
	}
	return nil
}
