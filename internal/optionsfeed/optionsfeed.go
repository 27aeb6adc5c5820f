// Package optionsfeed defines the consumed options market-data contract
// (spec §6: option_chain(symbol, expiries) -> [{strike, right, oi, gamma,
// iv, last}]) and a REST adapter, modeled on the typed-client-over-REST
// shape the teacher uses for its chain adapters.
package optionsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/trading-core/internal/corerr"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Client is the consumed-contract interface the GEX engine depends on.
type Client interface {
	OptionChain(ctx context.Context, symbol string, expiries []string) ([]types.OptionQuote, error)
}

// RESTClient is a thin adapter over an options data vendor's REST API.
type RESTClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewRESTClient constructs an adapter against baseURL.
func NewRESTClient(baseURL string, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 8 * time.Second},
		logger:  logger,
	}
}

type chainRow struct {
	Strike string `json:"strike"`
	Right  string `json:"right"`
	OI     string `json:"oi"`
	Gamma  string `json:"gamma"`
	IV     string `json:"iv"`
	Last   string `json:"last"`
}

// OptionChain fetches the option chain for symbol across the given
// expiries. All numerics cross the wire as strings, parsed through the
// Decimal Kernel — never json.Unmarshal into float64.
func (c *RESTClient) OptionChain(ctx context.Context, symbol string, expiries []string) ([]types.OptionQuote, error) {
	url := fmt.Sprintf("%s/v1/options/%s/chain", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "build option chain request", err)
	}
	q := req.URL.Query()
	for _, e := range expiries {
		q.Add("expiry", e)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "fetch option chain", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, corerr.New(corerr.KindTransientIO, fmt.Sprintf("option chain status %d", resp.StatusCode))
	}

	var rows []chainRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "decode option chain", err)
	}

	quotes := make([]types.OptionQuote, 0, len(rows))
	for _, r := range rows {
		q, err := parseRow(r)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "parse option row", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func parseRow(r chainRow) (types.OptionQuote, error) {
	strike, err := money.Parse(r.Strike)
	if err != nil {
		return types.OptionQuote{}, err
	}
	oi, err := money.Parse(r.OI)
	if err != nil {
		return types.OptionQuote{}, err
	}
	gamma, err := money.Parse(r.Gamma)
	if err != nil {
		return types.OptionQuote{}, err
	}
	iv, err := money.Parse(r.IV)
	if err != nil {
		return types.OptionQuote{}, err
	}
	last, err := money.Parse(r.Last)
	if err != nil {
		return types.OptionQuote{}, err
	}
	return types.OptionQuote{Strike: strike, Right: r.Right, OI: oi, Gamma: gamma, IV: iv, Last: last}, nil
}
