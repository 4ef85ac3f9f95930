// Package valuation prices wallet holdings in a fiat currency: the base token
// through an external price feed, every other token through the pool reserves.
package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	clierr "Compounder/internal/errors"
)

// PriceSource returns the fiat price of the base token.
type PriceSource interface {
	BasePrice(ctx context.Context, currency string) (decimal.Decimal, error)
	Name() string
}

// DefaultCoinGeckoURL is the public CoinGecko API root.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoFetcher implements PriceSource using the CoinGecko simple price API.
type CoinGeckoFetcher struct {
	Client  *http.Client
	BaseURL string
	CoinID  string
}

// NewCoinGeckoFetcher creates a fetcher with optional proxy support.
func NewCoinGeckoFetcher(baseURL, coinID, proxyURL string) *CoinGeckoFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if coinID == "" {
		coinID = "defichain"
	}
	return &CoinGeckoFetcher{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		BaseURL: strings.TrimRight(baseURL, "/"),
		CoinID:  coinID,
	}
}

func (f *CoinGeckoFetcher) Name() string { return "coingecko" }

// BasePrice fetches the price of the configured coin in currency.
func (f *CoinGeckoFetcher) BasePrice(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToLower(currency)
	q := url.Values{}
	q.Set("ids", f.CoinID)
	q.Set("vs_currencies", currency)
	apiURL := f.BaseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeInternal, "build price request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "price request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "read price response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var result map[string]map[string]json.Number
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "decode price response", err)
	}
	raw, ok := result[f.CoinID][currency]
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no %s price for %s", currency, f.CoinID))
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "parse price", err)
	}
	return price, nil
}
