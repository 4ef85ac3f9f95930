package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Compounder/internal/calculator"
	"Compounder/internal/ledger"
	"Compounder/internal/model"
)

// DefaultTTL is how long pool reserves and fetched prices are reused.
const DefaultTTL = 60 * time.Second

// ErrNoPrice is returned for a token that no pool connects to the base token.
var ErrNoPrice = errors.New("no price route")

// Ledger is the read-only part of the ledger the valuator needs.
type Ledger interface {
	SpendableBalance(ctx context.Context) (decimal.Decimal, error)
	TokenBalances(ctx context.Context, scope ledger.Scope) (model.Balances, error)
	PoolPairs(ctx context.Context) ([]model.PoolPair, error)
}

// Holding is one token position with its fiat valuation.
type Holding struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
	Priced bool            `json:"priced"`
}

// Report is the valued holdings of the wallet.
type Report struct {
	Currency string          `json:"currency"`
	Holdings []Holding       `json:"holdings"`
	Total    decimal.Decimal `json:"total"`
	At       time.Time       `json:"at"`
}

// Valuator prices tokens and wallet holdings.
type Valuator struct {
	ledger   Ledger
	source   PriceSource
	base     string
	currency string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	fetchedAt time.Time
	pairs     []model.PoolPair
	inBase    map[string]decimal.Decimal
	fiat      map[string]decimal.Decimal
}

// Option configures a Valuator.
type Option func(*Valuator)

func WithTTL(d time.Duration) Option { return func(v *Valuator) { v.ttl = d } }

func WithLogger(l *zap.Logger) Option { return func(v *Valuator) { v.logger = l } }

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option { return func(v *Valuator) { v.now = now } }

// NewValuator builds a Valuator pricing in currency, with base as the token
// the price source quotes.
func NewValuator(l Ledger, source PriceSource, base, currency string, opts ...Option) *Valuator {
	v := &Valuator{
		ledger:   l,
		source:   source,
		base:     base,
		currency: strings.ToLower(currency),
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v
}

// Currency returns the fiat currency prices are quoted in.
func (v *Valuator) Currency() string { return v.currency }

// Price returns the fiat price of one unit of symbol.
func (v *Valuator) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.refresh(ctx); err != nil {
		return decimal.Zero, err
	}
	fiat, err := v.basePrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := v.priceInBase(symbol, map[string]bool{})
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Mul(fiat), nil
}

// Holdings values every token of the wallet, spendable funds included in the
// base token row. Tokens without a price route are listed unpriced.
func (v *Valuator) Holdings(ctx context.Context) (*Report, error) {
	spendable, err := v.ledger.SpendableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read spendable balance: %w", err)
	}
	balances, err := v.ledger.TokenBalances(ctx, ledger.Wallet)
	if err != nil {
		return nil, fmt.Errorf("read token balances: %w", err)
	}
	amounts := make(model.Balances, len(balances)+1)
	for sym, amt := range balances {
		amounts[sym] = amt
	}
	amounts[v.base] = amounts.Get(v.base).Add(spendable)

	report := &Report{Currency: v.currency, At: v.now(), Total: decimal.Zero}
	for sym, amt := range amounts {
		if amt.IsZero() {
			continue
		}
		h := Holding{Symbol: sym, Amount: amt}
		price, err := v.Price(ctx, sym)
		switch {
		case err == nil:
			h.Price, h.Value, h.Priced = price, price.Mul(amt), true
			report.Total = report.Total.Add(h.Value)
		case errors.Is(err, ErrNoPrice):
			v.logger.Debug("token has no price route", zap.String("symbol", sym))
		default:
			return nil, err
		}
		report.Holdings = append(report.Holdings, h)
	}

	sort.Slice(report.Holdings, func(i, j int) bool {
		a, b := report.Holdings[i], report.Holdings[j]
		if !a.Value.Equal(b.Value) {
			return a.Value.GreaterThan(b.Value)
		}
		return a.Symbol < b.Symbol
	})
	return report, nil
}

// refresh reloads the pool list once the cache expired. Caller holds mu.
func (v *Valuator) refresh(ctx context.Context) error {
	if v.inBase != nil && v.now().Sub(v.fetchedAt) < v.ttl {
		return nil
	}
	pairs, err := v.ledger.PoolPairs(ctx)
	if err != nil {
		return fmt.Errorf("list pool pairs: %w", err)
	}
	v.pairs = pairs
	v.inBase = map[string]decimal.Decimal{v.base: decimal.NewFromInt(1)}
	v.fiat = map[string]decimal.Decimal{}
	v.fetchedAt = v.now()
	return nil
}

func (v *Valuator) basePrice(ctx context.Context) (decimal.Decimal, error) {
	if p, ok := v.fiat[v.currency]; ok {
		return p, nil
	}
	p, err := v.source.BasePrice(ctx, v.currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s price: %w", v.source.Name(), err)
	}
	v.fiat[v.currency] = p
	v.logger.Debug("base price fetched", zap.String("source", v.source.Name()), zap.String("currency", v.currency), zap.String("price", p.String()))
	return p, nil
}

// priceInBase resolves symbol to base token units. Pool tokens are valued by
// their share of both reserves; other tokens through the first pool that
// lists them, preferring pools where they are token A.
func (v *Valuator) priceInBase(symbol string, visiting map[string]bool) (decimal.Decimal, error) {
	if p, ok := v.inBase[symbol]; ok {
		return p, nil
	}
	if visiting[symbol] {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	visiting[symbol] = true

	if pair, ok := v.pool(symbol); ok {
		a, b, err := calculator.ShareValue(pair, decimal.NewFromInt(1))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
		}
		tokenA, tokenB := pair.Tokens()
		pa, err := v.priceInBase(tokenA, visiting)
		if err != nil {
			return decimal.Zero, err
		}
		pb, err := v.priceInBase(tokenB, visiting)
		if err != nil {
			return decimal.Zero, err
		}
		p := a.Mul(pa).Add(b.Mul(pb))
		v.inBase[symbol] = p
		return p, nil
	}

	for _, side := range []int{0, 1} {
		for _, pair := range v.pairs {
			tokenA, tokenB := pair.Tokens()
			own, counter := tokenA, tokenB
			if side == 1 {
				own, counter = tokenB, tokenA
			}
			if own != symbol {
				continue
			}
			rate, err := calculator.PoolPrice(pair, symbol)
			if err != nil {
				continue
			}
			pc, err := v.priceInBase(counter, visiting)
			if err != nil {
				continue
			}
			p := rate.Mul(pc)
			v.inBase[symbol] = p
			return p, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
}

func (v *Valuator) pool(symbol string) (model.PoolPair, bool) {
	if !strings.Contains(symbol, "-") {
		return model.PoolPair{}, false
	}
	for _, p := range v.pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return model.PoolPair{}, false
}
