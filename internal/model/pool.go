package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PoolPair is the metadata of a two-token liquidity pool.
type PoolPair struct {
	ID             string
	Symbol         string // "TokenA-TokenB"
	ReserveA       decimal.Decimal
	ReserveB       decimal.Decimal
	TotalLiquidity decimal.Decimal
}

// Tokens splits the pool symbol into its two token symbols.
func (p PoolPair) Tokens() (tokenA, tokenB string) {
	a, b, _ := strings.Cut(p.Symbol, "-")
	return a, b
}

// Contains reports whether symbol is one side of the pool.
func (p PoolPair) Contains(symbol string) bool {
	a, b := p.Tokens()
	return a == symbol || b == symbol
}

// Other returns the side of the pool that is not symbol.
func (p PoolPair) Other(symbol string) (string, bool) {
	a, b := p.Tokens()
	switch symbol {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return "", false
	}
}

// Reserve returns the reserve held for symbol.
func (p PoolPair) Reserve(symbol string) (decimal.Decimal, bool) {
	a, b := p.Tokens()
	switch symbol {
	case a:
		return p.ReserveA, true
	case b:
		return p.ReserveB, true
	default:
		return decimal.Zero, false
	}
}

// PairSymbol returns the pool-token symbol formed by two tokens.
func PairSymbol(tokenA, tokenB string) string {
	return tokenA + "-" + tokenB
}
