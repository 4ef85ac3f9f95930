package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places the ledger accepts for token amounts.
const Precision = 8

// Balances maps a token symbol to an amount held under one account scope.
type Balances map[string]decimal.Decimal

// Get returns the balance of symbol, or zero when the symbol is absent.
func (b Balances) Get(symbol string) decimal.Decimal {
	if v, ok := b[symbol]; ok {
		return v
	}
	return decimal.Zero
}

// TokenAmount is an amount of a single token.
type TokenAmount struct {
	Symbol string
	Amount decimal.Decimal
}

// String renders the ledger's "amount@SYMBOL" notation.
func (t TokenAmount) String() string {
	return t.Amount.StringFixed(Precision) + "@" + t.Symbol
}

// ParseTokenAmount parses "amount@SYMBOL".
func ParseTokenAmount(s string) (TokenAmount, error) {
	amount, symbol, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || symbol == "" {
		return TokenAmount{}, fmt.Errorf("invalid token amount %q", s)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	return TokenAmount{Symbol: symbol, Amount: d}, nil
}

// SubAccount is one owner address of the wallet with its token balances.
type SubAccount struct {
	Owner    string
	Balances Balances
}
