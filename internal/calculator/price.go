package calculator

import (
	"errors"

	"github.com/shopspring/decimal"

	"Compounder/internal/model"
)

// PoolPrice returns the price of symbol in units of the pool's other token.
func PoolPrice(pair model.PoolPair, symbol string) (decimal.Decimal, error) {
	other, ok := pair.Other(symbol)
	if !ok {
		return decimal.Zero, errors.New("symbol not in pool " + pair.Symbol)
	}
	own, _ := pair.Reserve(symbol)
	counter, _ := pair.Reserve(other)
	if own.IsZero() {
		return decimal.Zero, errors.New("empty reserve in pool " + pair.Symbol)
	}
	return counter.DivRound(own, 16), nil
}

// SwapOutput returns the constant-product output for amountIn of symbol
// swapped through pair, before fees.
func SwapOutput(pair model.PoolPair, symbol string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	other, ok := pair.Other(symbol)
	if !ok {
		return decimal.Zero, errors.New("symbol not in pool " + pair.Symbol)
	}
	reserveIn, _ := pair.Reserve(symbol)
	reserveOut, _ := pair.Reserve(other)
	denominator := reserveIn.Add(amountIn)
	if denominator.IsZero() {
		return decimal.Zero, errors.New("empty reserve in pool " + pair.Symbol)
	}
	return Quantize(reserveOut.Mul(amountIn).DivRound(denominator, 16)), nil
}

// ShareValue returns the amounts of both pool tokens redeemable for a pool-token balance.
func ShareValue(pair model.PoolPair, shares decimal.Decimal) (amountA, amountB decimal.Decimal, err error) {
	if pair.TotalLiquidity.IsZero() {
		return decimal.Zero, decimal.Zero, errors.New("pool " + pair.Symbol + " has no liquidity")
	}
	ratio := shares.DivRound(pair.TotalLiquidity, 16)
	return pair.ReserveA.Mul(ratio), pair.ReserveB.Mul(ratio), nil
}
