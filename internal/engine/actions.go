package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Compounder/internal/calculator"
	"Compounder/internal/confirm"
	clierr "Compounder/internal/errors"
	"Compounder/internal/ledger"
	"Compounder/internal/model"
)

func (e *Engine) accountBalance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	balances, err := e.gw.TokenBalances(ctx, ledger.Account(e.cfg.Address))
	if err != nil {
		return decimal.Zero, err
	}
	return balances.Get(symbol), nil
}

func (e *Engine) observeAccount(symbol string) confirm.Observer {
	return func(ctx context.Context) (decimal.Decimal, error) {
		return e.accountBalance(ctx, symbol)
	}
}

// EnsureAccountBalance makes sure the primary account holds at least required
// of the base token, converting the shortfall from spendable funds.
func (e *Engine) EnsureAccountBalance(ctx context.Context, required decimal.Decimal) error {
	base := e.cfg.BaseSymbol
	current, err := e.accountBalance(ctx, base)
	if err != nil {
		return fmt.Errorf("read %s balance: %w", base, err)
	}
	shortfall, needed := calculator.Shortfall(current, required)
	if !needed {
		e.logger.Debug("account balance sufficient", zap.String("symbol", base), zap.String("balance", current.String()), zap.String("required", required.String()))
		return nil
	}

	txid, err := e.gw.SpendableToAccount(ctx, e.cfg.Address, shortfall)
	if err != nil {
		e.checkpoint(ctx, model.StepToAccount, base, shortfall, "", model.CheckpointFailed, err.Error())
		return fmt.Errorf("convert %s to account: %w", shortfall, err)
	}
	e.checkpoint(ctx, model.StepToAccount, base, shortfall, txid, model.CheckpointSubmitted, "")

	if _, err := e.poller.Await(ctx, model.StepToAccount, e.observeAccount(base), confirm.AtLeast(required)); err != nil {
		return err
	}
	e.checkpoint(ctx, model.StepToAccount, base, shortfall, txid, model.CheckpointConfirmed, "")
	return nil
}

// Swap exchanges amount of from into to and returns the amount received.
func (e *Engine) Swap(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == e.cfg.BaseSymbol {
		if err := e.EnsureAccountBalance(ctx, amount); err != nil {
			return decimal.Zero, err
		}
	}

	before, err := e.accountBalance(ctx, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s balance: %w", to, err)
	}

	txid, err := e.gw.Swap(ctx, ledger.SwapRequest{
		From:       e.cfg.Address,
		TokenFrom:  from,
		AmountFrom: amount,
		To:         e.cfg.Address,
		TokenTo:    to,
	})
	if err != nil {
		e.checkpoint(ctx, model.StepSwap, from, amount, "", model.CheckpointFailed, err.Error())
		return decimal.Zero, fmt.Errorf("swap %s %s to %s: %w", amount, from, to, err)
	}
	e.checkpoint(ctx, model.StepSwap, from, amount, txid, model.CheckpointSubmitted, "to "+to)

	after, err := e.poller.Await(ctx, model.StepSwap, e.observeAccount(to), confirm.Differs(before))
	if err != nil {
		return decimal.Zero, err
	}
	received := after.Sub(before)
	e.checkpoint(ctx, model.StepSwap, to, received, txid, model.CheckpointConfirmed, "received")
	return received, nil
}

// ProvideLiquidity turns amount of symbol into a position in pair: one half is
// swapped into the other token of the pair and both halves are deposited.
// It returns the pool shares received.
func (e *Engine) ProvideLiquidity(ctx context.Context, amount decimal.Decimal, symbol, pair string) (decimal.Decimal, error) {
	other, ok := model.PoolPair{Symbol: pair}.Other(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s is not part of pool %s", symbol, pair)
	}
	if symbol == e.cfg.BaseSymbol {
		if err := e.EnsureAccountBalance(ctx, amount); err != nil {
			return decimal.Zero, err
		}
	}

	half, kept := calculator.SplitHalf(amount)
	received, err := e.Swap(ctx, half, symbol, other)
	if err != nil {
		return decimal.Zero, err
	}

	before, err := e.accountBalance(ctx, pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s balance: %w", pair, err)
	}

	a := model.TokenAmount{Symbol: symbol, Amount: kept}
	b := model.TokenAmount{Symbol: other, Amount: received}
	if tokenA, _ := (model.PoolPair{Symbol: pair}).Tokens(); tokenA == other {
		a, b = b, a
	}
	txid, err := e.gw.AddLiquidity(ctx, e.cfg.Address, a, b)
	if err != nil {
		// The swapped half stays in the account; there is no automatic unwind.
		e.checkpoint(ctx, model.StepAddLiquidity, pair, decimal.Zero, "", model.CheckpointFailed, err.Error())
		return decimal.Zero, fmt.Errorf("add liquidity %s + %s: %w", a, b, err)
	}
	e.checkpoint(ctx, model.StepAddLiquidity, pair, decimal.Zero, txid, model.CheckpointSubmitted, a.String()+" "+b.String())

	after, err := e.poller.Await(ctx, model.StepAddLiquidity, e.observeAccount(pair), confirm.Differs(before))
	if err != nil {
		return decimal.Zero, err
	}
	shares := after.Sub(before)
	e.checkpoint(ctx, model.StepAddLiquidity, pair, shares, txid, model.CheckpointConfirmed, "")
	return shares, nil
}

// Transfer sends amount to address, first topping up spendable funds from
// the account so that the reserve stays behind after the payment.
func (e *Engine) Transfer(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	spendable, err := e.gw.SpendableBalance(ctx)
	if err != nil {
		return "", fmt.Errorf("read spendable balance: %w", err)
	}

	if topUp, needed := calculator.ReserveTopUp(spendable, amount, e.cfg.Reserve); needed {
		base := e.cfg.BaseSymbol
		txid, err := e.gw.AccountToSpendable(ctx, e.cfg.Address, topUp)
		if err != nil {
			e.checkpoint(ctx, model.StepToSpendable, base, topUp, "", model.CheckpointFailed, err.Error())
			return "", fmt.Errorf("convert %s to spendable: %w", topUp, err)
		}
		e.checkpoint(ctx, model.StepToSpendable, base, topUp, txid, model.CheckpointSubmitted, "")

		// The conversion fee comes out of spendable funds, so the settled
		// balance is below amount + reserve by the fee.
		settled, err := e.poller.Await(ctx, model.StepToSpendable, e.gw.SpendableBalance, confirm.Differs(spendable))
		if err != nil {
			return "", err
		}
		if settled.LessThan(amount) {
			e.checkpoint(ctx, model.StepToSpendable, base, topUp, txid, model.CheckpointFailed, "settled "+settled.String())
			return "", clierr.New(clierr.CodeLedger, fmt.Sprintf("spendable %s after top-up does not cover %s", settled, amount))
		}
		e.checkpoint(ctx, model.StepToSpendable, base, topUp, txid, model.CheckpointConfirmed, "")
	}

	txid, err := e.gw.SendToAddress(ctx, address, amount)
	if err != nil {
		e.checkpoint(ctx, model.StepSend, e.cfg.BaseSymbol, amount, "", model.CheckpointFailed, err.Error())
		return "", fmt.Errorf("send %s to %s: %w", amount, address, err)
	}
	e.checkpoint(ctx, model.StepSend, e.cfg.BaseSymbol, amount, txid, model.CheckpointSubmitted, address)
	return txid, nil
}
