package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Compounder/internal/confirm"
	"Compounder/internal/ledger"
	"Compounder/internal/model"
)

// spread returns the base token held outside the primary account.
func (e *Engine) spread(ctx context.Context) (decimal.Decimal, error) {
	aggregate, err := e.gw.TokenBalances(ctx, ledger.Wallet)
	if err != nil {
		return decimal.Zero, err
	}
	primary, err := e.accountBalance(ctx, e.cfg.BaseSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	return aggregate.Get(e.cfg.BaseSymbol).Sub(primary), nil
}

// Consolidate moves the base token of every other account of the wallet into
// the primary account and waits until the primary account holds the whole
// wallet balance. It returns the number of transfers submitted.
func (e *Engine) Consolidate(ctx context.Context) (int, error) {
	base := e.cfg.BaseSymbol
	spread, err := e.spread(ctx)
	if err != nil {
		return 0, fmt.Errorf("read balances: %w", err)
	}
	if spread.IsZero() {
		return 0, nil
	}

	accounts, err := e.gw.SubAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	var sources []model.SubAccount
	for _, acc := range accounts {
		if acc.Owner != e.cfg.Address && acc.Balances.Get(base).IsPositive() {
			sources = append(sources, acc)
		}
	}
	if len(sources) == 0 {
		return 0, nil
	}

	e.logger.Info("consolidating base token", zap.Int("accounts", len(sources)), zap.String("spread", spread.String()))

	transfers := 0
	err = e.withSigning(ctx, func(ctx context.Context) error {
		for _, acc := range sources {
			amount := model.TokenAmount{Symbol: base, Amount: acc.Balances.Get(base)}
			txid, err := e.gw.AccountToAccount(ctx, acc.Owner, e.cfg.Address, amount)
			if err != nil {
				e.checkpoint(ctx, model.StepConsolidate, base, amount.Amount, "", model.CheckpointFailed, acc.Owner)
				return fmt.Errorf("consolidate from %s: %w", acc.Owner, err)
			}
			transfers++
			e.checkpoint(ctx, model.StepConsolidate, base, amount.Amount, txid, model.CheckpointSubmitted, acc.Owner)
		}
		return nil
	})
	if err != nil {
		return transfers, err
	}

	if _, err := e.poller.Await(ctx, model.StepConsolidate, e.spread, confirm.Equals(decimal.Zero)); err != nil {
		return transfers, err
	}
	e.checkpoint(ctx, model.StepConsolidate, base, spread, "", model.CheckpointConfirmed, "")
	return transfers, nil
}
