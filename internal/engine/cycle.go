package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Compounder/internal/calculator"
	clierr "Compounder/internal/errors"
	"Compounder/internal/ledger"
	"Compounder/internal/model"
	"Compounder/internal/strategy"
)

// RunCycle performs one compounding cycle. The report is returned even when
// the cycle failed.
func (e *Engine) RunCycle(ctx context.Context) (*model.CycleReport, error) {
	t := newTrace()
	ctx = withTrace(ctx, t)
	sched := e.Schedule()

	report := &model.CycleReport{
		ID:         t.id,
		StartedAt:  time.Now(),
		Target:     sched.Head().Target,
		NextTarget: sched.String(),
		Action:     model.ActionNone,
	}
	logger := e.logger.With(zap.String("cycle", t.id))

	err := e.runCycle(ctx, logger, sched, report)
	report.FinishedAt = time.Now()
	if err != nil {
		report.Error = err.Error()
		logger.Error("cycle failed", zap.String("action", string(report.Action)), zap.Error(err))
	} else {
		logger.Info("cycle finished",
			zap.String("action", string(report.Action)),
			zap.String("received", report.Received.String()),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	}
	if e.observer != nil {
		e.observer.ObserveCycle(report)
	}
	return report, err
}

func (e *Engine) runCycle(ctx context.Context, logger *zap.Logger, sched strategy.Schedule, report *model.CycleReport) error {
	base := e.cfg.BaseSymbol

	// Step a: balances, consolidated into the primary account
	spread, err := e.spread(ctx)
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}
	if !spread.IsZero() {
		n, err := e.Consolidate(ctx)
		report.Consolidated = n
		if err != nil {
			return err
		}
	}
	spendable, err := e.gw.SpendableBalance(ctx)
	if err != nil {
		return fmt.Errorf("read spendable balance: %w", err)
	}
	tokens, err := e.gw.TokenBalances(ctx, ledger.Wallet)
	if err != nil {
		return fmt.Errorf("read token balances: %w", err)
	}
	report.Spendable = spendable
	report.TokenBalance = tokens.Get(base)
	report.Threshold = calculator.Threshold(e.cfg.Amount, e.cfg.Reserve)

	logger.Info("balance",
		zap.String("total", report.Total().String()),
		zap.String("token", report.TokenBalance.String()),
		zap.String("spendable", spendable.String()))

	// Step b: threshold
	if !calculator.ThresholdReached(spendable, report.TokenBalance, report.Threshold) {
		logger.Debug("threshold not reached", zap.String("threshold", report.Threshold.String()))
		return nil
	}
	logger.Info("compound threshold reached",
		zap.String("threshold", report.Threshold.String()),
		zap.String("amount", e.cfg.Amount.String()),
		zap.String("reserve", e.cfg.Reserve.String()))

	// Step c: classify the active target against a fresh pool list
	pairs, err := e.gw.PoolPairs(ctx)
	if err != nil {
		return fmt.Errorf("list pool pairs: %w", err)
	}
	decision := strategy.Classify(sched.Head().Target, strategy.NewMarkets(pairs, base, e.cfg.ReferenceSymbol))
	report.Action = decision.Kind

	// Step d: act
	if decision.Kind == model.ActionInvalid {
		invalid := clierr.New(clierr.CodeInvalidTarget, fmt.Sprintf("target %q is not an address, a token or a pool", decision.Target))
		logger.Warn("no action taken", zap.Error(invalid))
	} else {
		err = e.withSigning(ctx, func(ctx context.Context) error {
			return e.dispatch(ctx, decision, report)
		})
		if err != nil {
			return err
		}
	}

	// Step e: advance the schedule
	next, rotated := e.rotation.Advance(sched)
	if rotated {
		e.setSchedule(next)
		report.NextTarget = next.String()
		logger.Info("target rotated", zap.String("target", next.Head().Target), zap.String("schedule", report.NextTarget))
		if e.targets != nil {
			if err := e.targets.Persist(report.NextTarget); err != nil {
				return clierr.Wrap(clierr.CodeConfig, "persist rotated target", err)
			}
		}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, d model.Decision, report *model.CycleReport) error {
	amount := e.cfg.Amount
	base := e.cfg.BaseSymbol

	var (
		received decimal.Decimal
		symbol   string
		err      error
	)
	switch d.Kind {
	case model.ActionTransfer:
		if _, err = e.Transfer(ctx, d.Target, amount); err == nil {
			received, symbol = amount, base
		}
	case model.ActionSwap:
		received, err = e.Swap(ctx, amount, base, d.Symbol)
		symbol = d.Symbol
	case model.ActionSwapViaReference:
		var via decimal.Decimal
		if via, err = e.Swap(ctx, amount, base, d.Via); err == nil {
			received, err = e.Swap(ctx, via, d.Via, d.Symbol)
		}
		symbol = d.Symbol
	case model.ActionLiquidity:
		received, err = e.ProvideLiquidity(ctx, amount, base, d.Symbol)
		symbol = d.Symbol
	case model.ActionLiquidityViaReference:
		var via decimal.Decimal
		if via, err = e.Swap(ctx, amount, base, d.Via); err == nil {
			received, err = e.ProvideLiquidity(ctx, via, d.Via, d.Symbol)
		}
		symbol = d.Symbol
	default:
		return clierr.New(clierr.CodeInternal, "unexpected action "+string(d.Kind))
	}
	report.Received = received
	report.ReceivedSym = symbol
	return err
}
