package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clierr "Compounder/internal/errors"
	"Compounder/internal/ledger"
	"Compounder/internal/notifier"
	"Compounder/internal/scheduler"
	"Compounder/internal/valuation"
)

func main() {
	root := &cobra.Command{
		Use:           "compounder",
		Short:         "Unattended compounding agent for a DeFiChain wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("conf", "", "config file path (default $CONFIG_PATH or ~/.compounder.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Poll balances and compound on the configured interval",
		RunE:  runDaemon,
	})
	root.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single compounding cycle and exit",
		RunE:  runOnce,
	})
	holdingsCmd := &cobra.Command{
		Use:   "holdings",
		Short: "Print wallet holdings valued in the configured currency",
		RunE:  runHoldings,
	}
	holdingsCmd.Flags().Bool("json", false, "print JSON instead of a table")
	root.AddCommand(holdingsCmd)
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config, reach the node and verify the wallet passphrase",
		RunE:  runCheck,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(clierr.ExitCode(err))
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := acquireLock(a.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := ledger.CheckPassphrase(ctx, a.gw, a.cfg.Wallet.Passphrase); err != nil {
		return err
	}
	a.logger.Info("wallet passphrase verified", zap.String("node", a.gw.Endpoint()))

	a.openRecorder(ctx)
	if a.cfg.Metrics.Listen != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen, a.logger); err != nil {
				a.logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	eng, err := a.buildEngine()
	if err != nil {
		return err
	}

	var tn *notifier.TelegramNotifier
	var n scheduler.Notifier
	if a.cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy, a.logger.Named("telegram"))
		n = tn
	}

	sched := scheduler.NewScheduler(ctx, eng, a.rec, n, a.valuator(), a.rotation, a.logger.Named("scheduler"))
	if err := sched.Register(a.cfg.Interval()); err != nil {
		return clierr.Wrap(clierr.CodeConfig, "schedule", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		a.logger.Info("telegram polling started")
	}

	go sched.RunNow()
	a.logger.Info("compounder is running",
		zap.String("address", a.cfg.Wallet.Address),
		zap.String("schedule", eng.Schedule().String()),
		zap.Duration("interval", a.cfg.Interval()))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Reloads run one at a time off the signal loop; signals arriving while
	// one is pending collapse into it.
	reloads := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloads:
				if err := a.reload(cmd, sched); err != nil {
					a.logger.Error("reload failed, keeping previous configuration", zap.Error(err))
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutdown signal received, stopping")
			return nil
		case <-hup:
			a.logger.Info("SIGHUP received, reloading configuration")
			select {
			case reloads <- struct{}{}:
			default:
			}
		}
	}
}

func runOnce(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := acquireLock(a.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.connect(ctx); err != nil {
		return err
	}
	a.openRecorder(ctx)
	eng, err := a.buildEngine()
	if err != nil {
		return err
	}

	report, err := eng.RunCycle(ctx)
	if report != nil {
		if rerr := a.rec.RecordCycle(context.WithoutCancel(ctx), report); rerr != nil {
			a.logger.Error("record cycle", zap.Error(rerr))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: action=%s target=%s received=%s %s schedule=%q\n",
			report.ID, report.Action, report.Target, report.Received.StringFixed(8), report.ReceivedSym, report.NextTarget)
	}
	return err
}

func runHoldings(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.connect(ctx); err != nil {
		return err
	}
	report, err := a.valuator().Holdings(ctx)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return valuation.WriteTable(cmd.OutOrStdout(), report)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.connect(ctx); err != nil {
		return err
	}
	if _, err := a.gw.SpendableBalance(ctx); err != nil {
		return err
	}
	if err := ledger.CheckPassphrase(ctx, a.gw, a.cfg.Wallet.Passphrase); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: config %s valid, node %s reachable, passphrase accepted\n", a.cfg.Path, a.gw.Endpoint())
	return nil
}
