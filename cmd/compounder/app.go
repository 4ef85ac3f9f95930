package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"Compounder/internal/config"
	"Compounder/internal/confirm"
	"Compounder/internal/engine"
	clierr "Compounder/internal/errors"
	"Compounder/internal/ledger"
	"Compounder/internal/observability"
	"Compounder/internal/recorder"
	"Compounder/internal/rotation"
	"Compounder/internal/scheduler"
	"Compounder/internal/strategy"
	"Compounder/internal/valuation"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	gw       *ledger.RPCClient
	rec      recorder.Recorder
	metrics  *observability.Metrics
	rotation *rotation.Manager
	targets  *config.TargetStore
}

func newApp(cmd *cobra.Command, needSecret bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "log.level", err)
	}
	if needSecret {
		if err := resolvePassphrase(cfg); err != nil {
			return nil, err
		}
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		rec:     recorder.NewNoopRecorder(),
		metrics: observability.NewMetrics("compounder"),
		targets: config.NewTargetStore(cfg.Path),
	}, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("conf")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// resolvePassphrase prompts for the wallet passphrase when the config has none.
func resolvePassphrase(cfg *config.Config) error {
	if cfg.Wallet.Passphrase != "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return clierr.New(clierr.CodeConfig, "wallet.passphrase is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Wallet passphrase: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "read passphrase", err)
	}
	cfg.Wallet.Passphrase = strings.TrimRight(string(secret), "\r\n")
	if cfg.Wallet.Passphrase == "" {
		return clierr.New(clierr.CodeConfig, "empty wallet passphrase")
	}
	return nil
}

// acquireLock takes the single-instance lock file.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create lock directory", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "acquire lock", err)
	}
	if !ok {
		return nil, clierr.New(clierr.CodeLocked, "compounder is already running (lock "+path+")")
	}
	return fl, nil
}

func (a *app) connect(ctx context.Context) error {
	gw, err := ledger.Dial(ctx, a.cfg.RPC.URL,
		ledger.WithTimeout(a.cfg.RPC.Timeout),
		ledger.WithTokenLimit(a.cfg.RPC.TokenLimit),
		ledger.WithBaseSymbol(a.cfg.Compound.BaseSymbol),
		ledger.WithLogger(a.logger.Named("ledger")))
	if err != nil {
		return err
	}
	a.gw = gw
	return nil
}

// openRecorder selects Postgres when a DSN is set, else SQLite. Failures fall
// back to the no-op recorder.
func (a *app) openRecorder(ctx context.Context) {
	logger := a.logger.Named("recorder")
	switch {
	case a.cfg.Database.PostgresDSN != "":
		pr, err := recorder.NewPostgresRecorder(ctx, a.cfg.Database.PostgresDSN, logger)
		if err != nil {
			a.logger.Warn("init postgres recorder failed, using noop", zap.Error(err))
			return
		}
		a.rec = pr
	case a.cfg.Database.SQLitePath != "":
		sr, err := recorder.NewSQLiteRecorder(a.cfg.Database.SQLitePath, logger)
		if err != nil {
			a.logger.Warn("init sqlite recorder failed, using noop", zap.Error(err))
			return
		}
		a.rec = sr
	}
}

func (a *app) buildEngine() (*engine.Engine, error) {
	amount, err := a.cfg.Amount()
	if err != nil {
		return nil, err
	}
	reserve, err := a.cfg.Reserve()
	if err != nil {
		return nil, err
	}
	sched, err := strategy.ParseSchedule(a.cfg.Compound.Target)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "compound.target", err)
	}
	if a.rotation == nil {
		rot, err := rotation.NewManager(a.cfg.Compound.StateFile, a.logger.Named("rotation"))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeConfig, "load rotation state", err)
		}
		a.rotation = rot
	}

	poller := confirm.NewPoller(a.cfg.Confirm.Interval, a.cfg.Confirm.Timeout, a.logger.Named("confirm"))
	poller.Metrics = a.metrics

	return engine.New(engine.Config{
		Address:         a.cfg.Wallet.Address,
		BaseSymbol:      a.cfg.Compound.BaseSymbol,
		ReferenceSymbol: a.cfg.Compound.ReferenceSymbol,
		Amount:          amount,
		Reserve:         reserve,
		Passphrase:      a.cfg.Wallet.Passphrase,
		UnlockDuration:  a.cfg.UnlockDuration(),
		Schedule:        sched,
	}, a.gw,
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithPoller(poller),
		engine.WithJournal(a.rec),
		engine.WithTargetPersister(a.targets),
		engine.WithRotation(a.rotation),
		engine.WithObserver(a.metrics),
	)
}

func (a *app) valuator() *valuation.Valuator {
	source := valuation.NewCoinGeckoFetcher(a.cfg.Valuation.PriceURL, a.cfg.Valuation.CoinID, a.cfg.Proxy)
	return valuation.NewValuator(a.gw, source, a.cfg.Compound.BaseSymbol, a.cfg.Valuation.Currency,
		valuation.WithLogger(a.logger.Named("valuation")))
}

// reload re-reads the config file and swaps a freshly built engine into the
// scheduler. Connection, lock and recorder settings keep their startup values.
func (a *app) reload(cmd *cobra.Command, sched *scheduler.Scheduler) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Wallet.Passphrase == "" {
		cfg.Wallet.Passphrase = a.cfg.Wallet.Passphrase
	}
	cfg.RPC = a.cfg.RPC
	cfg.Database = a.cfg.Database
	cfg.LockFile = a.cfg.LockFile
	cfg.Compound.StateFile = a.cfg.Compound.StateFile

	prev := a.cfg
	a.cfg = cfg
	eng, err := a.buildEngine()
	if err != nil {
		a.cfg = prev
		return err
	}
	return sched.Reload(eng, cfg.Interval())
}

func (a *app) Close() {
	if a.gw != nil {
		a.gw.Close()
	}
	if a.rec != nil {
		if err := a.rec.Close(); err != nil {
			a.logger.Warn("close recorder", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
