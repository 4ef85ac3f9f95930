package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	clierr "Compounder/internal/errors"
	"Compounder/internal/strategy"
)

// DefaultFile is the config file name looked up in the home directory.
const DefaultFile = ".compounder.yaml"

// Config holds all application configuration.
type Config struct {
	RPC struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"timeout"`
		TokenLimit int           `yaml:"token_limit"`
	} `yaml:"rpc"`
	Wallet struct {
		Address       string `yaml:"address"`
		Passphrase    string `yaml:"passphrase"`
		UnlockSeconds int    `yaml:"unlock_seconds"`
	} `yaml:"wallet"`
	Compound struct {
		Amount          string `yaml:"amount"`
		Reserve         string `yaml:"reserve"`
		Target          string `yaml:"target"`
		BaseSymbol      string `yaml:"base_symbol"`
		ReferenceSymbol string `yaml:"reference_symbol"`
		StateFile       string `yaml:"state_file"`
	} `yaml:"compound"`
	Schedule struct {
		// CheckInterval is the polling interval in minutes.
		CheckInterval int `yaml:"check_interval"`
	} `yaml:"schedule"`
	Confirm struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"confirm"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"database"`
	Valuation struct {
		Currency string `yaml:"currency"`
		PriceURL string `yaml:"price_url"`
		CoinID   string `yaml:"coin_id"`
	} `yaml:"valuation"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	LockFile string `yaml:"lock_file"`
	Proxy    string `yaml:"proxy"`

	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

// DefaultPath returns CONFIG_PATH when set, else ~/.compounder.yaml.
func DefaultPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFile
	}
	return filepath.Join(home, DefaultFile)
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{Path: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, clierr.Wrap(clierr.CodeConfig, "read config", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, clierr.Wrap(clierr.CodeConfig, "parse config", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPC.URL = v
	}
	if v := os.Getenv("WALLET_ADDRESS"); v != "" {
		cfg.Wallet.Address = v
	}
	if v := os.Getenv("WALLET_PASSPHRASE"); v != "" {
		cfg.Wallet.Passphrase = v
	}
	if v := os.Getenv("COMPOUND_AMOUNT"); v != "" {
		cfg.Compound.Amount = v
	}
	if v := os.Getenv("TARGET"); v != "" {
		cfg.Compound.Target = v
	}
	if v := os.Getenv("CHECK_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.CheckInterval = n
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Minute
	}
	if cfg.RPC.TokenLimit == 0 {
		cfg.RPC.TokenLimit = 1000
	}
	if cfg.Wallet.UnlockSeconds == 0 {
		cfg.Wallet.UnlockSeconds = 300
	}
	if cfg.Compound.Reserve == "" {
		cfg.Compound.Reserve = "0.1"
	}
	if cfg.Compound.BaseSymbol == "" {
		cfg.Compound.BaseSymbol = "DFI"
	}
	if cfg.Compound.ReferenceSymbol == "" {
		cfg.Compound.ReferenceSymbol = "DUSD"
	}
	if cfg.Compound.StateFile == "" {
		cfg.Compound.StateFile = "data/rotation_state.json"
	}
	if cfg.Confirm.Interval == 0 {
		cfg.Confirm.Interval = 5 * time.Second
	}
	if cfg.Confirm.Timeout == 0 {
		cfg.Confirm.Timeout = 30 * time.Minute
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/compounder.db"
	}
	if cfg.Valuation.Currency == "" {
		cfg.Valuation.Currency = "usd"
	}
	if cfg.Valuation.CoinID == "" {
		cfg.Valuation.CoinID = "defichain"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "data/compounder.lock"
	}

	return cfg, nil
}

// Validate checks that all required fields are set and well formed.
// Every missing key is reported at once.
func (c *Config) Validate() error {
	var missing []string
	if c.RPC.URL == "" {
		missing = append(missing, "rpc.url")
	}
	if c.Compound.Amount == "" {
		missing = append(missing, "compound.amount")
	}
	if c.Wallet.Address == "" {
		missing = append(missing, "wallet.address")
	}
	if strings.TrimSpace(c.Compound.Target) == "" {
		missing = append(missing, "compound.target")
	}
	if c.Schedule.CheckInterval == 0 {
		missing = append(missing, "schedule.check_interval")
	}
	if len(missing) > 0 {
		return clierr.New(clierr.CodeConfig, "missing required config: "+strings.Join(missing, ", "))
	}

	if amount, err := c.Amount(); err != nil {
		return err
	} else if !amount.IsPositive() {
		return clierr.New(clierr.CodeConfig, "compound.amount must be positive")
	}
	if reserve, err := c.Reserve(); err != nil {
		return err
	} else if reserve.IsNegative() {
		return clierr.New(clierr.CodeConfig, "compound.reserve must not be negative")
	}
	if _, err := strategy.ParseSchedule(c.Compound.Target); err != nil {
		return clierr.Wrap(clierr.CodeConfig, "compound.target", err)
	}
	if c.Schedule.CheckInterval < 0 {
		return clierr.New(clierr.CodeConfig, "schedule.check_interval must be positive")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return clierr.New(clierr.CodeConfig, "telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}

// Amount returns compound.amount as a decimal.
func (c *Config) Amount() (decimal.Decimal, error) {
	return parseDecimal("compound.amount", c.Compound.Amount)
}

// Reserve returns compound.reserve as a decimal.
func (c *Config) Reserve() (decimal.Decimal, error) {
	return parseDecimal("compound.reserve", c.Compound.Reserve)
}

// Interval returns the polling interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Schedule.CheckInterval) * time.Minute
}

// UnlockDuration returns how long signing stays enabled after an unlock.
func (c *Config) UnlockDuration() time.Duration {
	return time.Duration(c.Wallet.UnlockSeconds) * time.Second
}

func parseDecimal(key, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("%s: invalid amount %q", key, v), err)
	}
	return d, nil
}
