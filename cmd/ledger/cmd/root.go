package cmd

import (
	"context"
	"fmt"

	"portfolioledger/config"
	"portfolioledger/internal/app"
	"portfolioledger/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Per-account crypto portfolio ledger",
	Long: `Ledger records buy and sell lots per account, realizes P&L when lots are
sold and values open lots against live Bybit prices.

Examples:
  ledger serve
  ledger symbols
  ledger watch --account 42
  ledger import portfolio.json
  ledger config init`,
	SilenceUsage: true,
}

var (
	cfgFile string
	offline bool
	prices  map[string]string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use static prices instead of the exchange")
	rootCmd.PersistentFlags().StringToStringVar(&prices, "price", nil, "static price for offline mode, e.g. --price BTC/USDT=30000")
}

// setup loads config and logger for a command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func appOptions() (app.Options, error) {
	opts := app.Options{Offline: offline}
	if len(prices) == 0 {
		return opts, nil
	}
	opts.StaticPrices = make(map[string]decimal.Decimal, len(prices))
	for sym, raw := range prices {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		opts.StaticPrices[sym] = p
	}
	return opts, nil
}

// newApp builds the application for commands that need the ledger service.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, log)
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app.App, error) {
	opts, err := appOptions()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return nil, err
	}
	return a, nil
}
