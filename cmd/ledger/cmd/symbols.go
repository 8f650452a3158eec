package cmd

import (
	"fmt"

	"portfolioledger/internal/app"

	"github.com/spf13/cobra"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List tradable symbols",
	Args:  cobra.NoArgs,
	RunE:  runSymbols,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts in the configured store",
	Args:  cobra.NoArgs,
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(accountsCmd)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	opts, err := appOptions()
	if err != nil {
		return err
	}
	symbols := app.NewOracle(cfg, log, opts).ListSymbols(cmd.Context())
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols available")
	}
	for _, s := range symbols {
		fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}

func runAccounts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Logger.Sync()
	defer a.Close()

	if _, err := a.Service.Warm(ctx); err != nil {
		return err
	}
	for _, id := range a.Service.Accounts() {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
