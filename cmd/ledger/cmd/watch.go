package cmd

import (
	"errors"
	"os/signal"
	"syscall"
	"time"

	"portfolioledger/internal/stream"
	"portfolioledger/pkg/bybit"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live unrealized P&L for an account",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var (
	watchAccount  string
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchAccount, "account", "a", "", "account identifier")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "minimum time between updates")
	_ = watchCmd.MarkFlagRequired("account")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Logger.Sync()
	defer a.Close()

	ws := a.Config.Bybit.WS
	w := &stream.Watcher{
		Sub:      bybit.NewWSClient(ws.URL, ws.ReconnectDelay, a.Logger),
		Ledger:   a.Service,
		Logger:   a.Logger,
		Interval: watchInterval,
	}
	if err := w.Run(ctx, watchAccount); err != nil {
		if errors.Is(err, stream.ErrNoHoldings) {
			a.Logger.Info("nothing to watch", zap.String("account", watchAccount))
			return nil
		}
		return err
	}
	return nil
}
