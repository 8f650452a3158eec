package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"portfolioledger/internal/ledger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <portfolio.json>",
	Short: "Import a legacy portfolio.json into the configured store",
	Long: `Import reads the single-file portfolio format of the original web tracker
(account -> {holdings, transactions}) and replaces the ledger of every account
it names.

The file is sent to the running server (POST /admin/import) so its cache stays
coherent with the store. Only when no server is listening is the store written
directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var (
	importServer  string
	importTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importServer, "server", "", "base URL of the running server (default derived from http.addr)")
	importCmd.Flags().DurationVar(&importTimeout, "timeout", 30*time.Second, "request timeout when importing through the server")
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	ledgers, err := ledger.DecodeLegacyFile(data)
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	server := importServer
	if server == "" {
		server = serverURL(cfg.HTTP.Addr)
	}
	n, err := postImport(cmd.Context(), server, data)
	switch {
	case err == nil:
		log.Info("import complete", zap.String("file", args[0]), zap.String("server", server), zap.Int("accounts", n))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d accounts\n", n)
		return nil
	case errors.Is(err, syscall.ECONNREFUSED):
		log.Info("no server listening, writing store directly", zap.String("server", server))
	default:
		log.Error("import failed", zap.String("server", server), zap.Error(err))
		return err
	}

	a, err := buildApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.Import(cmd.Context(), ledgers); err != nil {
		log.Error("import failed", zap.Error(err))
		return err
	}
	log.Info("import complete", zap.String("file", args[0]), zap.Int("accounts", len(ledgers)))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d accounts\n", len(ledgers))
	return nil
}

// serverURL turns a listen address into a URL reachable from this host.
func serverURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// postImport sends the raw legacy file to the server and returns the number
// of accounts it imported.
func postImport(ctx context.Context, server string, data []byte) (int, error) {
	endpoint := strings.TrimRight(server, "/") + "/admin/import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: importTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("import rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out struct {
		Imported int `json:"imported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Imported, nil
}
