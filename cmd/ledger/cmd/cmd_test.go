package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portfolioledger/internal/httpapi"
	"portfolioledger/internal/service"
	"portfolioledger/pkg/storage/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// go test -v --run TestConfigInit
func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { configForce = false })

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "driver: file")

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

// go test -v --run TestImportThenAccounts
func TestImportThenAccounts(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEDGER_STORE_DRIVER", "file")
	t.Setenv("LEDGER_STORE_DIR", filepath.Join(dir, "ledgers"))
	t.Setenv("LEDGER_LOG_LEVEL", "error")

	legacy := filepath.Join(dir, "portfolio.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
		"42": {"holdings": [{"symbol": "BTC/USDT", "quantity": 0.5, "price": 20000.0, "timestamp": "2024-01-01 10:00:00"}],
		       "transactions": [{"symbol": "BTC/USDT", "quantity": 1.0, "buy_price": 20000.0, "sell_price": 25000.0, "pnl": 5000.0, "timestamp": "2024-01-02 10:00:00"}]},
		"7": {"holdings": [], "transactions": []}
	}`), 0o644))

	// Nothing listens on port 1, so the store is written directly.
	t.Cleanup(func() { importServer = "" })
	out, err := execute(t, "import", "--server", "http://127.0.0.1:1", legacy)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 accounts")

	out, err = execute(t, "accounts")
	require.NoError(t, err)
	assert.Equal(t, "42\n7\n", out)
}

// go test -v --run TestImportThroughRunningServer
func TestImportThroughRunningServer(t *testing.T) {
	t.Setenv("LEDGER_LOG_LEVEL", "error")
	t.Cleanup(func() { importServer = "" })
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	store := memstore.New()
	svc := service.New(store, nil, zap.NewNop())
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.New(svc, nil), zap.NewNop(), nil))
	defer srv.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Buy(ctx, "42", "BTC/USDT", decimal.NewFromInt(1), decimal.NewFromInt(20000), at)
	require.NoError(t, err)

	legacy := filepath.Join(t.TempDir(), "portfolio.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
		"42": {"holdings": [{"symbol": "ETH/USDT", "quantity": 5, "price": 1500.0, "timestamp": "2024-01-01 10:00:00"}], "transactions": []}
	}`), 0o644))

	out, err := execute(t, "import", "--server", srv.URL, legacy)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 accounts")

	// The serving cache saw the import, so its next write keeps ETH.
	_, err = svc.Buy(ctx, "42", "SOL/USDT", decimal.NewFromInt(2), decimal.NewFromInt(100), at)
	require.NoError(t, err)

	stored, err := store.Load(ctx, "42")
	require.NoError(t, err)
	require.Len(t, stored.Lots, 2)
	assert.Equal(t, "ETH/USDT", stored.Lots[0].Symbol)
	assert.Equal(t, "SOL/USDT", stored.Lots[1].Symbol)

	_, err = execute(t, "import", "--server", srv.URL, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// go test -v --run TestServerURL
func TestServerURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5000", serverURL(":5000"))
	assert.Equal(t, "http://ledger.local:8080", serverURL("ledger.local:8080"))
}

// go test -v --run TestSymbolsOffline
func TestSymbolsOffline(t *testing.T) {
	t.Setenv("LEDGER_LOG_LEVEL", "error")
	t.Cleanup(func() { offline = false })

	out, err := execute(t, "symbols", "--offline", "--price", "ETH/USDT=2000", "--price", "BTC/USDT=30000")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT\nETH/USDT\n", out)

	_, err = execute(t, "symbols", "--offline", "--price", "BTC/USDT=lots")
	assert.Error(t, err)
}
