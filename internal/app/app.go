// Package app wires configuration, storage, the price oracle and the ledger
// service into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"portfolioledger/config"
	"portfolioledger/internal/httpapi"
	"portfolioledger/internal/oracle"
	"portfolioledger/internal/service"
	"portfolioledger/pkg/bybit"
	"portfolioledger/pkg/storage"
	"portfolioledger/pkg/storage/filestore"
	"portfolioledger/pkg/storage/memstore"
	"portfolioledger/pkg/storage/redisstore"
	"portfolioledger/pkg/storage/sqlstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    storage.Store
	Oracle   service.PriceOracle
	Service  *service.LedgerService
	Registry *prometheus.Registry
}

type Options struct {
	// Offline replaces the exchange with fixed prices (none by default).
	Offline      bool
	StaticPrices map[string]decimal.Decimal
}

// New opens the configured store and builds the service around it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("ledger store opened", zap.String("driver", cfg.Store.Driver))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prices := NewOracle(cfg, logger, opts)
	svc := service.New(store, prices, logger,
		service.WithMetrics(service.NewMetrics(registry)),
		service.WithPriceConcurrency(cfg.Bybit.REST.MaxConcurrency),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Oracle:   prices,
		Service:  svc,
		Registry: registry,
	}, nil
}

// OpenStore returns the store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store.Driver {
	case "file":
		return filestore.New(cfg.Store.Dir, filestore.WithLogger(logger))
	case "memory":
		return memstore.New(), nil
	case "redis":
		r := cfg.Store.Redis
		return redisstore.Dial(ctx, r.Addr, r.Password, r.DB, r.Prefix)
	case "sqlite":
		client, err := sqlstore.NewSQLiteClient(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := client.AutoMigrate(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		return client, nil
	case "postgres":
		return sqlstore.InitializeAndMigrate(ctx, cfg.Postgres, cfg.Env, true)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewOracle returns the Bybit oracle, wrapped in a daily symbol catalog when
// configured, or a static table in offline mode.
func NewOracle(cfg *config.Config, logger *zap.Logger, opts Options) service.PriceOracle {
	if opts.Offline {
		logger.Info("offline mode: using static prices", zap.Int("symbols", len(opts.StaticPrices)))
		return oracle.NewStatic(opts.StaticPrices)
	}

	category, err := bybit.ParseCategory(cfg.Bybit.REST.Category)
	if err != nil {
		logger.Warn("falling back to spot category", zap.Error(err))
		category = bybit.CategorySpot
	}
	rest := bybit.NewRESTClient(cfg.Bybit.REST.BaseURL, cfg.Bybit.REST.Timeout)
	live := oracle.NewBybit(rest, category, cfg.Bybit.REST.Timeout, logger)
	if !cfg.Bybit.REST.CacheSymbols {
		return live
	}
	return oracle.NewCatalog(live, logger)
}

// Serve runs the HTTP API until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	if catalog, ok := a.Oracle.(*oracle.Catalog); ok {
		catalog.Start(ctx)
	}
	if n, err := a.Service.Warm(ctx); err != nil {
		a.Logger.Warn("failed to warm ledger cache", zap.Error(err))
	} else {
		a.Logger.Info("ledger cache ready", zap.Int("accounts", n))
	}

	h := httpapi.New(a.Service, a.Logger)
	srv := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      httpapi.NewRouter(h, a.Logger, a.Registry),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := a.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
