package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/aevon-lab/x402-facilitator/internal/core/config"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage/memory"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage/postgres"
	"github.com/aevon-lab/x402-facilitator/internal/customer"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/aevon-lab/x402-facilitator/internal/ledger"
	"github.com/aevon-lab/x402-facilitator/internal/migrations"
	"github.com/aevon-lab/x402-facilitator/internal/payment"
	"github.com/aevon-lab/x402-facilitator/internal/reconcile"
	"github.com/aevon-lab/x402-facilitator/internal/sandbox"
	"github.com/aevon-lab/x402-facilitator/internal/server"
	"github.com/aevon-lab/x402-facilitator/internal/settlement"
	"github.com/aevon-lab/x402-facilitator/internal/stream"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "facilitator.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database", cfg.Database.Type,
		"settlement", cfg.Settlement.Mode,
		"lease_ttl", cfg.Ledger.LeaseTTL,
		"pending_staleness", cfg.Ledger.PendingStaleness)

	// 2. Initialize Storage
	store, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 3. Settlement backends
	backend, sandboxBackend := buildBackends(cfg.Settlement)

	// 4. Ledger, event log, streams and customers
	l, err := ledger.New(store, ledger.Config{
		Backend:            backend,
		SandboxBackend:     sandboxBackend,
		LeaseTTL:           cfg.Ledger.LeaseTTLDuration(),
		ReconcileBatchSize: cfg.Ledger.ReconcileBatchSize,
		ReconcileWorkers:   cfg.Ledger.ReconcileWorkers,
	})
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	events := eventlog.New(store, cfg.Stream.PageSize)
	streams := stream.NewManager(store, events, cfg.Stream.MaxBatchSize)
	customers := customer.NewRegistry(store)

	// 5. HTTP surface
	paymentSvc := payment.NewService(l, events, streams, customers, cfg.Settlement.Networks, cfg.Server.MaxBodySizeMB)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	paymentSvc.RegisterRoutes(srv.Engine)

	// 6. Start Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Ledger.ReconcileEnabled {
		scheduler := reconcile.NewScheduler(
			cfg.Ledger.IntervalDuration(),
			cfg.Ledger.StalenessDuration(),
			l,
		)
		g.Go(func() error {
			return scheduler.Start(gctx)
		})
	} else {
		slog.Info("Reconcile scheduler disabled by config")
	}

	// HTTP server blocks until the context is cancelled.
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Stopped with error", "error", err)
	}
	slog.Info("Shutdown complete")
}

func openStore(cfg corecfg.DatabaseConfig) (storage.Store, error) {
	if cfg.Type == "memory" {
		slog.Warn("Using in-memory storage; ledger state is lost on restart")
		return memory.New(), nil
	}

	db, err := postgres.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	adapter, err := postgres.NewAdapterWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return adapter, nil
}

func buildBackends(cfg corecfg.SettlementConfig) (settlement.Backend, settlement.Backend) {
	if cfg.Mode == "sandbox" {
		slog.Warn("Settlement running against the local sandbox; live scopes are not served")
		return nil, sandbox.NewBackend()
	}

	remote := settlement.NewHTTPBackend(settlement.HTTPConfig{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.TimeoutDuration(),
	})
	if cfg.LocalSandbox {
		return remote, sandbox.NewBackend()
	}
	return remote, nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
