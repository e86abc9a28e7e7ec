package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/api/middleware"
	"github.com/greengrove/tut-engine/internal/api/server"
	"github.com/greengrove/tut-engine/internal/config"
	"github.com/greengrove/tut-engine/internal/discount"
	"github.com/greengrove/tut-engine/internal/ledger"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
	"github.com/greengrove/tut-engine/internal/pricing"
	"github.com/greengrove/tut-engine/internal/providers/catalog"
	"github.com/greengrove/tut-engine/internal/providers/ethereum"
	"github.com/greengrove/tut-engine/internal/providers/jetstream"
	"github.com/greengrove/tut-engine/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "tut-engine-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting TUT engine API")

	// Connect to database. TranslateError turns driver unique-violation
	// errors into gorm.ErrDuplicatedKey, which the store relies on.
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database schema", zap.Error(err))
	}

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Connect to NATS JetStream; the engine runs without it when no URL is set
	var publisher messaging.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = jetstream.NewPublisher(jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: "tut-engine-api",
		}, adapter.NewNatsJetStream(), adapter.NewJSON())
		if err != nil {
			logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		defer publisher.Close()
		logger.InfoCtx(ctx, "Connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		logger.WarnCtx(ctx, "NATS URL not configured, ledger events will not be published")
	}

	// Connect to the TUT contract; reconciliation against reported balances
	// still works without it
	var contract ethereum.Client
	if cfg.Contract.RPCURL != "" && cfg.Contract.ContractAddress != "" {
		ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Contract.RPCURL)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Contract.RPCURL))
		}
		contract, err = ethereum.NewClient(ethereum.Config{
			ContractAddress: cfg.Contract.ContractAddress,
			PrivateKey:      cfg.Contract.OperatorKey,
			CallTimeout:     cfg.Contract.CallTimeout,
			MaxRetryElapsed: cfg.Contract.MaxRetryElapsed,
		}, ethClient)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create contract client", zap.Error(err))
		}
		defer contract.Close()
		logger.InfoCtx(ctx, "Connected to TUT contract",
			zap.String("contract_address", cfg.Contract.ContractAddress))
	} else {
		logger.WarnCtx(ctx, "Contract RPC not configured, on-chain mirroring disabled")
	}

	taxRate, err := decimal.NewFromString(cfg.Pricing.TaxRate)
	if err != nil {
		logger.FatalCtx(ctx, "Invalid tax rate", zap.Error(err), zap.String("tax_rate", cfg.Pricing.TaxRate))
	}
	shipping, err := decimal.NewFromString(cfg.Pricing.Shipping)
	if err != nil {
		logger.FatalCtx(ctx, "Invalid shipping charge", zap.Error(err), zap.String("shipping", cfg.Pricing.Shipping))
	}

	// Assemble services. The contract client satisfies both the ledger's
	// writer and the reconciler's reader slice of it.
	clock := adapter.NewClock()
	var chainWriter ledger.ChainWriter
	var chainReader ledger.ChainReader
	if contract != nil {
		chainWriter = contract
		chainReader = contract
	}

	ledgerSvc := ledger.NewService(dataStore, publisher, chainWriter, clock)
	reconciler := ledger.NewReconciler(dataStore, chainReader)
	discountSvc := discount.NewService(dataStore, publisher, chainWriter, clock)

	catalogClient := catalog.NewClient(catalog.Config{BaseURL: cfg.Catalog.BaseURL},
		adapter.NewHTTPClient(cfg.Catalog.Timeout))
	pricingSvc := pricing.NewService(dataStore, catalogClient, discountSvc, pricing.Config{
		TaxRate:  taxRate,
		Shipping: shipping,
	})

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}

	// Create and start server
	srv := server.New(serverConfig, ledgerSvc, reconciler, discountSvc, pricingSvc)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}
