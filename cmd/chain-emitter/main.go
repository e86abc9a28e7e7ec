package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/config"
	"github.com/greengrove/tut-engine/internal/emitter"
	"github.com/greengrove/tut-engine/internal/logger"
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
	cfg, err := config.LoadChainEmitterConfig(*configFile, *envPath)
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
			"service": "tut-engine-chain-emitter",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting TUT chain emitter")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Dial the contract over WebSocket; log subscriptions need a streaming
	// transport
	ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Contract.WebSocketURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum WebSocket", zap.Error(err), zap.String("websocket_url", cfg.Contract.WebSocketURL))
	}
	defer ethClient.Close()

	contract, err := ethereum.NewClient(ethereum.Config{
		ContractAddress: cfg.Contract.ContractAddress,
		CallTimeout:     cfg.Contract.CallTimeout,
		MaxRetryElapsed: cfg.Contract.MaxRetryElapsed,
	}, ethClient)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create contract client", zap.Error(err))
	}

	subscriber, err := ethereum.NewSubscriber(ethereum.SubscriberConfig{
		ContractAddress: cfg.Contract.ContractAddress,
	}, ethClient, contract)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create contract subscriber", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to TUT contract", zap.String("contract_address", cfg.Contract.ContractAddress))

	// Initialize NATS publisher
	publisher, err := jetstream.NewPublisher(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: "tut-engine-chain-emitter",
	}, adapter.NewNatsJetStream(), adapter.NewJSON())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Create emitter
	eventEmitter := emitter.NewEmitter(subscriber, publisher, dataStore, emitter.Config{
		Chain:           cfg.Emitter.Chain,
		StartBlock:      cfg.Emitter.StartBlock,
		CursorSaveFreq:  cfg.Emitter.CursorSaveFreq,
		CursorSaveDelay: cfg.Emitter.CursorSaveDelay,
	}, adapter.NewClock())
	defer eventEmitter.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := eventEmitter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case <-publisher.CloseChan():
		logger.InfoCtx(ctx, "NATS connection closed unexpectedly")
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "emitter"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("Chain emitter stopped")
}
