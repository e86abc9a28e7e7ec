package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
)

// SubscriberConfig holds the configuration for the TUT event subscription
type SubscriberConfig struct {
	ContractAddress string
}

type tutSubscriber struct {
	eth      adapter.EthClient
	client   Client
	contract common.Address
}

// NewSubscriber creates a subscriber streaming Rewarded and Redeemed events
// off the TUT contract. The eth client must be connected over WebSocket.
func NewSubscriber(cfg SubscriberConfig, eth adapter.EthClient, contractClient Client) (messaging.Subscriber, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	return &tutSubscriber{
		eth:      eth,
		client:   contractClient,
		contract: common.HexToAddress(cfg.ContractAddress),
	}, nil
}

// SubscribeTokenEvents subscribes to Rewarded and Redeemed contract events
func (s *tutSubscriber) SubscribeTokenEvents(ctx context.Context, fromBlock uint64, handler messaging.TokenEventHandler) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{s.contract},
		Topics: [][]common.Hash{
			{rewardedEventSignature, redeemedEventSignature},
		},
	}

	logs := make(chan types.Log)
	sub, err := s.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to filter logs: %w", err)
	}
	defer func() {
		logger.InfoCtx(ctx, "Unsubscribing from contract event logs")
		sub.Unsubscribe()
		logger.InfoCtx(ctx, "Unsubscribed from contract event logs")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case vLog := <-logs:
			event, err := s.client.ParseTokenEventLog(ctx, vLog)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorCtx(ctx, err, zap.String("message", "Error parsing log"))
				continue
			}

			if event == nil {
				continue
			}

			if err := handler(event); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Error handling event"))
			}
		}
	}
}

// GetLatestBlock returns the latest block number
func (s *tutSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	header, err := s.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// Close closes the connection
func (s *tutSubscriber) Close() {
	if s.eth == nil {
		return
	}

	s.eth.Close()
	logger.Info("Ethereum WebSocket connection closed")
}
