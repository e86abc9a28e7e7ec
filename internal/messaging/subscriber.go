package messaging

import (
	"context"

	"github.com/greengrove/tut-engine/internal/domain"
)

// TokenEventHandler is called for each Rewarded or Redeemed event observed on chain
type TokenEventHandler func(event *domain.ChainTokenEvent) error

// Subscriber defines the interface for tailing TUT contract events
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeTokenEvents streams contract events starting at fromBlock,
	// invoking the handler for each one. Blocks until the context is
	// cancelled or the subscription fails.
	SubscribeTokenEvents(ctx context.Context, fromBlock uint64, handler TokenEventHandler) error

	// GetLatestBlock returns the latest block number
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}
