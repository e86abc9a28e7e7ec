package messaging

import (
	"context"

	"github.com/greengrove/tut-engine/internal/domain"
)

// Publisher defines the interface for publishing ledger events to message queue
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishLedgerEvent publishes a reward or redemption event to the message broker
	PublishLedgerEvent(ctx context.Context, event *domain.LedgerEvent) error
	// PublishDiscountEvent publishes a discount code generation event to the message broker
	PublishDiscountEvent(ctx context.Context, event *domain.DiscountEvent) error
	// PublishChainEvent publishes a contract event observed by the chain emitter
	PublishChainEvent(ctx context.Context, event *domain.ChainTokenEvent) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the publisher is closed
	CloseChan() <-chan struct{}
}
