package jetstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	p := &publisher{
		streamName: cfg.StreamName,
		json:       jsonAdapter,
		closeCh:    make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			p.closeOnce.Do(func() { close(p.closeCh) })
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	p.nc = nc
	p.js = js
	return p, nil
}

// PublishLedgerEvent publishes a reward or redemption event to NATS JetStream
func (p *publisher) PublishLedgerEvent(ctx context.Context, event *domain.LedgerEvent) error {
	logger.Debug("Publishing ledger event", zap.Any("event", event))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	var subject string
	switch event.EventType {
	case domain.EventTypeRedeemed:
		subject = "ledger.redeemed"
	default:
		subject = "ledger.rewarded"
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish ledger event: %w", err)
	}

	return nil
}

// PublishDiscountEvent publishes a discount code generation event to NATS JetStream
func (p *publisher) PublishDiscountEvent(ctx context.Context, event *domain.DiscountEvent) error {
	logger.Debug("Publishing discount event", zap.Any("event", event))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal discount event: %w", err)
	}

	if _, err := p.js.Publish(ctx, "discount.generated", data); err != nil {
		return fmt.Errorf("failed to publish discount event: %w", err)
	}

	return nil
}

// PublishChainEvent publishes a contract event observed by the chain emitter
func (p *publisher) PublishChainEvent(ctx context.Context, event *domain.ChainTokenEvent) error {
	logger.Debug("Publishing chain event", zap.Any("event", event))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal chain event: %w", err)
	}

	var subject string
	switch event.Type {
	case domain.TransactionTypeRedemption:
		subject = "chain.redeemed"
	default:
		subject = "chain.rewarded"
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish chain event: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	p.closeOnce.Do(func() { close(p.closeCh) })

	if p.nc == nil {
		return
	}

	p.nc.Close()
}

// CloseChan returns a channel that is closed when the publisher is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closeCh
}
