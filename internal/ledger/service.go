package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
	"github.com/greengrove/tut-engine/internal/store"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// RecordInput describes a reward or redemption to record
type RecordInput struct {
	UserID      uuid.UUID
	Amount      int64
	Reason      domain.ReasonCode
	Description string
	Reference   *domain.TransactionReference
}

// ChainWriter mirrors ledger movements onto the TUT contract
type ChainWriter interface {
	// Reward submits an on-chain reward, returning the transaction hash
	Reward(ctx context.Context, wallet string, amount int64, reason domain.ReasonCode) (string, error)
	// Redeem submits an on-chain redemption, returning the transaction hash
	Redeem(ctx context.Context, wallet string, amount int64) (string, error)
	// BatchReward submits one transaction rewarding several wallets at once
	BatchReward(ctx context.Context, wallets []string, amounts []int64, reason domain.ReasonCode) (string, error)
}

// BatchRewardEntry is one reward within a batch grant
type BatchRewardEntry struct {
	UserID      uuid.UUID
	Amount      int64
	Description string
}

// Service defines the token ledger operations
//
//go:generate mockgen -source=service.go -destination=../mocks/ledger.go -package=mocks -mock_names=Service=MockLedgerService
type Service interface {
	// RecordReward appends a reward event, returning it and the new balance
	RecordReward(ctx context.Context, input RecordInput) (*schema.TokenTransaction, int64, error)
	// RecordRedemption appends a redemption event, returning it and the new
	// balance. Fails with domain.ErrInsufficientBalance when the balance
	// cannot cover the amount.
	RecordRedemption(ctx context.Context, input RecordInput) (*schema.TokenTransaction, int64, error)
	// RecordBatchRewards appends one reward per entry, all sharing a reason.
	// Each reward is durable on its own; the batch stops at the first
	// failure and already appended rewards stand.
	RecordBatchRewards(ctx context.Context, reason domain.ReasonCode, entries []BatchRewardEntry) ([]*schema.TokenTransaction, error)
	// GetBalance returns the user's loyalty account, creating it on first access
	GetBalance(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error)
	// GetTransactions returns a page of the user's ledger history, newest first
	GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.TokenTransaction, int64, error)
}

type service struct {
	store     store.Store
	publisher messaging.Publisher
	chain     ChainWriter
	clock     adapter.Clock
}

// NewService creates a new ledger service. The publisher and chain writer
// may be nil, which disables event publishing and on-chain mirroring.
func NewService(st store.Store, pub messaging.Publisher, chain ChainWriter, clock adapter.Clock) Service {
	return &service{store: st, publisher: pub, chain: chain, clock: clock}
}

// RecordReward appends a reward event, returning it and the new balance
func (s *service) RecordReward(ctx context.Context, input RecordInput) (*schema.TokenTransaction, int64, error) {
	return s.record(ctx, domain.TransactionTypeReward, input)
}

// RecordRedemption appends a redemption event, returning it and the new balance
func (s *service) RecordRedemption(ctx context.Context, input RecordInput) (*schema.TokenTransaction, int64, error) {
	return s.record(ctx, domain.TransactionTypeRedemption, input)
}

func (s *service) record(ctx context.Context, txType domain.TransactionType, input RecordInput) (*schema.TokenTransaction, int64, error) {
	if input.Amount <= 0 {
		return nil, 0, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, input.Amount)
	}
	if !domain.IsValidReasonCode(input.Reason) {
		return nil, 0, fmt.Errorf("%w: invalid reason code %q", domain.ErrInvalidInput, input.Reason)
	}

	txn, balance, err := s.store.AppendTransaction(ctx, store.AppendTransactionInput{
		UserID:      input.UserID,
		Type:        txType,
		Amount:      input.Amount,
		Description: input.Description,
		Reason:      input.Reason,
		Reference:   input.Reference,
	})
	if err != nil {
		return nil, 0, err
	}

	s.publish(ctx, txn, balance)
	s.mirror(ctx, txn)
	return txn, balance, nil
}

// RecordBatchRewards appends one reward per entry, all sharing a reason
func (s *service) RecordBatchRewards(ctx context.Context, reason domain.ReasonCode, entries []BatchRewardEntry) ([]*schema.TokenTransaction, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: batch must not be empty", domain.ErrInvalidInput)
	}
	if !domain.IsValidReasonCode(reason) {
		return nil, fmt.Errorf("%w: invalid reason code %q", domain.ErrInvalidInput, reason)
	}

	txns := make([]*schema.TokenTransaction, 0, len(entries))
	var wallets []string
	var amounts []int64

	for _, entry := range entries {
		if entry.Amount <= 0 {
			return txns, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, entry.Amount)
		}

		txn, balance, err := s.store.AppendTransaction(ctx, store.AppendTransactionInput{
			UserID:      entry.UserID,
			Type:        domain.TransactionTypeReward,
			Amount:      entry.Amount,
			Description: entry.Description,
			Reason:      reason,
		})
		if err != nil {
			return txns, fmt.Errorf("failed to reward user %s: %w", entry.UserID, err)
		}
		txns = append(txns, txn)
		s.publish(ctx, txn, balance)

		if s.chain != nil {
			account, err := s.store.GetAccount(ctx, entry.UserID)
			if err == nil && account != nil && account.WalletAddress != nil && *account.WalletAddress != "" {
				wallets = append(wallets, *account.WalletAddress)
				amounts = append(amounts, entry.Amount)
			}
		}
	}

	if s.chain != nil && len(wallets) > 0 {
		txHash, err := s.chain.BatchReward(ctx, wallets, amounts, reason)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to mirror batch reward on-chain", zap.Error(err))
		} else {
			logger.InfoCtx(ctx, "Mirrored batch reward on-chain",
				zap.Int("rewards", len(wallets)), zap.String("tx_hash", txHash))
		}
	}

	return txns, nil
}

// mirror pushes the movement onto the TUT contract when the user has a bound
// wallet. The off-chain ledger is the source of record; a failed mirror is
// logged and left for operators to replay.
func (s *service) mirror(ctx context.Context, txn *schema.TokenTransaction) {
	if s.chain == nil {
		return
	}
	// Sync corrections originate on-chain; pushing them back would double-count
	if txn.Reason == domain.ReasonSyncCorrection {
		return
	}

	account, err := s.store.GetAccount(ctx, txn.UserID)
	if err != nil || account == nil || account.WalletAddress == nil || *account.WalletAddress == "" {
		return
	}
	wallet := *account.WalletAddress

	var txHash string
	if txn.Type == domain.TransactionTypeReward {
		txHash, err = s.chain.Reward(ctx, wallet, txn.Amount, txn.Reason)
	} else {
		txHash, err = s.chain.Redeem(ctx, wallet, txn.Amount)
	}
	if err != nil {
		logger.WarnCtx(ctx, "Failed to mirror ledger event on-chain",
			zap.String("transaction_id", txn.ID),
			zap.String("wallet", wallet),
			zap.Error(err))
		return
	}

	logger.InfoCtx(ctx, "Mirrored ledger event on-chain",
		zap.String("transaction_id", txn.ID),
		zap.String("tx_hash", txHash))
}

// publish emits the committed event to the broker. Publishing is best
// effort; the ledger row is already durable.
func (s *service) publish(ctx context.Context, txn *schema.TokenTransaction, balance int64) {
	if s.publisher == nil {
		return
	}

	eventType := domain.EventTypeRewarded
	if txn.Type == domain.TransactionTypeRedemption {
		eventType = domain.EventTypeRedeemed
	}

	err := s.publisher.PublishLedgerEvent(ctx, &domain.LedgerEvent{
		EventType:     eventType,
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Balance:       balance,
		Reason:        txn.Reason,
		OccurredAt:    s.clock.Now().UTC(),
	})
	if err != nil {
		logger.WarnCtx(ctx, "Failed to publish ledger event",
			zap.String("transaction_id", txn.ID), zap.Error(err))
	}
}

// GetBalance returns the user's loyalty account, creating it on first access
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	return s.store.GetOrCreateAccount(ctx, userID)
}

// GetTransactions returns a page of the user's ledger history, newest first
func (s *service) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.TokenTransaction, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactions(ctx, userID, limit, offset)
}
