package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/store"
)

// ChainReader is the slice of the contract client the reconciler reads through
type ChainReader interface {
	// TokenBalance returns a wallet's on-chain balance in whole tokens
	TokenBalance(ctx context.Context, wallet string) (int64, error)
	// WalletActivity returns a wallet's Rewarded and Redeemed events within a block range
	WalletActivity(ctx context.Context, wallet string, fromBlock, toBlock uint64) ([]domain.ChainTokenEvent, error)
}

// Reconciler aligns ledger balances with the TUT contract. Corrections are
// credit-only: an on-chain balance above the ledger balance is credited as a
// sync correction, a balance below it is reported but never debited.
//
//go:generate mockgen -source=reconciler.go -destination=../mocks/reconciler.go -package=mocks -mock_names=Reconciler=MockReconciler
type Reconciler interface {
	// Sync reconciles a user's ledger balance against the given external
	// balance, or against the on-chain balance of the bound wallet when
	// reportedBalance is nil. Idempotent: repeating a sync for the same
	// external balance credits nothing.
	Sync(ctx context.Context, userID uuid.UUID, reportedBalance *int64) (*domain.SyncResult, error)
	// ChainActivity returns the on-chain token events of the user's bound wallet
	ChainActivity(ctx context.Context, userID uuid.UUID, fromBlock, toBlock uint64) ([]domain.ChainTokenEvent, error)
	// BindWallet binds an on-chain wallet address to the user's account
	BindWallet(ctx context.Context, userID uuid.UUID, wallet string) error
}

type reconciler struct {
	store store.Store
	chain ChainReader
}

// NewReconciler creates a new balance reconciler. The chain reader may be
// nil; syncs then require a reported balance.
func NewReconciler(st store.Store, chain ChainReader) Reconciler {
	return &reconciler{store: st, chain: chain}
}

// Sync reconciles a user's ledger balance against an external balance
func (r *reconciler) Sync(ctx context.Context, userID uuid.UUID, reportedBalance *int64) (*domain.SyncResult, error) {
	external, err := r.externalBalance(ctx, userID, reportedBalance)
	if err != nil {
		return nil, err
	}

	result, err := r.store.SyncBalance(ctx, userID, external)
	if err != nil {
		return nil, err
	}

	if result.SyncedAmount > 0 {
		logger.InfoCtx(ctx, "Credited balance sync correction",
			zap.String("user_id", userID.String()),
			zap.Int64("synced_amount", result.SyncedAmount),
			zap.Int64("database_balance", result.DatabaseBalance))
	}

	return result, nil
}

func (r *reconciler) externalBalance(ctx context.Context, userID uuid.UUID, reportedBalance *int64) (int64, error) {
	if reportedBalance != nil {
		if *reportedBalance < 0 {
			return 0, fmt.Errorf("reported balance must not be negative, got %d", *reportedBalance)
		}
		return *reportedBalance, nil
	}

	wallet, err := r.boundWallet(ctx, userID)
	if err != nil {
		return 0, err
	}

	balance, err := r.chain.TokenBalance(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("failed to read on-chain balance: %w", err)
	}
	return balance, nil
}

// ChainActivity returns the on-chain token events of the user's bound wallet
func (r *reconciler) ChainActivity(ctx context.Context, userID uuid.UUID, fromBlock, toBlock uint64) ([]domain.ChainTokenEvent, error) {
	wallet, err := r.boundWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.chain.WalletActivity(ctx, wallet, fromBlock, toBlock)
}

// BindWallet binds an on-chain wallet address to the user's account
func (r *reconciler) BindWallet(ctx context.Context, userID uuid.UUID, wallet string) error {
	if !common.IsHexAddress(wallet) {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}
	return r.store.SetWalletAddress(ctx, userID, wallet)
}

func (r *reconciler) boundWallet(ctx context.Context, userID uuid.UUID) (string, error) {
	if r.chain == nil {
		return "", fmt.Errorf("no contract client configured")
	}

	account, err := r.store.GetAccount(ctx, userID)
	if err != nil {
		return "", err
	}
	if account == nil || account.WalletAddress == nil || *account.WalletAddress == "" {
		return "", domain.ErrWalletNotBound
	}
	return *account.WalletAddress, nil
}
