package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// AppendTransactionInput describes a ledger event to append
type AppendTransactionInput struct {
	UserID      uuid.UUID
	Type        domain.TransactionType
	Amount      int64
	Description string
	Reason      domain.ReasonCode
	Reference   *domain.TransactionReference
	// SyncKey deduplicates reconciler corrections; nil for ordinary events
	SyncKey *string
}

// DiscountFilter narrows admin discount listings
type DiscountFilter struct {
	UserID        *uuid.UUID
	Status        *domain.DiscountStatus
	MinPercentage *int
	MaxPercentage *int
	// Search matches against the code, case-insensitive substring
	Search string
	Limit  int
	Offset int
}

// CreateOrderInput is the single atomic unit for order creation: the priced
// order and its lines, plus the token debit implied by Order.TUTTotal > 0 and
// the optional discount consumption. Everything commits or nothing does.
type CreateOrderInput struct {
	Order schema.Order
	Items []schema.OrderItem
	// ApplyDiscountCode, when set, is consumed against the order inside the
	// same transaction after the order id is known.
	ApplyDiscountCode *string
}

// MintDiscountInput couples a token redemption with the discount code it
// mints. Both commit in one transaction; an insufficient balance or a code
// collision rolls back both.
type MintDiscountInput struct {
	UserID      uuid.UUID
	TUTAmount   int64
	Description string
	Code        schema.DiscountCode
}

// Store defines the interface for database operations
type Store interface {
	// GetAccount retrieves a loyalty account, or nil if the user has none yet
	GetAccount(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error)
	// GetOrCreateAccount retrieves a loyalty account, creating a zero-balance one on first access
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error)
	// AppendTransaction appends a ledger event and updates the cached balance
	// atomically, returning the event and the balance after it. Redemptions
	// that would drive the balance negative fail with domain.ErrInsufficientBalance.
	AppendTransaction(ctx context.Context, input AppendTransactionInput) (*schema.TokenTransaction, int64, error)
	// ListTransactions returns a user's ledger events, newest first, with the total count
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.TokenTransaction, int64, error)
	// FoldBalance recomputes the balance from the raw event log (audit path)
	FoldBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	// SyncBalance credits the difference when externalBalance exceeds the
	// ledger balance. The delta is recomputed under the account row lock and
	// deduplicated by sync key, so retries never double-credit.
	SyncBalance(ctx context.Context, userID uuid.UUID, externalBalance int64) (*domain.SyncResult, error)
	// SetWalletAddress binds an on-chain wallet to the user's account
	SetWalletAddress(ctx context.Context, userID uuid.UUID, wallet string) error
	// GetBlockCursor retrieves the last processed block number for a chain,
	// or 0 when no cursor has been saved yet
	GetBlockCursor(ctx context.Context, chain string) (uint64, error)
	// SetBlockCursor stores the last processed block number for a chain
	SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error

	// MintDiscountFromRedemption redeems tokens and inserts the minted code
	// as one transaction. Fails with domain.ErrInsufficientBalance or
	// domain.ErrDuplicateCode; neither side commits alone.
	MintDiscountFromRedemption(ctx context.Context, input MintDiscountInput) (*schema.DiscountCode, *schema.TokenTransaction, error)
	// CreateDiscountCode inserts a new code; duplicate codes fail with domain.ErrDuplicateCode
	CreateDiscountCode(ctx context.Context, code *schema.DiscountCode) error
	// GetDiscountCodeByCode retrieves a code by its string, or nil if absent
	GetDiscountCodeByCode(ctx context.Context, code string) (*schema.DiscountCode, error)
	// GetDiscountCodeByID retrieves a code by id, or nil if absent
	GetDiscountCodeByID(ctx context.Context, id uuid.UUID) (*schema.DiscountCode, error)
	// ExpireDiscountCode transitions an active code to expired (lazy expiry sweep)
	ExpireDiscountCode(ctx context.Context, id uuid.UUID) error
	// ApplyDiscountCode atomically consumes one usage of a code for an order,
	// re-validating status, expiry and minimum order amount under the row lock.
	// Fails with domain.ErrCodeNotFound / ErrCodeNotActive / ErrCodeExpired /
	// ErrOrderBelowMinimum / ErrConcurrentApply; never lets CurrentUsage
	// exceed MaxUsage.
	ApplyDiscountCode(ctx context.Context, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal, now time.Time) (*schema.DiscountCode, error)
	// ListDiscountCodes returns codes matching the filter with the total count
	ListDiscountCodes(ctx context.Context, filter DiscountFilter) ([]*schema.DiscountCode, int64, error)
	// CountDiscountsByStatus aggregates code counts per status
	CountDiscountsByStatus(ctx context.Context) (map[domain.DiscountStatus]int64, error)
	// UpdateDiscountCode persists admin edits to a code
	UpdateDiscountCode(ctx context.Context, code *schema.DiscountCode) error
	// DeleteDiscountCode removes a code by id
	DeleteDiscountCode(ctx context.Context, id uuid.UUID) error

	// CreateOrder persists an order, its lines, the token debit and the
	// discount consumption as one transaction
	CreateOrder(ctx context.Context, input CreateOrderInput) (*schema.Order, error)
	// GetOrderByID retrieves an order with its lines, or nil if absent
	GetOrderByID(ctx context.Context, id uuid.UUID) (*schema.Order, error)
	// ListOrdersByUser returns a user's orders, newest first, with the total count
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.Order, int64, error)
	// UpdateOrderStatus moves an order through the fulfillment state machine
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*schema.Order, error)
	// UpdateOrderPaymentStatus updates the payment state of an order
	UpdateOrderPaymentStatus(ctx context.Context, id uuid.UUID, next domain.PaymentStatus) (*schema.Order, error)
	// CancelOrder transitions an order to cancelled and refunds any token
	// payment back to the ledger in the same transaction
	CancelOrder(ctx context.Context, id uuid.UUID) (*schema.Order, error)
}
