package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/ledger"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
	"github.com/greengrove/tut-engine/internal/store"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// mintRetries bounds how many fresh codes we try on unique-index collisions
const mintRetries = 5

// AdminCreateInput describes an admin-created discount code
type AdminCreateInput struct {
	// Code is optional; a fresh one is generated when empty
	Code              string
	Percentage        int
	UserID            uuid.UUID
	MaxUsage          int
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ExpiresAt         time.Time
}

// AdminUpdateInput carries admin edits; nil fields are left unchanged
type AdminUpdateInput struct {
	Percentage        *int
	Status            *domain.DiscountStatus
	MaxUsage          *int
	MinOrderAmount    *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ExpiresAt         *time.Time
}

// Stats aggregates discount code counts for the admin listing
type Stats struct {
	Total    int64                           `json:"total"`
	ByStatus map[domain.DiscountStatus]int64 `json:"by_status"`
}

// Service defines the discount code engine
//
//go:generate mockgen -source=service.go -destination=../mocks/discount.go -package=mocks -mock_names=Service=MockDiscountService
type Service interface {
	// GenerateFromRedemption redeems tokens and mints a discount code in one
	// transaction. Fails with domain.ErrRedemptionTooSmall below the
	// threshold, before any tokens move.
	GenerateFromRedemption(ctx context.Context, userID uuid.UUID, tutAmount int64) (*schema.DiscountCode, *schema.TokenTransaction, error)
	// Validate checks a code against an order amount and quotes the
	// discount. Expired-but-active codes are transitioned to expired as a
	// side effect.
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*domain.DiscountQuote, error)
	// Apply consumes one usage of a code for an order, re-validating under
	// the row lock, and quotes the applied discount
	Apply(ctx context.Context, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal) (*domain.DiscountQuote, error)
	// ListForUser returns a page of the user's codes
	ListForUser(ctx context.Context, userID uuid.UUID, status *domain.DiscountStatus, limit, offset int) ([]*schema.DiscountCode, int64, error)

	// AdminCreate creates a code on behalf of an admin
	AdminCreate(ctx context.Context, input AdminCreateInput) (*schema.DiscountCode, error)
	// AdminList returns filtered codes together with status aggregates
	AdminList(ctx context.Context, filter store.DiscountFilter) ([]*schema.DiscountCode, int64, *Stats, error)
	// AdminUpdate edits a code; fails with domain.ErrCodeNotFound when absent
	AdminUpdate(ctx context.Context, id uuid.UUID, input AdminUpdateInput) (*schema.DiscountCode, error)
	// AdminDelete removes a code; fails with domain.ErrCodeNotFound when absent
	AdminDelete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	store     store.Store
	publisher messaging.Publisher
	chain     ledger.ChainWriter
	clock     adapter.Clock
}

// NewService creates a new discount service. The publisher and chain writer
// may be nil, which disables event publishing and on-chain mirroring.
func NewService(st store.Store, pub messaging.Publisher, chain ledger.ChainWriter, clock adapter.Clock) Service {
	return &service{store: st, publisher: pub, chain: chain, clock: clock}
}

// GenerateFromRedemption redeems tokens and mints a discount code in one transaction
func (s *service) GenerateFromRedemption(ctx context.Context, userID uuid.UUID, tutAmount int64) (*schema.DiscountCode, *schema.TokenTransaction, error) {
	if tutAmount < domain.RedemptionDiscountThreshold {
		return nil, nil, fmt.Errorf("%w: %d < %d", domain.ErrRedemptionTooSmall, tutAmount, domain.RedemptionDiscountThreshold)
	}

	percentage := domain.DiscountPercentageFor(tutAmount)
	now := s.clock.Now().UTC()
	expiresAt := now.Add(domain.DiscountExpiryWindow)

	for attempt := 0; attempt < mintRetries; attempt++ {
		codeStr, err := generateCode()
		if err != nil {
			return nil, nil, err
		}

		amount := tutAmount
		code, txn, err := s.store.MintDiscountFromRedemption(ctx, store.MintDiscountInput{
			UserID:      userID,
			TUTAmount:   tutAmount,
			Description: fmt.Sprintf("Redeemed %d TUT for a %d%% discount code", tutAmount, percentage),
			Code: schema.DiscountCode{
				Code:       codeStr,
				Percentage: percentage,
				UserID:     userID,
				Status:     domain.DiscountStatusActive,
				MaxUsage:   1,
				ExpiresAt:  expiresAt,
				TUTAmount:  &amount,
			},
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateCode) {
				continue
			}
			return nil, nil, err
		}

		s.publishGenerated(ctx, code, txn)
		s.mirrorRedeem(ctx, txn)
		return code, txn, nil
	}

	return nil, nil, fmt.Errorf("failed to mint a unique discount code after %d attempts", mintRetries)
}

func (s *service) publishGenerated(ctx context.Context, code *schema.DiscountCode, txn *schema.TokenTransaction) {
	if s.publisher == nil {
		return
	}

	now := s.clock.Now().UTC()

	account, err := s.store.GetAccount(ctx, code.UserID)
	balance := int64(0)
	if err == nil && account != nil {
		balance = account.Balance
	}

	if err := s.publisher.PublishLedgerEvent(ctx, &domain.LedgerEvent{
		EventType:     domain.EventTypeRedeemed,
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Balance:       balance,
		Reason:        txn.Reason,
		OccurredAt:    now,
	}); err != nil {
		logger.WarnCtx(ctx, "Failed to publish ledger event",
			zap.String("transaction_id", txn.ID), zap.Error(err))
	}

	tutAmount := int64(0)
	if code.TUTAmount != nil {
		tutAmount = *code.TUTAmount
	}
	if err := s.publisher.PublishDiscountEvent(ctx, &domain.DiscountEvent{
		EventType:  domain.EventTypeDiscountGenerated,
		UserID:     code.UserID,
		Code:       code.Code,
		Percentage: code.Percentage,
		TUTAmount:  tutAmount,
		ExpiresAt:  code.ExpiresAt,
		OccurredAt: now,
	}); err != nil {
		logger.WarnCtx(ctx, "Failed to publish discount event",
			zap.String("code", code.Code), zap.Error(err))
	}
}

// mirrorRedeem pushes the redemption onto the TUT contract when the user has
// a bound wallet. Failures are logged; the ledger row is the source of record.
func (s *service) mirrorRedeem(ctx context.Context, txn *schema.TokenTransaction) {
	if s.chain == nil {
		return
	}

	account, err := s.store.GetAccount(ctx, txn.UserID)
	if err != nil || account == nil || account.WalletAddress == nil || *account.WalletAddress == "" {
		return
	}

	txHash, err := s.chain.Redeem(ctx, *account.WalletAddress, txn.Amount)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to mirror redemption on-chain",
			zap.String("transaction_id", txn.ID), zap.Error(err))
		return
	}

	logger.InfoCtx(ctx, "Mirrored redemption on-chain",
		zap.String("transaction_id", txn.ID), zap.String("tx_hash", txHash))
}

// Validate checks a code against an order amount and quotes the discount
func (s *service) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*domain.DiscountQuote, error) {
	dc, err := s.store.GetDiscountCodeByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, domain.ErrCodeNotFound
	}

	now := s.clock.Now().UTC()
	if dc.Status == domain.DiscountStatusActive && now.After(dc.ExpiresAt) {
		// Lazy expiry: validation is the sweep
		if err := s.store.ExpireDiscountCode(ctx, dc.ID); err != nil {
			logger.WarnCtx(ctx, "Failed to expire discount code",
				zap.String("code", dc.Code), zap.Error(err))
		}
		return nil, domain.ErrCodeExpired
	}

	switch dc.Status {
	case domain.DiscountStatusActive:
	case domain.DiscountStatusExpired:
		return nil, domain.ErrCodeExpired
	default:
		return nil, domain.ErrCodeNotActive
	}

	if orderAmount.LessThan(dc.MinOrderAmount) {
		return nil, fmt.Errorf("%w: minimum %s", domain.ErrOrderBelowMinimum, dc.MinOrderAmount)
	}

	return quote(dc, orderAmount), nil
}

// Apply consumes one usage of a code for an order
func (s *service) Apply(ctx context.Context, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal) (*domain.DiscountQuote, error) {
	dc, err := s.store.ApplyDiscountCode(ctx, normalizeCode(code), userID, orderID, orderAmount, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	return quote(dc, orderAmount), nil
}

// quote computes the discount a code grants against an order amount, rounded
// to cents, honoring the absolute cap when set
func quote(dc *schema.DiscountCode, orderAmount decimal.Decimal) *domain.DiscountQuote {
	discount := orderAmount.
		Mul(decimal.NewFromInt(int64(dc.Percentage))).
		Div(decimal.NewFromInt(100)).
		Round(2)
	if dc.MaxDiscountAmount != nil && discount.GreaterThan(*dc.MaxDiscountAmount) {
		discount = *dc.MaxDiscountAmount
	}

	return &domain.DiscountQuote{
		Code:           dc.Code,
		Percentage:     dc.Percentage,
		DiscountAmount: discount,
		FinalAmount:    orderAmount.Sub(discount),
	}
}

// ListForUser returns a page of the user's codes
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, status *domain.DiscountStatus, limit, offset int) ([]*schema.DiscountCode, int64, error) {
	return s.store.ListDiscountCodes(ctx, store.DiscountFilter{
		UserID: &userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

// AdminCreate creates a code on behalf of an admin
func (s *service) AdminCreate(ctx context.Context, input AdminCreateInput) (*schema.DiscountCode, error) {
	if input.Percentage < 1 || input.Percentage > 100 {
		return nil, fmt.Errorf("%w: percentage must be within 1-100, got %d", domain.ErrInvalidInput, input.Percentage)
	}
	if input.MaxUsage <= 0 {
		input.MaxUsage = 1
	}
	if input.ExpiresAt.IsZero() {
		input.ExpiresAt = s.clock.Now().UTC().Add(domain.DiscountExpiryWindow)
	}

	codeStr := normalizeCode(input.Code)
	if codeStr == "" {
		generated, err := generateCode()
		if err != nil {
			return nil, err
		}
		codeStr = generated
	}
	if !domain.ValidDiscountCode(codeStr) {
		return nil, fmt.Errorf("%w: invalid discount code %q", domain.ErrInvalidInput, codeStr)
	}

	dc := &schema.DiscountCode{
		ID:                uuid.New(),
		Code:              codeStr,
		Percentage:        input.Percentage,
		UserID:            input.UserID,
		Status:            domain.DiscountStatusActive,
		MaxUsage:          input.MaxUsage,
		MinOrderAmount:    input.MinOrderAmount,
		MaxDiscountAmount: input.MaxDiscountAmount,
		ExpiresAt:         input.ExpiresAt,
	}
	if err := s.store.CreateDiscountCode(ctx, dc); err != nil {
		return nil, err
	}
	return dc, nil
}

// AdminList returns filtered codes together with status aggregates
func (s *service) AdminList(ctx context.Context, filter store.DiscountFilter) ([]*schema.DiscountCode, int64, *Stats, error) {
	codes, total, err := s.store.ListDiscountCodes(ctx, filter)
	if err != nil {
		return nil, 0, nil, err
	}

	byStatus, err := s.store.CountDiscountsByStatus(ctx)
	if err != nil {
		return nil, 0, nil, err
	}

	stats := &Stats{ByStatus: byStatus}
	for _, count := range byStatus {
		stats.Total += count
	}

	return codes, total, stats, nil
}

// AdminUpdate edits a code
func (s *service) AdminUpdate(ctx context.Context, id uuid.UUID, input AdminUpdateInput) (*schema.DiscountCode, error) {
	dc, err := s.store.GetDiscountCodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, domain.ErrCodeNotFound
	}

	if input.Percentage != nil {
		if *input.Percentage < 1 || *input.Percentage > 100 {
			return nil, fmt.Errorf("%w: percentage must be within 1-100, got %d", domain.ErrInvalidInput, *input.Percentage)
		}
		dc.Percentage = *input.Percentage
	}
	if input.Status != nil {
		if !domain.IsValidDiscountStatus(*input.Status) {
			return nil, fmt.Errorf("%w: invalid discount status %q", domain.ErrInvalidInput, *input.Status)
		}
		// used/expired/cancelled are terminal; a code never returns to active
		if dc.Status.Terminal() && *input.Status != dc.Status {
			return nil, fmt.Errorf("%w: code is %s and cannot change status", domain.ErrInvalidInput, dc.Status)
		}
		dc.Status = *input.Status
	}
	if input.MaxUsage != nil {
		if *input.MaxUsage < dc.CurrentUsage {
			return nil, fmt.Errorf("%w: max usage %d below current usage %d", domain.ErrInvalidInput, *input.MaxUsage, dc.CurrentUsage)
		}
		dc.MaxUsage = *input.MaxUsage
	}
	if input.MinOrderAmount != nil {
		dc.MinOrderAmount = *input.MinOrderAmount
	}
	if input.MaxDiscountAmount != nil {
		dc.MaxDiscountAmount = input.MaxDiscountAmount
	}
	if input.ExpiresAt != nil {
		dc.ExpiresAt = *input.ExpiresAt
	}

	if err := s.store.UpdateDiscountCode(ctx, dc); err != nil {
		return nil, err
	}
	return dc, nil
}

// AdminDelete removes a code
func (s *service) AdminDelete(ctx context.Context, id uuid.UUID) error {
	dc, err := s.store.GetDiscountCodeByID(ctx, id)
	if err != nil {
		return err
	}
	if dc == nil {
		return domain.ErrCodeNotFound
	}
	return s.store.DeleteDiscountCode(ctx, id)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
