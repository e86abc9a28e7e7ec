package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the database schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.LoyaltyAccount{},
		&schema.TokenTransaction{},
		&schema.DiscountCode{},
		&schema.Order{},
		&schema.OrderItem{},
		&schema.KeyValueStore{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// =============================================================================
// Loyalty accounts and the token ledger
// =============================================================================

// GetAccount retrieves a loyalty account, or nil if the user has none yet
func (s *pgStore) GetAccount(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	var account schema.LoyaltyAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get loyalty account: %w", err)
	}
	return &account, nil
}

// GetOrCreateAccount retrieves a loyalty account, creating a zero-balance one on first access
func (s *pgStore) GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	account := schema.LoyaltyAccount{UserID: userID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create loyalty account: %w", err)
	}

	// Re-read so a conflicting concurrent create still returns the committed row
	err = s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get loyalty account: %w", err)
	}

	return &account, nil
}

// lockAccount loads the account row with a FOR UPDATE lock, creating it first
// if the user has never touched the ledger
func (s *pgStore) lockAccount(tx *gorm.DB, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	var account schema.LoyaltyAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to lock loyalty account: %w", err)
	}

	account = schema.LoyaltyAccount{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create loyalty account: %w", err)
	}

	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock loyalty account: %w", err)
	}

	return &account, nil
}

// appendTransaction appends a ledger event and updates the cached balance,
// totals included, against an already locked account. Callers own the
// enclosing transaction.
func (s *pgStore) appendTransaction(tx *gorm.DB, account *schema.LoyaltyAccount, input AppendTransactionInput) (*schema.TokenTransaction, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("transaction amount must be positive, got %d", input.Amount)
	}
	if !domain.IsValidTransactionType(input.Type) {
		return nil, fmt.Errorf("invalid transaction type %q", input.Type)
	}

	newBalance := account.Balance
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	switch input.Type {
	case domain.TransactionTypeReward:
		newBalance += input.Amount
		updates["total_earned"] = account.TotalEarned + input.Amount
	case domain.TransactionTypeRedemption:
		if input.Amount > account.Balance {
			return nil, domain.ErrInsufficientBalance
		}
		newBalance -= input.Amount
		updates["total_redeemed"] = account.TotalRedeemed + input.Amount
	}
	updates["balance"] = newBalance

	txn := schema.TokenTransaction{
		ID:          ulid.Make().String(),
		UserID:      input.UserID,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		Reason:      input.Reason,
		SyncKey:     input.SyncKey,
	}
	if input.Reference != nil {
		txn.ReferenceKind = &input.Reference.Kind
		txn.ReferenceID = &input.Reference.ID
	}

	if err := tx.Create(&txn).Error; err != nil {
		return nil, fmt.Errorf("failed to append ledger transaction: %w", err)
	}

	if err := tx.Model(&schema.LoyaltyAccount{}).
		Where("user_id = ?", input.UserID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update cached balance: %w", err)
	}

	account.Balance = newBalance
	return &txn, nil
}

// AppendTransaction appends a ledger event and updates the cached balance
// atomically, returning the event and the balance after it
func (s *pgStore) AppendTransaction(ctx context.Context, input AppendTransactionInput) (*schema.TokenTransaction, int64, error) {
	var txn *schema.TokenTransaction
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, input.UserID)
		if err != nil {
			return err
		}

		txn, err = s.appendTransaction(tx, account, input)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return txn, balance, nil
}

// ListTransactions returns a user's ledger events, newest first, with the total count
func (s *pgStore) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.TokenTransaction, int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&schema.TokenTransaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger transactions: %w", err)
	}

	var txns []*schema.TokenTransaction
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger transactions: %w", err)
	}

	return txns, total, nil
}

// FoldBalance recomputes the balance from the raw event log (audit path)
func (s *pgStore) FoldBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).
		Model(&schema.TokenTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0)", domain.TransactionTypeReward).
		Where("user_id = ?", userID).
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fold balance: %w", err)
	}
	return balance, nil
}

// SyncBalance credits the difference when externalBalance exceeds the ledger balance.
// The delta is recomputed against the locked account row inside the same
// transaction that appends the correction, and the correction carries a sync
// key unique per (user, reported balance), so retries never double-credit.
func (s *pgStore) SyncBalance(ctx context.Context, userID uuid.UUID, externalBalance int64) (*domain.SyncResult, error) {
	var result domain.SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, userID)
		if err != nil {
			return err
		}

		delta := externalBalance - account.Balance
		if delta <= 0 {
			result = domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: 0}
			return nil
		}

		syncKey := fmt.Sprintf("%s:%d", userID, externalBalance)
		_, err = s.appendTransaction(tx, account, AppendTransactionInput{
			UserID:      userID,
			Type:        domain.TransactionTypeReward,
			Amount:      delta,
			Description: fmt.Sprintf("Blockchain balance sync (+%d TUT)", delta),
			Reason:      domain.ReasonSyncCorrection,
			Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindSync, ID: syncKey},
			SyncKey:     &syncKey,
		})
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// This external balance was already credited once
				result = domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: 0}
				return nil
			}
			return err
		}

		result = domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: delta}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SetWalletAddress binds an on-chain wallet to the user's account
func (s *pgStore) SetWalletAddress(ctx context.Context, userID uuid.UUID, wallet string) error {
	account, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Model(&schema.LoyaltyAccount{}).
		Where("user_id = ?", account.UserID).
		Updates(map[string]interface{}{
			"wallet_address": wallet,
			"updated_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set wallet address: %w", err)
	}
	return nil
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *pgStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	key := fmt.Sprintf("block_cursor:%s", chain)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}

	blockNumber, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}

	return blockNumber, nil
}

// SetBlockCursor stores the last processed block number for a chain
func (s *pgStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	kv := schema.KeyValueStore{
		Key:   fmt.Sprintf("block_cursor:%s", chain),
		Value: strconv.FormatUint(blockNumber, 10),
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}

	return nil
}

// =============================================================================
// Discount codes
// =============================================================================

// MintDiscountFromRedemption redeems tokens and inserts the minted code as
// one transaction. The redemption references the code it produced.
func (s *pgStore) MintDiscountFromRedemption(ctx context.Context, input MintDiscountInput) (*schema.DiscountCode, *schema.TokenTransaction, error) {
	code := input.Code
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}

	var txn *schema.TokenTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, input.UserID)
		if err != nil {
			return err
		}

		txn, err = s.appendTransaction(tx, account, AppendTransactionInput{
			UserID:      input.UserID,
			Type:        domain.TransactionTypeRedemption,
			Amount:      input.TUTAmount,
			Description: input.Description,
			Reason:      domain.ReasonRedemption,
			Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindDiscount, ID: code.ID.String()},
		})
		if err != nil {
			return err
		}

		if err := tx.Create(&code).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateCode
			}
			return fmt.Errorf("failed to create discount code: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &code, txn, nil
}

// CreateDiscountCode inserts a new code; duplicate codes fail with domain.ErrDuplicateCode
func (s *pgStore) CreateDiscountCode(ctx context.Context, code *schema.DiscountCode) error {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("failed to create discount code: %w", err)
	}
	return nil
}

// GetDiscountCodeByCode retrieves a code by its string, or nil if absent
func (s *pgStore) GetDiscountCodeByCode(ctx context.Context, code string) (*schema.DiscountCode, error) {
	var dc schema.DiscountCode
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return &dc, nil
}

// GetDiscountCodeByID retrieves a code by id, or nil if absent
func (s *pgStore) GetDiscountCodeByID(ctx context.Context, id uuid.UUID) (*schema.DiscountCode, error) {
	var dc schema.DiscountCode
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return &dc, nil
}

// ExpireDiscountCode transitions an active code to expired (lazy expiry sweep).
// Used/expired/cancelled codes are left untouched: terminal states never flip back.
func (s *pgStore) ExpireDiscountCode(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Model(&schema.DiscountCode{}).
		Where("id = ? AND status = ?", id, domain.DiscountStatusActive).
		Updates(map[string]interface{}{
			"status":     domain.DiscountStatusExpired,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to expire discount code: %w", err)
	}
	return nil
}

// ApplyDiscountCode atomically consumes one usage of a code for an order
func (s *pgStore) ApplyDiscountCode(ctx context.Context, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal, now time.Time) (*schema.DiscountCode, error) {
	var applied *schema.DiscountCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.applyDiscountCodeTx(tx, code, userID, orderID, orderAmount, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// ListDiscountCodes returns codes matching the filter with the total count
func (s *pgStore) ListDiscountCodes(ctx context.Context, filter DiscountFilter) ([]*schema.DiscountCode, int64, error) {
	query := s.db.WithContext(ctx).Model(&schema.DiscountCode{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.MinPercentage != nil {
		query = query.Where("percentage >= ?", *filter.MinPercentage)
	}
	if filter.MaxPercentage != nil {
		query = query.Where("percentage <= ?", *filter.MaxPercentage)
	}
	if filter.Search != "" {
		query = query.Where("code ILIKE ?", "%"+strings.ToUpper(filter.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count discount codes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var codes []*schema.DiscountCode
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&codes).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list discount codes: %w", err)
	}

	return codes, total, nil
}

// CountDiscountsByStatus aggregates code counts per status
func (s *pgStore) CountDiscountsByStatus(ctx context.Context) (map[domain.DiscountStatus]int64, error) {
	type statusCount struct {
		Status domain.DiscountStatus
		Count  int64
	}

	var rows []statusCount
	err := s.db.WithContext(ctx).
		Model(&schema.DiscountCode{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count discounts by status: %w", err)
	}

	counts := make(map[domain.DiscountStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// UpdateDiscountCode persists admin edits to a code
func (s *pgStore) UpdateDiscountCode(ctx context.Context, code *schema.DiscountCode) error {
	code.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Save(code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("failed to update discount code: %w", err)
	}
	return nil
}

// DeleteDiscountCode removes a code by id
func (s *pgStore) DeleteDiscountCode(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Delete(&schema.DiscountCode{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("failed to delete discount code: %w", err)
	}
	return nil
}

// =============================================================================
// Orders
// =============================================================================

// CreateOrder persists an order, its lines, the token debit and the discount
// consumption as one transaction. A failure at any step rolls back everything;
// no partially priced order is ever visible.
func (s *pgStore) CreateOrder(ctx context.Context, input CreateOrderInput) (*schema.Order, error) {
	order := input.Order
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.OrderNumber == "" {
		order.OrderNumber = "ORD-" + ulid.Make().String()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(&order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range input.Items {
			input.Items[i].ID = uuid.New()
			input.Items[i].OrderID = order.ID
		}
		if len(input.Items) > 0 {
			if err := tx.Create(&input.Items).Error; err != nil {
				return fmt.Errorf("failed to create order items: %w", err)
			}
		}

		if order.TUTTotal > 0 {
			account, err := s.lockAccount(tx, order.UserID)
			if err != nil {
				return err
			}
			_, err = s.appendTransaction(tx, account, AppendTransactionInput{
				UserID:      order.UserID,
				Type:        domain.TransactionTypeRedemption,
				Amount:      order.TUTTotal,
				Description: fmt.Sprintf("Token payment for order %s", order.OrderNumber),
				Reason:      domain.ReasonRedemption,
				Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindOrder, ID: order.ID.String()},
			})
			if err != nil {
				return err
			}
		}

		if input.ApplyDiscountCode != nil {
			if _, err := s.applyDiscountCodeTx(tx, *input.ApplyDiscountCode, order.UserID, order.ID, order.Subtotal, time.Now().UTC()); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Items = input.Items
	return &order, nil
}

// applyDiscountCodeTx is the apply unit against a caller-owned transaction.
// The row lock serializes concurrent applies of the same code.
func (s *pgStore) applyDiscountCodeTx(tx *gorm.DB, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal, now time.Time) (*schema.DiscountCode, error) {
	var dc schema.DiscountCode
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to lock discount code: %w", err)
	}

	if dc.Status != domain.DiscountStatusActive {
		return nil, domain.ErrCodeNotActive
	}
	if now.After(dc.ExpiresAt) {
		return nil, domain.ErrCodeExpired
	}
	if orderAmount.LessThan(dc.MinOrderAmount) {
		return nil, domain.ErrOrderBelowMinimum
	}
	if dc.CurrentUsage >= dc.MaxUsage {
		return nil, domain.ErrConcurrentApply
	}

	dc.CurrentUsage++
	updates := map[string]interface{}{
		"current_usage": dc.CurrentUsage,
		"updated_at":    now.UTC(),
	}
	if dc.UsedAt == nil {
		usedAt := now.UTC()
		dc.UsedAt = &usedAt
		dc.UsedBy = &userID
		dc.OrderID = &orderID
		updates["used_at"] = usedAt
		updates["used_by"] = userID
		updates["order_id"] = orderID
	}
	if dc.CurrentUsage >= dc.MaxUsage {
		dc.Status = domain.DiscountStatusUsed
		updates["status"] = domain.DiscountStatusUsed
	}

	if err := tx.Model(&schema.DiscountCode{}).
		Where("id = ?", dc.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to apply discount code: %w", err)
	}

	return &dc, nil
}

// GetOrderByID retrieves an order with its lines, or nil if absent
func (s *pgStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListOrdersByUser returns a user's orders, newest first, with the total count
func (s *pgStore) ListOrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.Order, int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&schema.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []*schema.Order
	err = s.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus moves an order through the fulfillment state machine
func (s *pgStore) UpdateOrderStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}

		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
		}

		order.Status = next
		order.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&schema.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     next,
				"updated_at": order.UpdatedAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder transitions an order to cancelled and refunds any token payment
// back to the ledger in the same transaction
func (s *pgStore) CancelOrder(ctx context.Context, id uuid.UUID) (*schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}

		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusCancelled)
		}

		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&schema.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     domain.OrderStatusCancelled,
				"updated_at": order.UpdatedAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}

		if order.TUTUsed > 0 {
			account, err := s.lockAccount(tx, order.UserID)
			if err != nil {
				return err
			}
			_, err = s.appendTransaction(tx, account, AppendTransactionInput{
				UserID:      order.UserID,
				Type:        domain.TransactionTypeReward,
				Amount:      order.TUTUsed,
				Description: fmt.Sprintf("Token refund for cancelled order %s", order.OrderNumber),
				Reason:      domain.ReasonOrderRefund,
				Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindOrder, ID: order.ID.String()},
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderPaymentStatus updates the payment state of an order
func (s *pgStore) UpdateOrderPaymentStatus(ctx context.Context, id uuid.UUID, next domain.PaymentStatus) (*schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}

		order.PaymentStatus = next
		order.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&schema.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"payment_status": next,
				"updated_at":     order.UpdatedAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
