// Package storetest provides an in-memory Store for service tests. It keeps
// the same semantics as the PostgreSQL store, including balance enforcement,
// sync deduplication and discount usage accounting, without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// MemStore is an in-memory store.Store implementation
type MemStore struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*schema.LoyaltyAccount
	transactions []*schema.TokenTransaction
	syncKeys     map[string]bool
	discounts    map[uuid.UUID]*schema.DiscountCode
	orders       map[uuid.UUID]*schema.Order
	cursors      map[string]uint64

	now func() time.Time
}

var _ store.Store = (*MemStore)(nil)

// New creates an empty in-memory store
func New() *MemStore {
	return &MemStore{
		accounts:  make(map[uuid.UUID]*schema.LoyaltyAccount),
		syncKeys:  make(map[string]bool),
		discounts: make(map[uuid.UUID]*schema.DiscountCode),
		orders:    make(map[uuid.UUID]*schema.Order),
		cursors:   make(map[string]uint64),
		now:       time.Now,
	}
}

// GetBlockCursor retrieves the last processed block number for a chain
func (m *MemStore) GetBlockCursor(_ context.Context, chain string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[chain], nil
}

// SetBlockCursor stores the last processed block number for a chain
func (m *MemStore) SetBlockCursor(_ context.Context, chain string, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[chain] = blockNumber
	return nil
}

// SetNow overrides the timestamp source
func (m *MemStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemStore) GetAccount(_ context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (m *MemStore) GetOrCreateAccount(_ context.Context, userID uuid.UUID) (*schema.LoyaltyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *m.account(userID)
	return &copied, nil
}

// account returns the live account row, creating it when absent. Callers hold mu.
func (m *MemStore) account(userID uuid.UUID) *schema.LoyaltyAccount {
	account, ok := m.accounts[userID]
	if !ok {
		now := m.now()
		account = &schema.LoyaltyAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
		m.accounts[userID] = account
	}
	return account
}

func (m *MemStore) AppendTransaction(_ context.Context, input store.AppendTransactionInput) (*schema.TokenTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, err := m.appendTransaction(input)
	if err != nil {
		return nil, 0, err
	}
	return txn, m.accounts[input.UserID].Balance, nil
}

// appendTransaction applies one ledger event. Callers hold mu.
func (m *MemStore) appendTransaction(input store.AppendTransactionInput) (*schema.TokenTransaction, error) {
	account := m.account(input.UserID)

	switch input.Type {
	case domain.TransactionTypeReward:
		account.Balance += input.Amount
		account.TotalEarned += input.Amount
	case domain.TransactionTypeRedemption:
		if account.Balance < input.Amount {
			return nil, domain.ErrInsufficientBalance
		}
		account.Balance -= input.Amount
		account.TotalRedeemed += input.Amount
	default:
		return nil, fmt.Errorf("unknown transaction type %q", input.Type)
	}
	account.UpdatedAt = m.now()

	txn := &schema.TokenTransaction{
		ID:          ulid.Make().String(),
		UserID:      input.UserID,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		Reason:      input.Reason,
		SyncKey:     input.SyncKey,
		CreatedAt:   m.now(),
	}
	if input.Reference != nil {
		kind := input.Reference.Kind
		id := input.Reference.ID
		txn.ReferenceKind = &kind
		txn.ReferenceID = &id
	}
	m.transactions = append(m.transactions, txn)
	return txn, nil
}

func (m *MemStore) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]*schema.TokenTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Newest first; the slice is in append order
	var matched []*schema.TokenTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].UserID == userID {
			matched = append(matched, m.transactions[i])
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemStore) FoldBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var balance int64
	for _, txn := range m.transactions {
		if txn.UserID != userID {
			continue
		}
		if txn.Type == domain.TransactionTypeReward {
			balance += txn.Amount
		} else {
			balance -= txn.Amount
		}
	}
	return balance, nil
}

func (m *MemStore) SyncBalance(_ context.Context, userID uuid.UUID, externalBalance int64) (*domain.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := m.account(userID)
	delta := externalBalance - account.Balance
	if delta <= 0 {
		return &domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: 0}, nil
	}

	syncKey := fmt.Sprintf("%s:%d", userID, externalBalance)
	if m.syncKeys[syncKey] {
		return &domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: 0}, nil
	}
	m.syncKeys[syncKey] = true

	_, err := m.appendTransaction(store.AppendTransactionInput{
		UserID:      userID,
		Type:        domain.TransactionTypeReward,
		Amount:      delta,
		Description: "Blockchain balance sync",
		Reason:      domain.ReasonSyncCorrection,
		SyncKey:     &syncKey,
	})
	if err != nil {
		return nil, err
	}
	return &domain.SyncResult{DatabaseBalance: account.Balance, SyncedAmount: delta}, nil
}

func (m *MemStore) SetWalletAddress(_ context.Context, userID uuid.UUID, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := m.account(userID)
	account.WalletAddress = &wallet
	account.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) MintDiscountFromRedemption(_ context.Context, input store.MintDiscountInput) (*schema.DiscountCode, *schema.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.discounts {
		if existing.Code == input.Code.Code {
			return nil, nil, domain.ErrDuplicateCode
		}
	}

	account := m.account(input.UserID)
	if account.Balance < input.TUTAmount {
		return nil, nil, domain.ErrInsufficientBalance
	}

	code := input.Code
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	code.CreatedAt = m.now()
	code.UpdatedAt = m.now()

	txn, err := m.appendTransaction(store.AppendTransactionInput{
		UserID:      input.UserID,
		Type:        domain.TransactionTypeRedemption,
		Amount:      input.TUTAmount,
		Description: input.Description,
		Reason:      domain.ReasonRedemption,
		Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindDiscount, ID: code.ID.String()},
	})
	if err != nil {
		return nil, nil, err
	}

	m.discounts[code.ID] = &code
	copied := code
	return &copied, txn, nil
}

func (m *MemStore) CreateDiscountCode(_ context.Context, code *schema.DiscountCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.discounts {
		if existing.Code == code.Code {
			return domain.ErrDuplicateCode
		}
	}
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	code.CreatedAt = m.now()
	code.UpdatedAt = m.now()
	copied := *code
	m.discounts[code.ID] = &copied
	return nil
}

func (m *MemStore) GetDiscountCodeByCode(_ context.Context, code string) (*schema.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.discounts {
		if existing.Code == code {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetDiscountCodeByID(_ context.Context, id uuid.UUID) (*schema.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.discounts[id]
	if !ok {
		return nil, nil
	}
	copied := *existing
	return &copied, nil
}

func (m *MemStore) ExpireDiscountCode(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.discounts[id]
	if !ok {
		return domain.ErrCodeNotFound
	}
	if existing.Status == domain.DiscountStatusActive {
		existing.Status = domain.DiscountStatusExpired
		existing.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemStore) ApplyDiscountCode(_ context.Context, code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal, now time.Time) (*schema.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyDiscountCode(code, userID, orderID, orderAmount, now)
}

// applyDiscountCode consumes one usage. Callers hold mu.
func (m *MemStore) applyDiscountCode(code string, userID, orderID uuid.UUID, orderAmount decimal.Decimal, now time.Time) (*schema.DiscountCode, error) {
	var existing *schema.DiscountCode
	for _, candidate := range m.discounts {
		if candidate.Code == code {
			existing = candidate
			break
		}
	}
	if existing == nil {
		return nil, domain.ErrCodeNotFound
	}
	if existing.Status == domain.DiscountStatusExpired || now.After(existing.ExpiresAt) {
		return nil, domain.ErrCodeExpired
	}
	if existing.Status != domain.DiscountStatusActive {
		return nil, domain.ErrCodeNotActive
	}
	if orderAmount.LessThan(existing.MinOrderAmount) {
		return nil, domain.ErrOrderBelowMinimum
	}
	if existing.CurrentUsage >= existing.MaxUsage {
		return nil, domain.ErrConcurrentApply
	}

	existing.CurrentUsage++
	existing.UsedAt = &now
	existing.UsedBy = &userID
	existing.OrderID = &orderID
	if existing.CurrentUsage >= existing.MaxUsage {
		existing.Status = domain.DiscountStatusUsed
	}
	existing.UpdatedAt = now

	copied := *existing
	return &copied, nil
}

func (m *MemStore) ListDiscountCodes(_ context.Context, filter store.DiscountFilter) ([]*schema.DiscountCode, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*schema.DiscountCode
	for _, code := range m.discounts {
		if filter.UserID != nil && code.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && code.Status != *filter.Status {
			continue
		}
		if filter.MinPercentage != nil && code.Percentage < *filter.MinPercentage {
			continue
		}
		if filter.MaxPercentage != nil && code.Percentage > *filter.MaxPercentage {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToUpper(code.Code), strings.ToUpper(filter.Search)) {
			continue
		}
		copied := *code
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	end := filter.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

func (m *MemStore) CountDiscountsByStatus(_ context.Context) (map[domain.DiscountStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.DiscountStatus]int64)
	for _, code := range m.discounts {
		counts[code.Status]++
	}
	return counts, nil
}

func (m *MemStore) UpdateDiscountCode(_ context.Context, code *schema.DiscountCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discounts[code.ID]; !ok {
		return domain.ErrCodeNotFound
	}
	code.UpdatedAt = m.now()
	copied := *code
	m.discounts[code.ID] = &copied
	return nil
}

func (m *MemStore) DeleteDiscountCode(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discounts[id]; !ok {
		return domain.ErrCodeNotFound
	}
	delete(m.discounts, id)
	return nil
}

func (m *MemStore) CreateOrder(_ context.Context, input store.CreateOrderInput) (*schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := input.Order
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.OrderNumber == "" {
		order.OrderNumber = "ORD-" + ulid.Make().String()
	}
	now := m.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	// Snapshot for rollback; commit only when every step succeeds
	accountBefore := *m.account(order.UserID)
	var discountBefore *schema.DiscountCode
	if input.ApplyDiscountCode != nil {
		for _, code := range m.discounts {
			if code.Code == *input.ApplyDiscountCode {
				copied := *code
				discountBefore = &copied
				break
			}
		}
	}

	rollback := func() {
		restored := accountBefore
		m.accounts[order.UserID] = &restored
		if discountBefore != nil {
			restored := *discountBefore
			m.discounts[restored.ID] = &restored
		}
	}

	if order.TUTUsed > 0 {
		_, err := m.appendTransaction(store.AppendTransactionInput{
			UserID:      order.UserID,
			Type:        domain.TransactionTypeRedemption,
			Amount:      order.TUTUsed,
			Description: fmt.Sprintf("Order %s", order.OrderNumber),
			Reason:      domain.ReasonRedemption,
			Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindOrder, ID: order.ID.String()},
		})
		if err != nil {
			rollback()
			return nil, err
		}
	}

	if input.ApplyDiscountCode != nil {
		_, err := m.applyDiscountCode(*input.ApplyDiscountCode, order.UserID, order.ID, order.Subtotal, now)
		if err != nil {
			rollback()
			return nil, err
		}
	}

	for i := range input.Items {
		if input.Items[i].ID == uuid.Nil {
			input.Items[i].ID = uuid.New()
		}
		input.Items[i].OrderID = order.ID
		input.Items[i].CreatedAt = now
	}
	order.Items = input.Items

	copied := order
	m.orders[order.ID] = &copied
	result := order
	return &result, nil
}

func (m *MemStore) GetOrderByID(_ context.Context, id uuid.UUID) (*schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (m *MemStore) ListOrdersByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*schema.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*schema.Order
	for _, order := range m.orders {
		if order.UserID == userID {
			copied := *order
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemStore) UpdateOrderStatus(_ context.Context, id uuid.UUID, next domain.OrderStatus) (*schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, order.Status, next)
	}
	order.Status = next
	order.UpdatedAt = m.now()
	copied := *order
	return &copied, nil
}

func (m *MemStore) UpdateOrderPaymentStatus(_ context.Context, id uuid.UUID, next domain.PaymentStatus) (*schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	order.PaymentStatus = next
	order.UpdatedAt = m.now()
	copied := *order
	return &copied, nil
}

func (m *MemStore) CancelOrder(_ context.Context, id uuid.UUID) (*schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = m.now()

	if order.TUTUsed > 0 {
		_, err := m.appendTransaction(store.AppendTransactionInput{
			UserID:      order.UserID,
			Type:        domain.TransactionTypeReward,
			Amount:      order.TUTUsed,
			Description: fmt.Sprintf("Refund for cancelled order %s", order.OrderNumber),
			Reason:      domain.ReasonOrderRefund,
			Reference:   &domain.TransactionReference{Kind: domain.ReferenceKindOrder, ID: order.ID.String()},
		})
		if err != nil {
			return nil, err
		}
	}

	copied := *order
	return &copied, nil
}
