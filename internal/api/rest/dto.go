package rest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// ---- Requests ----

// GenerateDiscountRequest is the body of POST /discounts/generate
type GenerateDiscountRequest struct {
	TUTAmount int64 `json:"tut_amount" binding:"required,gt=0"`
}

// ValidateDiscountRequest is the body of POST /discounts/validate
type ValidateDiscountRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderAmount decimal.Decimal `json:"order_amount" binding:"required"`
}

// ApplyDiscountRequest is the body of POST /discounts/apply
type ApplyDiscountRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderID     uuid.UUID       `json:"order_id" binding:"required"`
	OrderAmount decimal.Decimal `json:"order_amount" binding:"required"`
}

// AdminCreateDiscountRequest is the body of POST /admin/discounts
type AdminCreateDiscountRequest struct {
	Code              string           `json:"code"`
	Percentage        int              `json:"percentage" binding:"required,gte=1,lte=100"`
	UserID            uuid.UUID        `json:"user_id" binding:"required"`
	MaxUsage          int              `json:"max_usage"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	ExpiresAt         time.Time        `json:"expires_at" binding:"required"`
}

// AdminUpdateDiscountRequest is the body of PUT /admin/discounts/:id.
// Absent fields are left unchanged.
type AdminUpdateDiscountRequest struct {
	Percentage        *int             `json:"percentage" binding:"omitempty,gte=1,lte=100"`
	Status            *string          `json:"status"`
	MaxUsage          *int             `json:"max_usage" binding:"omitempty,gte=1"`
	MinOrderAmount    *decimal.Decimal `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	ExpiresAt         *time.Time       `json:"expires_at"`
}

// OrderItemRequest is one line of a create-order request
type OrderItemRequest struct {
	ItemType string `json:"item_type" binding:"required"`
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest is the body of POST /orders
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" binding:"required,dive"`
	PaymentMethod   string             `json:"payment_method" binding:"required"`
	ShippingAddress datatypes.JSON     `json:"shipping_address"`
	DiscountCode    *string            `json:"discount_code"`
}

// UpdateOrderStatusRequest is the body of PUT /admin/orders/:id/status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatusRequest is the body of PUT /admin/orders/:id/payment-status
type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required"`
}

// SyncBalanceRequest is the body of POST /balance/sync. BlockchainBalance is
// optional; when absent the balance is read from the bound wallet on-chain.
type SyncBalanceRequest struct {
	BlockchainBalance *int64 `json:"blockchain_balance"`
}

// BindWalletRequest is the body of PUT /balance/wallet
type BindWalletRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// AdminRewardRequest is the body of POST /admin/rewards
type AdminRewardRequest struct {
	UserID      uuid.UUID `json:"user_id" binding:"required"`
	Amount      int64     `json:"amount" binding:"required,gt=0"`
	Reason      string    `json:"reason" binding:"required"`
	Description string    `json:"description"`
}

// AdminBatchRewardEntry is one grant within a batch reward request
type AdminBatchRewardEntry struct {
	UserID      uuid.UUID `json:"user_id" binding:"required"`
	Amount      int64     `json:"amount" binding:"required,gt=0"`
	Description string    `json:"description"`
}

// AdminBatchRewardRequest is the body of POST /admin/rewards/batch
type AdminBatchRewardRequest struct {
	Reason  string                  `json:"reason" binding:"required"`
	Rewards []AdminBatchRewardEntry `json:"rewards" binding:"required,min=1,dive"`
}

// ---- Responses ----

// BalanceResponse is the payload of GET /balance
type BalanceResponse struct {
	UserID        uuid.UUID `json:"user_id"`
	Balance       int64     `json:"balance"`
	TotalEarned   int64     `json:"total_earned"`
	TotalRedeemed int64     `json:"total_redeemed"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
}

// TransactionResponse is one ledger entry in API responses
type TransactionResponse struct {
	ID            string                 `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	Type          domain.TransactionType `json:"type"`
	Amount        int64                  `json:"amount"`
	Description   string                 `json:"description,omitempty"`
	Reason        domain.ReasonCode      `json:"reason"`
	ReferenceKind *domain.ReferenceKind  `json:"reference_kind,omitempty"`
	ReferenceID   *string                `json:"reference_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// DiscountCodeResponse is one discount code in API responses
type DiscountCodeResponse struct {
	ID                uuid.UUID             `json:"id"`
	Code              string                `json:"code"`
	Percentage        int                   `json:"percentage"`
	UserID            uuid.UUID             `json:"user_id"`
	Status            domain.DiscountStatus `json:"status"`
	MaxUsage          int                   `json:"max_usage"`
	CurrentUsage      int                   `json:"current_usage"`
	MinOrderAmount    decimal.Decimal       `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal      `json:"max_discount_amount,omitempty"`
	ExpiresAt         time.Time             `json:"expires_at"`
	TUTAmount         *int64                `json:"tut_amount,omitempty"`
	UsedAt            *time.Time            `json:"used_at,omitempty"`
	OrderID           *uuid.UUID            `json:"order_id,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// OrderItemResponse is one order line in API responses
type OrderItemResponse struct {
	ID       uuid.UUID       `json:"id"`
	ItemType domain.ItemType `json:"item_type"`
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	TUTPrice *int64          `json:"tut_price,omitempty"`
}

// OrderResponse is one order in API responses
type OrderResponse struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	OrderNumber     string               `json:"order_number"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	TUTTotal        int64                `json:"tut_total"`
	Tax             decimal.Decimal      `json:"tax"`
	Shipping        decimal.Decimal      `json:"shipping"`
	Discount        decimal.Decimal      `json:"discount"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	TUTUsed         int64                `json:"tut_used"`
	DiscountCode    *string              `json:"discount_code,omitempty"`
	ShippingAddress datatypes.JSON       `json:"shipping_address,omitempty"`
	Items           []OrderItemResponse  `json:"items,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ListMeta carries pagination metadata alongside list payloads
type ListMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// GenerateDiscountResponse is the payload of POST /discounts/generate
type GenerateDiscountResponse struct {
	Discount    DiscountCodeResponse `json:"discount"`
	Transaction TransactionResponse  `json:"transaction"`
}

func toBalanceResponse(account *schema.LoyaltyAccount) BalanceResponse {
	return BalanceResponse{
		UserID:        account.UserID,
		Balance:       account.Balance,
		TotalEarned:   account.TotalEarned,
		TotalRedeemed: account.TotalRedeemed,
		WalletAddress: account.WalletAddress,
	}
}

func toTransactionResponse(txn *schema.TokenTransaction) TransactionResponse {
	return TransactionResponse{
		ID:            txn.ID,
		UserID:        txn.UserID,
		Type:          txn.Type,
		Amount:        txn.Amount,
		Description:   txn.Description,
		Reason:        txn.Reason,
		ReferenceKind: txn.ReferenceKind,
		ReferenceID:   txn.ReferenceID,
		CreatedAt:     txn.CreatedAt,
	}
}

func toTransactionResponses(txns []*schema.TokenTransaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	return out
}

func toDiscountCodeResponse(code *schema.DiscountCode) DiscountCodeResponse {
	return DiscountCodeResponse{
		ID:                code.ID,
		Code:              code.Code,
		Percentage:        code.Percentage,
		UserID:            code.UserID,
		Status:            code.Status,
		MaxUsage:          code.MaxUsage,
		CurrentUsage:      code.CurrentUsage,
		MinOrderAmount:    code.MinOrderAmount,
		MaxDiscountAmount: code.MaxDiscountAmount,
		ExpiresAt:         code.ExpiresAt,
		TUTAmount:         code.TUTAmount,
		UsedAt:            code.UsedAt,
		OrderID:           code.OrderID,
		CreatedAt:         code.CreatedAt,
	}
}

func toDiscountCodeResponses(codes []*schema.DiscountCode) []DiscountCodeResponse {
	out := make([]DiscountCodeResponse, 0, len(codes))
	for _, code := range codes {
		out = append(out, toDiscountCodeResponse(code))
	}
	return out
}

func toOrderResponse(order *schema.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemResponse{
			ID:       item.ID,
			ItemType: item.ItemType,
			ItemID:   item.ItemID,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
			TUTPrice: item.TUTPrice,
		})
	}

	return OrderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		OrderNumber:     order.OrderNumber,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		Subtotal:        order.Subtotal,
		TUTTotal:        order.TUTTotal,
		Tax:             order.Tax,
		Shipping:        order.Shipping,
		Discount:        order.Discount,
		TotalAmount:     order.TotalAmount,
		TUTUsed:         order.TUTUsed,
		DiscountCode:    order.DiscountCode,
		ShippingAddress: order.ShippingAddress,
		Items:           items,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toOrderResponses(orders []*schema.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}
