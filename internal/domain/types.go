package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of a ledger transaction
type TransactionType string

const (
	TransactionTypeReward     TransactionType = "reward"
	TransactionTypeRedemption TransactionType = "redemption"
)

// IsValidTransactionType checks if a transaction type is valid
func IsValidTransactionType(t TransactionType) bool {
	return t == TransactionTypeReward || t == TransactionTypeRedemption
}

// ReasonCode represents the reason a token movement happened.
// The values mirror the reason codes understood by the TUT contract.
type ReasonCode string

const (
	ReasonInitialReward  ReasonCode = "initial_reward"
	ReasonTreeAdoption   ReasonCode = "tree_adoption"
	ReasonPlantTree      ReasonCode = "plant_tree"
	ReasonReferral       ReasonCode = "referral"
	ReasonAchievement    ReasonCode = "achievement"
	ReasonRedemption     ReasonCode = "redemption"
	ReasonSyncCorrection ReasonCode = "sync_correction"
	ReasonOrderRefund    ReasonCode = "order_refund"
)

// IsValidReasonCode checks if a reason code is valid
func IsValidReasonCode(r ReasonCode) bool {
	switch r {
	case ReasonInitialReward, ReasonTreeAdoption, ReasonPlantTree,
		ReasonReferral, ReasonAchievement, ReasonRedemption,
		ReasonSyncCorrection, ReasonOrderRefund:
		return true
	}
	return false
}

// ContractReasonCode maps a reason code to the integer the TUT contract expects
func (r ReasonCode) ContractReasonCode() uint8 {
	switch r {
	case ReasonInitialReward:
		return 0
	case ReasonTreeAdoption:
		return 1
	case ReasonPlantTree:
		return 2
	case ReasonReferral:
		return 3
	case ReasonAchievement:
		return 4
	case ReasonRedemption:
		return 5
	default:
		return 255
	}
}

// ReferenceKind represents what a ledger transaction reference points at
type ReferenceKind string

const (
	ReferenceKindOrder    ReferenceKind = "order"
	ReferenceKindDiscount ReferenceKind = "discount"
	ReferenceKindSync     ReferenceKind = "sync"
)

// TransactionReference ties a ledger transaction to the aggregate that caused it
type TransactionReference struct {
	Kind ReferenceKind `json:"kind"`
	ID   string        `json:"id"`
}

// DiscountStatus represents the state of a discount code
type DiscountStatus string

const (
	DiscountStatusActive    DiscountStatus = "active"
	DiscountStatusUsed      DiscountStatus = "used"
	DiscountStatusExpired   DiscountStatus = "expired"
	DiscountStatusCancelled DiscountStatus = "cancelled"
)

// IsValidDiscountStatus checks if a discount status is valid
func IsValidDiscountStatus(s DiscountStatus) bool {
	switch s {
	case DiscountStatusActive, DiscountStatusUsed, DiscountStatusExpired, DiscountStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status can never transition again.
// Only active codes move; used, expired and cancelled are final.
func (s DiscountStatus) Terminal() bool {
	return s != DiscountStatusActive
}

// OrderStatus represents the fulfillment state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// orderTransitions holds the admin-driven order state machine
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// IsValidOrderStatus checks if an order status is valid
func IsValidOrderStatus(s OrderStatus) bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether the order status can move to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// IsValidPaymentStatus checks if a payment status is valid
func IsValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod represents how an order is paid
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCashOnSite   PaymentMethod = "cash_on_site"
	PaymentMethodTUTTokens    PaymentMethod = "tut_tokens"
)

// IsValidPaymentMethod checks if a payment method is valid
func IsValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodCashOnSite, PaymentMethodTUTTokens:
		return true
	}
	return false
}

// ItemType represents the catalog section an order line comes from
type ItemType string

const (
	ItemTypeProduct  ItemType = "product"
	ItemTypeTree     ItemType = "tree"
	ItemTypeLandPlot ItemType = "land_plot"
)

// IsValidItemType checks if an item type is valid
func IsValidItemType(t ItemType) bool {
	return t == ItemTypeProduct || t == ItemTypeTree || t == ItemTypeLandPlot
}

// CatalogItem is the pricing view of a catalog entry supplied by the catalog service.
// TUTPrice is set for token-priced items; those are payable in tokens only.
type CatalogItem struct {
	ID       string          `json:"id"`
	Type     ItemType        `json:"type"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	TUTPrice *int64          `json:"tut_price,omitempty"`
}

// DiscountQuote is the result of validating a discount code against an order amount
type DiscountQuote struct {
	Code           string          `json:"code"`
	Percentage     int             `json:"percentage"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// SyncResult reports the outcome of a balance reconciliation
type SyncResult struct {
	DatabaseBalance int64 `json:"database_balance"`
	SyncedAmount    int64 `json:"synced_amount"`
}

// discountCodePattern matches generated discount codes: uppercase alphanumeric, 6-32 chars
var discountCodePattern = regexp.MustCompile(`^[A-Z0-9]{6,32}$`)

// ValidDiscountCode checks the shape of a discount code string
func ValidDiscountCode(code string) bool {
	return discountCodePattern.MatchString(code)
}

// DiscountExpiryWindow is the default lifetime of a redemption-generated code
const DiscountExpiryWindow = 30 * 24 * time.Hour

// RedemptionDiscountThreshold is the minimum token amount that mints a discount code
const RedemptionDiscountThreshold = 100

// MaxDiscountPercentage caps the percentage a redemption can produce
const MaxDiscountPercentage = 50

// DiscountPercentageFor returns the discount percentage a token redemption
// earns: one percent per 100 tokens, capped at MaxDiscountPercentage.
// Amounts below RedemptionDiscountThreshold earn nothing.
func DiscountPercentageFor(tutAmount int64) int {
	pct := int(tutAmount / 100)
	if pct > MaxDiscountPercentage {
		return MaxDiscountPercentage
	}
	return pct
}
