package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/greengrove/tut-engine/internal/discount"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/providers/catalog"
	"github.com/greengrove/tut-engine/internal/store"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// Config holds the pricing parameters
type Config struct {
	// TaxRate applies to the cash subtotal only; token-priced lines are untaxed
	TaxRate decimal.Decimal
	// Shipping is the flat shipping charge on orders with a cash component
	Shipping decimal.Decimal
}

// LineInput is one requested order line
type LineInput struct {
	ItemType domain.ItemType
	ItemID   string
	Quantity int
}

// OrderInput describes an order to price and create
type OrderInput struct {
	UserID          uuid.UUID
	Items           []LineInput
	PaymentMethod   domain.PaymentMethod
	ShippingAddress datatypes.JSON
	DiscountCode    *string
}

// Quote is a priced order before creation
type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	TUTTotal int64           `json:"tut_total"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Service defines the order pricing engine
//
//go:generate mockgen -source=service.go -destination=../mocks/pricing.go -package=mocks -mock_names=Service=MockPricingService
type Service interface {
	// CreateOrder prices the requested lines and persists the order, the
	// token debit and the discount consumption as one unit. An insufficient
	// token balance or an unusable discount code aborts the whole order.
	CreateOrder(ctx context.Context, input OrderInput) (*schema.Order, error)
	// GetOrder returns an order with its lines, or nil if absent
	GetOrder(ctx context.Context, id uuid.UUID) (*schema.Order, error)
	// ListOrders returns a page of the user's orders, newest first
	ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.Order, int64, error)
	// UpdateStatus moves an order through the fulfillment state machine
	UpdateStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*schema.Order, error)
	// UpdatePaymentStatus updates the payment state of an order
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, next domain.PaymentStatus) (*schema.Order, error)
	// CancelOrder cancels an order on behalf of its owner, refunding any
	// token payment
	CancelOrder(ctx context.Context, id, userID uuid.UUID) (*schema.Order, error)
}

type service struct {
	store     store.Store
	catalog   catalog.Client
	discounts discount.Service
	cfg       Config
}

// NewService creates a new pricing service
func NewService(st store.Store, cat catalog.Client, disc discount.Service, cfg Config) Service {
	return &service{store: st, catalog: cat, discounts: disc, cfg: cfg}
}

// pricedLine pairs a resolved catalog item with its requested quantity
type pricedLine struct {
	item schema.OrderItem
	// tokenPriced lines contribute to the token bucket, cash lines to the subtotal
	tokenPriced bool
}

// CreateOrder prices the requested lines and persists the order atomically
func (s *service) CreateOrder(ctx context.Context, input OrderInput) (*schema.Order, error) {
	if len(input.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if !domain.IsValidPaymentMethod(input.PaymentMethod) {
		return nil, fmt.Errorf("%w: invalid payment method %q", domain.ErrInvalidInput, input.PaymentMethod)
	}

	lines, subtotal, tutTotal, err := s.resolveLines(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	quote, err := s.priceOrder(ctx, subtotal, tutTotal, input.DiscountCode)
	if err != nil {
		return nil, err
	}

	// Any token debit makes this a token order regardless of the requested method
	method := input.PaymentMethod
	if quote.TUTTotal > 0 {
		method = domain.PaymentMethodTUTTokens
	}

	order := schema.Order{
		UserID:          input.UserID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   method,
		Subtotal:        quote.Subtotal,
		TUTTotal:        quote.TUTTotal,
		Tax:             quote.Tax,
		Shipping:        quote.Shipping,
		Discount:        quote.Discount,
		TotalAmount:     quote.Total,
		TUTUsed:         quote.TUTTotal,
		DiscountCode:    input.DiscountCode,
		ShippingAddress: input.ShippingAddress,
	}

	items := make([]schema.OrderItem, len(lines))
	for i, line := range lines {
		items[i] = line.item
	}

	return s.store.CreateOrder(ctx, store.CreateOrderInput{
		Order:             order,
		Items:             items,
		ApplyDiscountCode: input.DiscountCode,
	})
}

// resolveLines fetches catalog items and splits them into the cash and token buckets
func (s *service) resolveLines(ctx context.Context, inputs []LineInput) ([]pricedLine, decimal.Decimal, int64, error) {
	subtotal := decimal.Zero
	var tutTotal int64

	lines := make([]pricedLine, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, decimal.Zero, 0, fmt.Errorf("%w: quantity must be positive for item %s", domain.ErrInvalidInput, in.ItemID)
		}
		if !domain.IsValidItemType(in.ItemType) {
			return nil, decimal.Zero, 0, fmt.Errorf("%w: invalid item type %q", domain.ErrInvalidInput, in.ItemType)
		}

		item, err := s.catalog.GetItem(ctx, in.ItemType, in.ItemID)
		if err != nil {
			return nil, decimal.Zero, 0, err
		}

		line := pricedLine{
			item: schema.OrderItem{
				ItemType: item.Type,
				ItemID:   item.ID,
				Name:     item.Name,
				Quantity: in.Quantity,
			},
		}

		if item.TUTPrice != nil {
			line.tokenPriced = true
			line.item.TUTPrice = item.TUTPrice
			line.item.Price = decimal.Zero
			tutTotal += *item.TUTPrice * int64(in.Quantity)
		} else {
			line.item.Price = item.Price
			subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(in.Quantity))))
		}

		lines = append(lines, line)
	}

	return lines, subtotal.Round(2), tutTotal, nil
}

// priceOrder computes tax, shipping and discount for the cash bucket.
// Tax applies to the undiscounted subtotal; the discount never pushes the
// total below zero.
func (s *service) priceOrder(ctx context.Context, subtotal decimal.Decimal, tutTotal int64, code *string) (*Quote, error) {
	quote := &Quote{
		Subtotal: subtotal,
		TUTTotal: tutTotal,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Discount: decimal.Zero,
	}

	if subtotal.IsPositive() {
		quote.Tax = subtotal.Mul(s.cfg.TaxRate).Round(2)
		quote.Shipping = s.cfg.Shipping
	}

	if code != nil {
		dq, err := s.discounts.Validate(ctx, *code, subtotal)
		if err != nil {
			return nil, err
		}
		quote.Discount = dq.DiscountAmount
	}

	total := quote.Subtotal.Add(quote.Shipping).Add(quote.Tax).Sub(quote.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	quote.Total = total

	return quote, nil
}

// GetOrder returns an order with its lines, or nil if absent
func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*schema.Order, error) {
	return s.store.GetOrderByID(ctx, id)
}

// ListOrders returns a page of the user's orders, newest first
func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*schema.Order, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListOrdersByUser(ctx, userID, limit, offset)
}

// UpdateStatus moves an order through the fulfillment state machine
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*schema.Order, error) {
	if !domain.IsValidOrderStatus(next) {
		return nil, fmt.Errorf("%w: invalid order status %q", domain.ErrInvalidInput, next)
	}
	return s.store.UpdateOrderStatus(ctx, id, next)
}

// UpdatePaymentStatus updates the payment state of an order
func (s *service) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, next domain.PaymentStatus) (*schema.Order, error) {
	if !domain.IsValidPaymentStatus(next) {
		return nil, fmt.Errorf("%w: invalid payment status %q", domain.ErrInvalidInput, next)
	}
	return s.store.UpdateOrderPaymentStatus(ctx, id, next)
}

// CancelOrder cancels an order on behalf of its owner
func (s *service) CancelOrder(ctx context.Context, id, userID uuid.UUID) (*schema.Order, error) {
	order, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return s.store.CancelOrder(ctx, id)
}
