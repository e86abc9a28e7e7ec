package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/greengrove/tut-engine/internal/domain"
)

// Order represents the orders table (pricing-relevant fields).
// Invariant: TotalAmount = Subtotal + Shipping + Tax - Discount, never negative.
type Order struct {
	// ID is the internal primary key
	ID uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	// UserID is the buyer
	UserID uuid.UUID `gorm:"column:user_id;not null;type:uuid;index:idx_orders_user"`
	// OrderNumber is the external human-readable identifier
	OrderNumber string `gorm:"column:order_number;not null;type:text;uniqueIndex:idx_orders_number"`
	// Status is the fulfillment state (admin-driven state machine)
	Status domain.OrderStatus `gorm:"column:status;not null;default:'pending';type:text;index:idx_orders_status"`
	// PaymentStatus is the payment state
	PaymentStatus domain.PaymentStatus `gorm:"column:payment_status;not null;default:'pending';type:text"`
	// PaymentMethod is how the order is paid; tut_tokens when any line is token-priced
	PaymentMethod domain.PaymentMethod `gorm:"column:payment_method;not null;type:text"`
	// Subtotal is the cash contribution of all cash-priced lines
	Subtotal decimal.Decimal `gorm:"column:subtotal;not null;default:0;type:numeric(12,2)"`
	// TUTTotal is the token contribution of all token-priced lines
	TUTTotal int64 `gorm:"column:tut_total;not null;default:0"`
	// Tax is 8% of the cash subtotal (token-priced lines are untaxed)
	Tax decimal.Decimal `gorm:"column:tax;not null;default:0;type:numeric(12,2)"`
	// Shipping is the shipping charge
	Shipping decimal.Decimal `gorm:"column:shipping;not null;default:0;type:numeric(12,2)"`
	// Discount is the cash reduction from an applied discount code
	Discount decimal.Decimal `gorm:"column:discount;not null;default:0;type:numeric(12,2)"`
	// TotalAmount is the final cash charge
	TotalAmount decimal.Decimal `gorm:"column:total_amount;not null;default:0;type:numeric(12,2)"`
	// TUTUsed is the total tokens debited for this order
	TUTUsed int64 `gorm:"column:tut_used;not null;default:0"`
	// DiscountCode is the code applied to this order, if any
	DiscountCode *string `gorm:"column:discount_code;type:text"`
	// ShippingAddress is the delivery address document
	ShippingAddress datatypes.JSON `gorm:"column:shipping_address;type:jsonb"`
	// CreatedAt is the timestamp when this order was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this order was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}
