package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greengrove/tut-engine/internal/domain"
)

// DiscountCode represents the discount_codes table - bounded-use percentage-off
// codes minted from token redemptions or created by admins.
type DiscountCode struct {
	// ID is the internal primary key
	ID uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	// Code is the unique human-readable token (uppercase alphanumeric)
	Code string `gorm:"column:code;not null;type:text;uniqueIndex:idx_discount_codes_code"`
	// Percentage is the discount percentage, 1-100
	Percentage int `gorm:"column:percentage;not null;check:percentage >= 1 AND percentage <= 100"`
	// UserID is the owner of the code
	UserID uuid.UUID `gorm:"column:user_id;not null;type:uuid;index:idx_discount_codes_user"`
	// Status is the state machine position (active, used, expired, cancelled)
	Status domain.DiscountStatus `gorm:"column:status;not null;default:'active';type:text;index:idx_discount_codes_status"`
	// MaxUsage bounds how many times the code may be applied
	MaxUsage int `gorm:"column:max_usage;not null;default:1"`
	// CurrentUsage counts successful applies; never exceeds MaxUsage
	CurrentUsage int `gorm:"column:current_usage;not null;default:0"`
	// MinOrderAmount is the minimum cash subtotal the code applies to
	MinOrderAmount decimal.Decimal `gorm:"column:min_order_amount;not null;default:0;type:numeric(12,2)"`
	// MaxDiscountAmount optionally caps the absolute discount
	MaxDiscountAmount *decimal.Decimal `gorm:"column:max_discount_amount;type:numeric(12,2)"`
	// ExpiresAt is the absolute expiry timestamp
	ExpiresAt time.Time `gorm:"column:expires_at;not null;type:timestamptz"`
	// TUTAmount is the redeemed token amount that produced this code, if auto-generated
	TUTAmount *int64 `gorm:"column:tut_amount"`
	// UsedAt is set on the first successful apply
	UsedAt *time.Time `gorm:"column:used_at;type:timestamptz"`
	// UsedBy is the user who applied the code
	UsedBy *uuid.UUID `gorm:"column:used_by;type:uuid"`
	// OrderID is the order the code was applied to
	OrderID *uuid.UUID `gorm:"column:order_id;type:uuid"`
	// CreatedAt is the timestamp when this code was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this code was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DiscountCode model
func (DiscountCode) TableName() string {
	return "discount_codes"
}
