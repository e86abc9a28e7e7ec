package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greengrove/tut-engine/internal/domain"
)

// OrderItem represents the order_items table - one priced line per catalog item.
// A line carries either a cash price or a token price, never both.
type OrderItem struct {
	// ID is the internal primary key
	ID uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	// OrderID references the owning order
	OrderID uuid.UUID `gorm:"column:order_id;not null;type:uuid;index:idx_order_items_order"`
	// ItemType is the catalog section (product, tree, land_plot)
	ItemType domain.ItemType `gorm:"column:item_type;not null;type:text"`
	// ItemID is the catalog item reference
	ItemID string `gorm:"column:item_id;not null;type:text"`
	// Name is the catalog item name at purchase time
	Name string `gorm:"column:name;type:text"`
	// Quantity is the number of units, always positive
	Quantity int `gorm:"column:quantity;not null;check:quantity > 0"`
	// Price is the cash unit price (zero for token-priced lines)
	Price decimal.Decimal `gorm:"column:price;not null;default:0;type:numeric(12,2)"`
	// TUTPrice is the token unit price for token-priced lines
	TUTPrice *int64 `gorm:"column:tut_price"`
	// CreatedAt is the timestamp when this line was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the OrderItem model
func (OrderItem) TableName() string {
	return "order_items"
}
