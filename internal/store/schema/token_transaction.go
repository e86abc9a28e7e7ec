package schema

import (
	"time"

	"github.com/google/uuid"

	"github.com/greengrove/tut-engine/internal/domain"
)

// TokenTransaction represents the token_transactions table - the append-only
// ledger of reward and redemption events. Rows are never updated or deleted.
type TokenTransaction struct {
	// ID is a ULID so the log is lexically ordered by creation time
	ID string `gorm:"column:id;primaryKey;type:text"`
	// UserID references the account this event belongs to
	UserID uuid.UUID `gorm:"column:user_id;not null;type:uuid;index:idx_token_transactions_user"`
	// Type is the direction of the event (reward or redemption)
	Type domain.TransactionType `gorm:"column:type;not null;type:text"`
	// Amount is the token quantity moved, always positive
	Amount int64 `gorm:"column:amount;not null;check:amount > 0"`
	// Description is a human-readable note
	Description string `gorm:"column:description;type:text"`
	// Reason is the closed reason code for the movement
	Reason domain.ReasonCode `gorm:"column:reason;not null;type:text"`
	// ReferenceKind and ReferenceID tie the event to an order, discount or sync
	ReferenceKind *domain.ReferenceKind `gorm:"column:reference_kind;type:text"`
	ReferenceID   *string               `gorm:"column:reference_id;type:text"`
	// SyncKey deduplicates reconciler corrections; unique when set
	SyncKey *string `gorm:"column:sync_key;type:text;uniqueIndex:idx_token_transactions_sync_key"`
	// CreatedAt is the timestamp when this event was appended
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Account LoyaltyAccount `gorm:"foreignKey:UserID;references:UserID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the TokenTransaction model
func (TokenTransaction) TableName() string {
	return "token_transactions"
}
