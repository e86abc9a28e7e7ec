package schema

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyAccount represents the loyalty_accounts table - one row per user holding
// the cached running TUT balance derived from the transaction log.
// Balance is only ever written inside the same transaction that appends a
// token_transactions row, so it always equals the fold over the log.
type LoyaltyAccount struct {
	// UserID is the owning user (1:1, primary key)
	UserID uuid.UUID `gorm:"column:user_id;primaryKey;type:uuid"`
	// Balance is the cached running balance (rewards minus redemptions), never negative
	Balance int64 `gorm:"column:balance;not null;default:0;check:balance >= 0"`
	// TotalEarned is the lifetime sum of reward amounts
	TotalEarned int64 `gorm:"column:total_earned;not null;default:0"`
	// TotalRedeemed is the lifetime sum of redemption amounts
	TotalRedeemed int64 `gorm:"column:total_redeemed;not null;default:0"`
	// WalletAddress is the user's bound on-chain address, if any
	WalletAddress *string `gorm:"column:wallet_address;type:text"`
	// CreatedAt is the timestamp when this account was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this account was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LoyaltyAccount model
func (LoyaltyAccount) TableName() string {
	return "loyalty_accounts"
}
