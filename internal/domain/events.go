package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a published ledger or discount event
type EventType string

const (
	EventTypeRewarded          EventType = "rewarded"
	EventTypeRedeemed          EventType = "redeemed"
	EventTypeDiscountGenerated EventType = "discount_generated"
)

// LedgerEvent is the message published after a ledger append commits.
// Balance is the cached balance after the event.
type LedgerEvent struct {
	EventType     EventType  `json:"event_type"`
	UserID        uuid.UUID  `json:"user_id"`
	TransactionID string     `json:"transaction_id"`
	Amount        int64      `json:"amount"`
	Balance       int64      `json:"balance"`
	Reason        ReasonCode `json:"reason"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// ChainTokenEvent is a Rewarded or Redeemed log parsed off the TUT contract
type ChainTokenEvent struct {
	Type        TransactionType `json:"type"`
	Wallet      string          `json:"wallet"`
	Amount      int64           `json:"amount"`
	Reason      uint8           `json:"reason"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
}

// DiscountEvent is the message published when a redemption mints a discount code
type DiscountEvent struct {
	EventType  EventType `json:"event_type"`
	UserID     uuid.UUID `json:"user_id"`
	Code       string    `json:"code"`
	Percentage int       `json:"percentage"`
	TUTAmount  int64     `json:"tut_amount"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}
