package models

import "time"

// ClaimStatus tracks a payout attempt: pending -> settled | failed
type ClaimStatus string

const (
	ClaimStatusPending ClaimStatus = "pending"
	ClaimStatusSettled ClaimStatus = "settled"
	ClaimStatusFailed  ClaimStatus = "failed"
)

// ClaimRequest aggregates every unclaimed reward of a wallet into one payout.
// PayoutLastValidBlockHeight bounds how long a payout the chain has not
// seen can still land.
type ClaimRequest struct {
	ID                         string      `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress              string      `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	Amount                     int64       `gorm:"not null;check:amount >= 0" json:"amount"`
	Status                     ClaimStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	PayoutSignature            *string     `gorm:"type:varchar(128)" json:"payout_signature,omitempty"`
	PayoutLastValidBlockHeight *uint64     `json:"payout_last_valid_block_height,omitempty"`
	FailureReason              string      `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt                  time.Time   `gorm:"not null;index" json:"created_at"`
	UpdatedAt                  time.Time   `gorm:"not null" json:"updated_at"`
	SettledAt                  *time.Time  `json:"settled_at,omitempty"`
}

func (ClaimRequest) TableName() string {
	return "reward_claims"
}
