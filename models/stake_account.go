// models/stake_account.go
package models

import "time"

// LockPeriod is the lock duration a staker commits to.
type LockPeriod string

const (
	LockPeriodShort  LockPeriod = "short"
	LockPeriodMedium LockPeriod = "medium"
	LockPeriodLong   LockPeriod = "long"
)

// Valid reports whether p is one of the known lock periods.
func (p LockPeriod) Valid() bool {
	switch p {
	case LockPeriodShort, LockPeriodMedium, LockPeriodLong:
		return true
	}
	return false
}

// StakeAccount mirrors one NFT staking position. The chain holds the
// authoritative copy; this row may lag behind it.
// Table name: stake_accounts
type StakeAccount struct {
	ID                 string     `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress      string     `gorm:"type:varchar(64);not null;index:idx_stakes_wallet_active,priority:1" json:"wallet_address"`
	NFTMint            string     `gorm:"type:varchar(64);not null;index" json:"nft_mint"`
	Tier               string     `gorm:"type:varchar(32);not null" json:"tier"`
	LockPeriod         LockPeriod `gorm:"type:varchar(16);not null" json:"lock_period"`
	Multiplier         string     `gorm:"type:varchar(64);not null" json:"multiplier"` // exact rational, e.g. "33/20"
	EscrowAddress      string     `gorm:"type:varchar(64);not null" json:"escrow_address"`
	StakeRecordAddress string     `gorm:"type:varchar(64);not null" json:"stake_record_address"`
	StakeSignature     string     `gorm:"type:varchar(128);not null;uniqueIndex" json:"stake_signature"`
	UnstakeSignature   *string    `gorm:"type:varchar(128)" json:"unstake_signature,omitempty"`
	StakedAt           time.Time  `gorm:"not null" json:"staked_at"`
	UnlockAt           time.Time  `gorm:"not null" json:"unlock_at"`
	UnstakedAt         *time.Time `json:"unstaked_at,omitempty"`
	Active             bool       `gorm:"not null;index:idx_stakes_wallet_active,priority:2" json:"active"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
