package models

import "time"

// RewardType identifies the event class that produced a reward.
type RewardType string

const (
	RewardTypeStakingAccrual RewardType = "staking_accrual"
	RewardTypeSocialShare    RewardType = "social_share"
	RewardTypeReferral       RewardType = "referral"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardTypeStakingAccrual, RewardTypeSocialShare, RewardTypeReferral:
		return true
	}
	return false
}

// RewardRecord is one reward grant. (wallet_address, reference_id, reward_type)
// is unique: that index is the only thing standing between an event and a
// second credit for it.
type RewardRecord struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_rewards_wallet_ref_type,priority:1;index:idx_rewards_wallet_claimed,priority:1" json:"wallet_address"`
	Amount        int64      `gorm:"not null;check:amount >= 0" json:"amount"`
	RewardType    RewardType `gorm:"type:varchar(32);not null;uniqueIndex:idx_rewards_wallet_ref_type,priority:3" json:"reward_type"`
	ReferenceID   string     `gorm:"type:text;not null;uniqueIndex:idx_rewards_wallet_ref_type,priority:2" json:"reference_id"`
	Claimed       bool       `gorm:"not null;default:false;index:idx_rewards_wallet_claimed,priority:2" json:"claimed"`
	ClaimID       *string    `gorm:"type:uuid;index" json:"claim_id,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
}

func (RewardRecord) TableName() string {
	return "rewards"
}
