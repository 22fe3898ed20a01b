package models

import "time"

// Referral links a referred wallet to the wallet that brought it in.
// The referrer is credited once, on the referred wallet's first confirmed stake.
type Referral struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerWallet string `gorm:"type:varchar(64);index;not null" json:"referrer_wallet"`
	ReferredWallet string `gorm:"type:varchar(64);uniqueIndex;not null" json:"referred_wallet"`

	BonusAwarded bool       `json:"bonus_awarded" gorm:"default:false"`
	AwardedAt    *time.Time `json:"awarded_at,omitempty"`

	Timestamps
}
