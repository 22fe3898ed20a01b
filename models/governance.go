package models

import "time"

// VoteChoice is the option a wallet picks on a proposal.
type VoteChoice string

const (
	VoteYes     VoteChoice = "yes"
	VoteNo      VoteChoice = "no"
	VoteAbstain VoteChoice = "abstain"
)

func (c VoteChoice) Valid() bool {
	switch c {
	case VoteYes, VoteNo, VoteAbstain:
		return true
	}
	return false
}

// TallyColumn returns the proposal column holding the power cast for c.
func (c VoteChoice) TallyColumn() string {
	switch c {
	case VoteYes:
		return "yes_power"
	case VoteNo:
		return "no_power"
	default:
		return "abstain_power"
	}
}

// GovernanceProposal is a question put to stakers over a voting window.
type GovernanceProposal struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	Slug           string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"slug"`
	Title          string    `gorm:"not null" json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	VotingStartsAt time.Time `gorm:"not null" json:"voting_starts_at"`
	VotingEndsAt   time.Time `gorm:"not null" json:"voting_ends_at"`
	YesPower       int64     `gorm:"not null;default:0" json:"yes_power"`
	NoPower        int64     `gorm:"not null;default:0" json:"no_power"`
	AbstainPower   int64     `gorm:"not null;default:0" json:"abstain_power"`
	VoteCount      int64     `gorm:"not null;default:0" json:"vote_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOpen reports whether now falls inside [VotingStartsAt, VotingEndsAt).
func (p *GovernanceProposal) IsOpen(now time.Time) bool {
	return !now.Before(p.VotingStartsAt) && now.Before(p.VotingEndsAt)
}

// AddPower credits power to the tally of choice.
func (p *GovernanceProposal) AddPower(choice VoteChoice, power int64) {
	switch choice {
	case VoteYes:
		p.YesPower += power
	case VoteNo:
		p.NoPower += power
	default:
		p.AbstainPower += power
	}
	p.VoteCount++
}

// Vote records one wallet's choice and the power it held when casting it.
// Power is a snapshot; later stake changes never touch it.
type Vote struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	ProposalID        string     `gorm:"type:uuid;not null;uniqueIndex:idx_votes_proposal_wallet,priority:1" json:"proposal_id"`
	WalletAddress     string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_votes_proposal_wallet,priority:2;index" json:"wallet_address"`
	Choice            VoteChoice `gorm:"type:varchar(16);not null" json:"choice"`
	Power             int64      `gorm:"not null" json:"power"`
	VoteRecordAddress string     `gorm:"type:varchar(64);not null" json:"vote_record_address"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
}
