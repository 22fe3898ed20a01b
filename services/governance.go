// services/governance.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/config"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
)

// GovernanceEngine derives voting power from active stakes and records
// votes with the power snapshotted at cast time.
type GovernanceEngine struct {
	stakes  StakeStore
	store   GovernanceStore
	econ    *config.Economics
	deriver *chain.Deriver
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewGovernanceEngine(stakes StakeStore, store GovernanceStore, econ *config.Economics, deriver *chain.Deriver, m *metrics.Metrics) *GovernanceEngine {
	return &GovernanceEngine{
		stakes:  stakes,
		store:   store,
		econ:    econ,
		deriver: deriver,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// VotingPower sums baseWeight(tier) x durationFactor(elapsed) over the
// wallet's active stakes.
func (g *GovernanceEngine) VotingPower(ctx context.Context, wallet string) (int64, error) {
	if _, err := validateWallet(wallet); err != nil {
		return 0, err
	}
	stakes, err := g.stakes.ActiveStakes(ctx, wallet)
	if err != nil {
		return 0, err
	}
	return g.powerAt(stakes, g.now()), nil
}

func (g *GovernanceEngine) powerAt(stakes []models.StakeAccount, now time.Time) int64 {
	var power int64
	for _, st := range stakes {
		if !st.Active {
			continue
		}
		tier, ok := g.econ.Tier(st.Tier)
		if !ok {
			logging.Warn("stake tier missing from economics, counting zero weight",
				logging.Wallet(st.WalletAddress),
				"tier", st.Tier,
				"stake_id", st.ID,
			)
			continue
		}
		power += tier.VoteWeight * g.durationFactor(now.Sub(st.StakedAt))
	}
	return power
}

// durationFactor buckets elapsed stake time into the lock-period table:
// the factor of the longest period already served.
func (g *GovernanceEngine) durationFactor(elapsed time.Duration) int64 {
	factor := g.econ.Governance.FreshStakeFactor
	for _, p := range g.econ.Periods {
		if elapsed >= p.Duration {
			factor = p.VoteFactor
		}
	}
	return factor
}

// Eligibility explains a CanVote answer.
type Eligibility struct {
	CanVote      bool   `json:"can_vote"`
	VotingPower  int64  `json:"voting_power"`
	MinimumPower int64  `json:"minimum_power"`
	Reason       string `json:"reason,omitempty"`
}

func (g *GovernanceEngine) CanVote(ctx context.Context, wallet, proposalID string) (*Eligibility, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}
	proposal, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	power, err := g.VotingPower(ctx, wallet)
	if err != nil {
		return nil, err
	}
	el := &Eligibility{VotingPower: power, MinimumPower: g.econ.Governance.MinVotingPower}

	switch _, err := g.store.GetVote(ctx, proposal.ID, wallet); {
	case err == nil:
		el.Reason = ErrAlreadyVoted.Error()
		return el, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if !proposal.IsOpen(g.now()) {
		el.Reason = ErrWindowClosed.Error()
		return el, nil
	}
	if !g.meetsThreshold(power) {
		el.Reason = ErrIneligible.Error()
		return el, nil
	}
	el.CanVote = true
	return el, nil
}

// meetsThreshold requires power strictly above the configured minimum.
func (g *GovernanceEngine) meetsThreshold(power int64) bool {
	return power > 0 && power > g.econ.Governance.MinVotingPower
}

// VoteReceipt is the outcome of a successful CastVote.
type VoteReceipt struct {
	Vote       *models.Vote               `json:"vote"`
	Proposal   *models.GovernanceProposal `json:"proposal"`
	VoteRecord chain.DerivedAddress       `json:"vote_record"`
}

// CastVote computes power once and hands it to the store, which inserts
// the vote and adds that same number to the tally atomically.
func (g *GovernanceEngine) CastVote(ctx context.Context, wallet, proposalID string, choice models.VoteChoice) (*VoteReceipt, error) {
	walletKey, err := validateWallet(wallet)
	if err != nil {
		return nil, err
	}
	if !choice.Valid() {
		return nil, invalid("choice must be yes, no or abstain")
	}
	proposal, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if !proposal.IsOpen(now) {
		return nil, ErrWindowClosed
	}
	if _, err := g.store.GetVote(ctx, proposal.ID, wallet); err == nil {
		return nil, ErrAlreadyVoted
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stakes, err := g.stakes.ActiveStakes(ctx, wallet)
	if err != nil {
		return nil, err
	}
	power := g.powerAt(stakes, now)
	if !g.meetsThreshold(power) {
		return nil, fmt.Errorf("%w: have %d, need more than %d", ErrIneligible, power, g.econ.Governance.MinVotingPower)
	}

	pid, err := uuid.Parse(proposal.ID)
	if err != nil {
		return nil, fmt.Errorf("proposal id %q: %w", proposal.ID, err)
	}
	record, err := g.deriver.VoteRecord(pid, walletKey)
	if err != nil {
		return nil, fmt.Errorf("derive vote record: %w", err)
	}

	vote := &models.Vote{
		ID:                uuid.NewString(),
		ProposalID:        proposal.ID,
		WalletAddress:     wallet,
		Choice:            choice,
		Power:             power,
		VoteRecordAddress: record.Address.String(),
		CreatedAt:         now,
	}
	updated, err := g.store.RecordVote(ctx, vote)
	if err != nil {
		return nil, err
	}
	g.metrics.VoteCast(string(choice))
	logging.InfoContext(ctx, "vote cast",
		logging.Wallet(wallet),
		"proposal_id", proposal.ID,
		"choice", choice,
		"power", power,
	)
	return &VoteReceipt{Vote: vote, Proposal: updated, VoteRecord: record}, nil
}

// ProposalInput is the admin request to open a proposal.
type ProposalInput struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	VotingStartsAt time.Time `json:"voting_starts_at"`
	VotingEndsAt   time.Time `json:"voting_ends_at"`
}

func (g *GovernanceEngine) CreateProposal(ctx context.Context, in ProposalInput) (*models.GovernanceProposal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if in.VotingStartsAt.IsZero() || in.VotingEndsAt.IsZero() {
		return nil, invalid("voting window is required")
	}
	if !in.VotingEndsAt.After(in.VotingStartsAt) {
		return nil, invalid("voting must end after it starts")
	}
	if !in.VotingEndsAt.After(g.now()) {
		return nil, invalid("voting window is already over")
	}

	base := slug.Make(title)
	if base == "" {
		return nil, invalid("title must contain letters or digits")
	}
	p := &models.GovernanceProposal{
		ID:             uuid.NewString(),
		Slug:           base,
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		VotingStartsAt: in.VotingStartsAt.UTC(),
		VotingEndsAt:   in.VotingEndsAt.UTC(),
	}
	err := g.store.CreateProposal(ctx, p)
	if errors.Is(err, ErrConflict) {
		p.Slug = base + "-" + p.ID[:8]
		err = g.store.CreateProposal(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (g *GovernanceEngine) GetProposal(ctx context.Context, id string) (*models.GovernanceProposal, error) {
	return g.store.GetProposal(ctx, id)
}

func (g *GovernanceEngine) ListProposals(ctx context.Context, limit int) ([]models.GovernanceProposal, error) {
	return g.store.ListProposals(ctx, limit)
}
