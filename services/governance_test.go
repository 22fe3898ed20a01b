package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/models"
)

type governanceFixture struct {
	engine *GovernanceEngine
	stakes *MemoryStakeStore
	store  *MemoryGovernanceStore
	clock  *clock
}

func newGovernanceFixture(t *testing.T) *governanceFixture {
	t.Helper()
	f := &governanceFixture{
		stakes: NewMemoryStakeStore(),
		store:  NewMemoryGovernanceStore(),
		clock:  newClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.engine = NewGovernanceEngine(f.stakes, f.store, testEconomics(t), testDeriver(t), nil)
	f.engine.now = f.clock.Now
	return f
}

func (f *governanceFixture) stake(t *testing.T, wallet, mint, sig, tier string, age time.Duration) {
	t.Helper()
	_, _, err := f.stakes.SaveStake(context.Background(), newStake(wallet, mint, sig, tier, f.clock.Now().Add(-age)))
	require.NoError(t, err)
}

func (f *governanceFixture) openProposal(t *testing.T, title string) *models.GovernanceProposal {
	t.Helper()
	p, err := f.engine.CreateProposal(context.Background(), ProposalInput{
		Title:          title,
		VotingStartsAt: f.clock.Now().Add(-time.Hour),
		VotingEndsAt:   f.clock.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

const oneDay = 24 * time.Hour

func TestVotingPower(t *testing.T) {
	f := newGovernanceFixture(t)
	ctx := context.Background()

	power, err := f.engine.VotingPower(ctx, walletA)
	require.NoError(t, err)
	assert.Zero(t, power)

	f.stake(t, walletA, mint1, sig1, "rare", 100*oneDay)      // 2 x medium factor 2
	f.stake(t, walletA, mint2, sig2, "common", 1*oneDay)      // 1 x fresh factor 1
	f.stake(t, walletA, mint3, sig3, "legendary", 200*oneDay) // 4 x long factor 3
	power, err = f.engine.VotingPower(ctx, walletA)
	require.NoError(t, err)
	assert.EqualValues(t, 4+1+12, power)

	_, err = f.stakes.MarkUnstaked(ctx, walletA, mint3, sig4, f.clock.Now())
	require.NoError(t, err)
	power, err = f.engine.VotingPower(ctx, walletA)
	require.NoError(t, err)
	assert.EqualValues(t, 5, power)

	_, err = f.engine.VotingPower(ctx, "bogus")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVotingPower_UnknownTierCountsZero(t *testing.T) {
	f := newGovernanceFixture(t)
	f.stake(t, walletA, mint1, sig1, "retired-tier", 400*oneDay)
	power, err := f.engine.VotingPower(context.Background(), walletA)
	require.NoError(t, err)
	assert.Zero(t, power)
}

func TestCanVote_NoStakesIsIneligible(t *testing.T) {
	f := newGovernanceFixture(t)
	p := f.openProposal(t, "Raise rare multiplier")

	el, err := f.engine.CanVote(context.Background(), walletB, p.ID)
	require.NoError(t, err)
	assert.False(t, el.CanVote)
	assert.Zero(t, el.VotingPower)
	assert.Equal(t, ErrIneligible.Error(), el.Reason)

	_, err = f.engine.CastVote(context.Background(), walletB, p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrIneligible)
}

func TestCastVote_SnapshotsPowerAndRejectsSecondVote(t *testing.T) {
	f := newGovernanceFixture(t)
	ctx := context.Background()
	f.stake(t, walletA, mint1, sig1, "rare", 100*oneDay)
	p := f.openProposal(t, "Treasury diversification")

	el, err := f.engine.CanVote(ctx, walletA, p.ID)
	require.NoError(t, err)
	assert.True(t, el.CanVote)

	receipt, err := f.engine.CastVote(ctx, walletA, p.ID, models.VoteYes)
	require.NoError(t, err)
	assert.EqualValues(t, 4, receipt.Vote.Power)
	assert.EqualValues(t, 4, receipt.Proposal.YesPower)
	assert.EqualValues(t, 1, receipt.Proposal.VoteCount)

	want, err := testDeriver(t).VoteRecord(uuid.MustParse(p.ID), chain.MustPublicKey(walletA))
	require.NoError(t, err)
	assert.Equal(t, want, receipt.VoteRecord)
	assert.Equal(t, want.Address.String(), receipt.Vote.VoteRecordAddress)

	// more stake later does not let the wallet vote again or change the tally
	f.stake(t, walletA, mint2, sig2, "legendary", 300*oneDay)
	_, err = f.engine.CastVote(ctx, walletA, p.ID, models.VoteNo)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	el, err = f.engine.CanVote(ctx, walletA, p.ID)
	require.NoError(t, err)
	assert.False(t, el.CanVote)
	assert.Equal(t, ErrAlreadyVoted.Error(), el.Reason)

	stored, err := f.engine.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stored.YesPower)
	assert.Zero(t, stored.NoPower)
	assert.EqualValues(t, 1, stored.VoteCount)

	vote, err := f.store.GetVote(ctx, p.ID, walletA)
	require.NoError(t, err)
	assert.EqualValues(t, 4, vote.Power)
}

func TestCastVote_Window(t *testing.T) {
	f := newGovernanceFixture(t)
	ctx := context.Background()
	f.stake(t, walletA, mint1, sig1, "common", 10*oneDay)

	p, err := f.engine.CreateProposal(ctx, ProposalInput{
		Title:          "Future vote",
		VotingStartsAt: f.clock.Now().Add(time.Hour),
		VotingEndsAt:   f.clock.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, walletA, p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrWindowClosed)

	f.clock.Advance(90 * time.Minute)
	_, err = f.engine.CastVote(ctx, walletA, p.ID, models.VoteAbstain)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.engine.CastVote(ctx, walletB, p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrWindowClosed)
	el, err := f.engine.CanVote(ctx, walletB, p.ID)
	require.NoError(t, err)
	assert.False(t, el.CanVote)
}

func TestCastVote_Threshold(t *testing.T) {
	f := newGovernanceFixture(t)
	f.engine.econ.Governance.MinVotingPower = 10
	f.stake(t, walletA, mint1, sig1, "rare", 100*oneDay)
	p := f.openProposal(t, "High bar")

	_, err := f.engine.CastVote(context.Background(), walletA, p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrIneligible)
}

func TestCanVote_ThresholdIsExclusive(t *testing.T) {
	f := newGovernanceFixture(t)
	f.stake(t, walletA, mint1, sig1, "rare", 100*oneDay) // power 4
	p := f.openProposal(t, "Boundary")
	ctx := context.Background()

	f.engine.econ.Governance.MinVotingPower = 4
	el, err := f.engine.CanVote(ctx, walletA, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, el.VotingPower)
	assert.False(t, el.CanVote)
	assert.Equal(t, ErrIneligible.Error(), el.Reason)
	_, err = f.engine.CastVote(ctx, walletA, p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrIneligible)

	f.engine.econ.Governance.MinVotingPower = 3
	el, err = f.engine.CanVote(ctx, walletA, p.ID)
	require.NoError(t, err)
	assert.True(t, el.CanVote)
	receipt, err := f.engine.CastVote(ctx, walletA, p.ID, models.VoteYes)
	require.NoError(t, err)
	assert.EqualValues(t, 4, receipt.Vote.Power)
}

func TestCastVote_Validation(t *testing.T) {
	f := newGovernanceFixture(t)
	p := f.openProposal(t, "Anything")
	ctx := context.Background()

	_, err := f.engine.CastVote(ctx, walletA, p.ID, "maybe")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.CastVote(ctx, walletA, uuid.NewString(), models.VoteYes)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.CastVote(ctx, "", p.ID, models.VoteYes)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateProposal(t *testing.T) {
	f := newGovernanceFixture(t)
	ctx := context.Background()

	first := f.openProposal(t, "Add Legendary Tier Boost!")
	assert.Equal(t, "add-legendary-tier-boost", first.Slug)

	second := f.openProposal(t, "Add legendary tier boost")
	assert.Equal(t, "add-legendary-tier-boost-"+second.ID[:8], second.Slug)

	now := f.clock.Now()
	bad := []ProposalInput{
		{Title: "", VotingStartsAt: now, VotingEndsAt: now.Add(time.Hour)},
		{Title: "x", VotingStartsAt: now, VotingEndsAt: now},
		{Title: "x", VotingStartsAt: now.Add(-2 * time.Hour), VotingEndsAt: now.Add(-time.Hour)},
		{Title: "x"},
		{Title: "!!!", VotingStartsAt: now, VotingEndsAt: now.Add(time.Hour)},
	}
	for _, in := range bad {
		_, err := f.engine.CreateProposal(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "%+v", in)
	}

	list, err := f.engine.ListProposals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
