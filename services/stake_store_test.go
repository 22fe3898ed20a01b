package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-ledger/models"
)

func newStake(wallet, mint, sig, tier string, stakedAt time.Time) *models.StakeAccount {
	return &models.StakeAccount{
		ID:             uuid.NewString(),
		WalletAddress:  wallet,
		NFTMint:        mint,
		Tier:           tier,
		LockPeriod:     models.LockPeriodShort,
		Multiplier:     "1",
		StakeSignature: sig,
		StakedAt:       stakedAt,
		UnlockAt:       stakedAt.Add(720 * time.Hour),
		Active:         true,
	}
}

func forEachStakeStore(t *testing.T, fn func(t *testing.T, store StakeStore)) {
	for name, factory := range stakeStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStakeStore_SaveStake(t *testing.T) {
	forEachStakeStore(t, func(t *testing.T, store StakeStore) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		first := newStake(walletA, mint1, sig1, "rare", t0)
		saved, created, err := store.SaveStake(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, first.ID, saved.ID)

		dup := newStake(walletA, mint1, sig1, "rare", t0)
		saved, created, err = store.SaveStake(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, saved.ID)

		// the NFT moved to walletB; the old position closes
		moved := newStake(walletB, mint1, sig2, "rare", t0.Add(time.Hour))
		_, created, err = store.SaveStake(ctx, moved)
		require.NoError(t, err)
		assert.True(t, created)

		activeA, err := store.ActiveStakes(ctx, walletA)
		require.NoError(t, err)
		assert.Empty(t, activeA)
		all, err := store.ListStakes(ctx, walletA)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.NotNil(t, all[0].UnstakedAt)
		assert.True(t, t0.Add(time.Hour).Equal(*all[0].UnstakedAt))
		activeB, err := store.ActiveStakes(ctx, walletB)
		require.NoError(t, err)
		assert.Len(t, activeB, 1)
	})
}

func TestStakeStore_SignaturesAreNotReusedAcrossStakeAndUnstake(t *testing.T) {
	forEachStakeStore(t, func(t *testing.T, store StakeStore) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		_, _, err := store.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", t0))
		require.NoError(t, err)
		_, err = store.MarkUnstaked(ctx, walletA, mint1, sig2, t0.Add(800*time.Hour))
		require.NoError(t, err)

		// an unstake signature replayed as a new stake
		_, _, err = store.SaveStake(ctx, newStake(walletA, mint1, sig2, "common", t0.Add(900*time.Hour)))
		assert.ErrorIs(t, err, ErrConflict)

		_, _, err = store.SaveStake(ctx, newStake(walletA, mint2, sig3, "common", t0))
		require.NoError(t, err)
		// a stake signature replayed as an unstake
		_, err = store.MarkUnstaked(ctx, walletA, mint2, sig3, t0.Add(time.Hour))
		assert.ErrorIs(t, err, ErrConflict)

		active, err := store.ActiveStakes(ctx, walletA)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, mint2, active[0].NFTMint)
	})
}

func TestStakeStore_MarkUnstaked(t *testing.T) {
	forEachStakeStore(t, func(t *testing.T, store StakeStore) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		_, _, err := store.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", t0))
		require.NoError(t, err)

		at := t0.Add(800 * time.Hour)
		st, err := store.MarkUnstaked(ctx, walletA, mint1, sig2, at)
		require.NoError(t, err)
		assert.False(t, st.Active)
		require.NotNil(t, st.UnstakeSignature)
		assert.Equal(t, sig2, *st.UnstakeSignature)

		again, err := store.MarkUnstaked(ctx, walletA, mint1, sig2, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, st.ID, again.ID)
		assert.True(t, at.Equal(*again.UnstakedAt))

		_, err = store.MarkUnstaked(ctx, walletA, mint1, sig3, at)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStakeStore_StakesActiveAt(t *testing.T) {
	forEachStakeStore(t, func(t *testing.T, store StakeStore) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		_, _, err := store.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", t0))
		require.NoError(t, err)
		_, _, err = store.SaveStake(ctx, newStake(walletA, mint2, sig2, "common", t0.Add(48*time.Hour)))
		require.NoError(t, err)
		_, err = store.MarkUnstaked(ctx, walletA, mint1, sig3, t0.Add(72*time.Hour))
		require.NoError(t, err)

		got, err := store.StakesActiveAt(ctx, t0.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, mint1, got[0].NFTMint)

		got, err = store.StakesActiveAt(ctx, t0.Add(60*time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = store.StakesActiveAt(ctx, t0.Add(72*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, mint2, got[0].NFTMint)
	})
}

func TestStakeStore_UpsertMirror(t *testing.T) {
	forEachStakeStore(t, func(t *testing.T, store StakeStore) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		_, _, err := store.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", t0))
		require.NoError(t, err)
		_, _, err = store.SaveStake(ctx, newStake(walletA, mint2, sig2, "common", t0.Add(48*time.Hour)))
		require.NoError(t, err)

		unstakedAt := t0.Add(72 * time.Hour)
		unstakeSig := sig4
		mirror := *newStake(walletA, mint2, sig2, "common", t0.Add(48*time.Hour))
		mirror.Active = false
		mirror.UnstakedAt = &unstakedAt
		mirror.UnstakeSignature = &unstakeSig
		fresh := *newStake(walletC, mint3, sig3, "legendary", t0)

		n, err := store.UpsertMirror(ctx, []models.StakeAccount{mirror, fresh})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		active, err := store.ActiveStakes(ctx, walletA)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, mint1, active[0].NFTMint)
		activeC, err := store.ActiveStakes(ctx, walletC)
		require.NoError(t, err)
		assert.Len(t, activeC, 1)
	})
}
