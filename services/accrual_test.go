package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-ledger/models"
)

func TestDailyAmount(t *testing.T) {
	tests := []struct {
		base       int64
		multiplier string
		want       int64
	}{
		{1000000, "1", 1000000},
		{1000000, "15/8", 1875000},
		{1000000, "3", 3000000},
		{3, "1/2", 1},
		{7, "2/3", 4},
		{0, "5/4", 0},
	}
	for _, tt := range tests {
		got, err := dailyAmount(tt.base, tt.multiplier)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%d x %s", tt.base, tt.multiplier)
	}

	_, err := dailyAmount(1, "abc")
	assert.Error(t, err)
	_, err = dailyAmount(1, "-1")
	assert.Error(t, err)
	_, err = dailyAmount(1<<62, "4")
	assert.Error(t, err)
}

func TestAccrueDay(t *testing.T) {
	ctx := context.Background()
	stakes := NewMemoryStakeStore()
	ledger := NewMemoryLedger()
	svc := NewAccrualService(stakes, ledger, 1000000, nil)

	day := time.Date(2026, 7, 10, 0, 5, 0, 0, time.UTC)
	start := day.Truncate(24 * time.Hour)

	rare := newStake(walletA, mint1, sig1, "rare", start.Add(-48*time.Hour))
	rare.Multiplier = "15/8"
	late := newStake(walletA, mint2, sig2, "common", start.Add(time.Hour))
	broken := newStake(walletB, mint3, sig3, "common", start.Add(-time.Hour))
	broken.Multiplier = "garbage"
	for _, st := range []*models.StakeAccount{rare, late, broken} {
		_, _, err := stakes.SaveStake(ctx, st)
		require.NoError(t, err)
	}

	report, err := svc.AccrueDay(ctx, day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID)
	assert.Equal(t, AccrualReport{Day: "2026-07-10", Stakes: 2, Credited: 1, Failed: 1}, report)

	records, err := ledger.ListUnclaimed(ctx, walletA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 1875000, records[0].Amount)
	assert.Equal(t, models.RewardTypeStakingAccrual, records[0].RewardType)
	assert.Equal(t, rare.ID+":2026-07-10", records[0].ReferenceID)

	// rerunning the same day credits nothing new
	report, _ = svc.AccrueDay(ctx, day.Add(3*time.Hour))
	assert.Equal(t, 1, report.Duplicate)
	assert.Zero(t, report.Credited)

	// next day includes the late stake
	report, _ = svc.AccrueDay(ctx, day.Add(24*time.Hour))
	assert.Equal(t, 2, report.Credited)
	summary, err := ledger.Summary(ctx, walletA)
	require.NoError(t, err)
	assert.EqualValues(t, 2*1875000+1000000, summary.TotalRewards)
}

func TestAccrueDay_BackfillIncludesLaterUnstakes(t *testing.T) {
	ctx := context.Background()
	stakes := NewMemoryStakeStore()
	ledger := NewMemoryLedger()
	svc := NewAccrualService(stakes, ledger, 1000000, nil)

	t0 := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	_, _, err := stakes.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", t0))
	require.NoError(t, err)
	// unstaked on the 5th, after the backfilled day
	_, err = stakes.MarkUnstaked(ctx, walletA, mint1, sig2, t0.Add(4*24*time.Hour))
	require.NoError(t, err)

	report, err := svc.AccrueDay(ctx, time.Date(2026, 7, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)

	// from the 6th on the stake is closed
	report, err = svc.AccrueDay(ctx, time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, report.Stakes)

	// the day of the stake itself began before it
	report, err = svc.AccrueDay(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, report.Stakes)
}
