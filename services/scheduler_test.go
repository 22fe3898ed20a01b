package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-ledger/locks"
)

func TestScheduler_AccruesOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stakes := NewMemoryStakeStore()
	ledger := NewMemoryLedger()
	_, _, err := stakes.SaveStake(ctx, newStake(walletA, mint1, sig1, "common", time.Now().UTC().Add(-72*time.Hour)))
	require.NoError(t, err)

	claims := NewClaimService(ledger, locks.NewLocalLocker(), nil, newFakeChain(), nil, ClaimOptions{})
	accrual := NewAccrualService(stakes, ledger, 500, nil)
	sched, err := NewScheduler(claims, accrual, NewLedgerExporter(ledger, &memoryObjects{}), nil)
	require.NoError(t, err)
	require.NoError(t, sched.Start(ctx))

	assert.Eventually(t, func() bool {
		records, err := ledger.ListUnclaimed(ctx, walletA)
		return err == nil && len(records) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, sched.Shutdown())
}
