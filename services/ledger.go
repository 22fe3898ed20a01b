// services/ledger.go
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"staking-reward-ledger/models"
)

const maxReferenceIDLength = 256

// RewardLedger is the durable record of reward grants and their claims.
//
// Credit is idempotent on (wallet, referenceID, rewardType): a repeat
// returns ErrConflict and writes nothing. CreateClaim aggregates every
// unclaimed record of a wallet into one pending claim and marks those
// records claimed in the same transaction; concurrent claims for one
// wallet are serialized, so exactly one of them sees each record.
type RewardLedger interface {
	Credit(ctx context.Context, wallet string, amount int64, rewardType models.RewardType, referenceID string) (*models.RewardRecord, error)
	ListUnclaimed(ctx context.Context, wallet string) ([]models.RewardRecord, error)
	Summary(ctx context.Context, wallet string) (*RewardSummary, error)
	ListSince(ctx context.Context, wallet string, since time.Time) ([]models.RewardRecord, error)

	CreateClaim(ctx context.Context, wallet string) (*models.ClaimRequest, error)
	GetClaim(ctx context.Context, claimID string) (*models.ClaimRequest, error)
	// AttachPayoutSignature records the submitted payout once. A zero
	// lastValidBlockHeight means the expiry is unknown.
	AttachPayoutSignature(ctx context.Context, claimID, signature string, lastValidBlockHeight uint64) error
	SettleClaim(ctx context.Context, claimID, signature string) error
	FailClaim(ctx context.Context, claimID, reason string) error
	ListPendingClaims(ctx context.Context, createdBefore time.Time, limit int) ([]models.ClaimRequest, error)
	ListSettledClaims(ctx context.Context, from, to time.Time) ([]models.ClaimRequest, error)
}

// RewardSummary is the wallet view served by GET /rewards.
// TotalRewards is the sum of ClaimableRewards.
type RewardSummary struct {
	TotalRewards     int64                 `json:"totalRewards"`
	ClaimableRewards []models.RewardRecord `json:"claimableRewards"`
	RewardHistory    []models.RewardRecord `json:"rewardHistory"`
}

const rewardHistoryLimit = 200

func validateCredit(wallet string, amount int64, rewardType models.RewardType, referenceID string) error {
	if _, err := validateWallet(wallet); err != nil {
		return err
	}
	if amount < 0 {
		return invalid("amount must not be negative")
	}
	if !rewardType.Valid() {
		return invalid("unknown reward type %q", rewardType)
	}
	if referenceID == "" {
		return invalid("reference_id is required")
	}
	if len(referenceID) > maxReferenceIDLength {
		return invalid("reference_id exceeds %d characters", maxReferenceIDLength)
	}
	return nil
}

// sumAmounts adds record amounts, refusing to wrap around.
func sumAmounts(records []models.RewardRecord) (int64, error) {
	var total int64
	for _, r := range records {
		if r.Amount > math.MaxInt64-total {
			return 0, fmt.Errorf("claim total overflows int64")
		}
		total += r.Amount
	}
	return total, nil
}

func summarize(unclaimed, history []models.RewardRecord) (*RewardSummary, error) {
	total, err := sumAmounts(unclaimed)
	if err != nil {
		return nil, err
	}
	if unclaimed == nil {
		unclaimed = []models.RewardRecord{}
	}
	if history == nil {
		history = []models.RewardRecord{}
	}
	return &RewardSummary{TotalRewards: total, ClaimableRewards: unclaimed, RewardHistory: history}, nil
}
