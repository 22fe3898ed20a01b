// services/reward_service.go
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"staking-reward-ledger/models"
)

// RewardService is the Postgres RewardLedger.
type RewardService struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewRewardService(db *gorm.DB) *RewardService {
	return &RewardService{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ RewardLedger = (*RewardService)(nil)

func (s *RewardService) Credit(ctx context.Context, wallet string, amount int64, rewardType models.RewardType, referenceID string) (*models.RewardRecord, error) {
	if err := validateCredit(wallet, amount, rewardType, referenceID); err != nil {
		return nil, err
	}
	rec := &models.RewardRecord{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Amount:        amount,
		RewardType:    rewardType,
		ReferenceID:   referenceID,
		Claimed:       false,
		CreatedAt:     s.now(),
	}

	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}, {Name: "reference_id"}, {Name: "reward_type"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, fmt.Errorf("credit reward: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s reward for %s already granted", ErrConflict, rewardType, referenceID)
	}
	return rec, nil
}

func (s *RewardService) ListUnclaimed(ctx context.Context, wallet string) ([]models.RewardRecord, error) {
	var records []models.RewardRecord
	err := s.DB.WithContext(ctx).
		Where("wallet_address = ? AND claimed = ?", wallet, false).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list unclaimed rewards: %w", err)
	}
	return records, nil
}

// Summary reads both lists from one snapshot so the total always matches.
func (s *RewardService) Summary(ctx context.Context, wallet string) (*RewardSummary, error) {
	var unclaimed, history []models.RewardRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("wallet_address = ? AND claimed = ?", wallet, false).
			Order("created_at DESC, id DESC").
			Find(&unclaimed).Error; err != nil {
			return err
		}
		return tx.Where("wallet_address = ?", wallet).
			Order("created_at DESC, id DESC").
			Limit(rewardHistoryLimit).
			Find(&history).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load reward summary: %w", err)
	}
	return summarize(unclaimed, history)
}

func (s *RewardService) ListSince(ctx context.Context, wallet string, since time.Time) ([]models.RewardRecord, error) {
	var records []models.RewardRecord
	err := s.DB.WithContext(ctx).
		Where("wallet_address = ? AND created_at > ?", wallet, since).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list rewards since %s: %w", since.Format(time.RFC3339), err)
	}
	return records, nil
}

// CreateClaim serializes per wallet with a transaction-scoped advisory
// lock, then locks the unclaimed rows and flips them with a
// compare-and-swap update whose row count must match what was read.
func (s *RewardService) CreateClaim(ctx context.Context, wallet string) (*models.ClaimRequest, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}

	var claim *models.ClaimRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", "claim:"+wallet).Error; err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		var records []models.RewardRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ? AND claimed = ?", wallet, false).
			Find(&records).Error; err != nil {
			return fmt.Errorf("load unclaimed rewards: %w", err)
		}
		if len(records) == 0 {
			return ErrEmptyClaim
		}

		total, err := sumAmounts(records)
		if err != nil {
			return err
		}

		now := s.now()
		claim = &models.ClaimRequest{
			ID:            uuid.NewString(),
			WalletAddress: wallet,
			Amount:        total,
			Status:        models.ClaimStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(claim).Error; err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}

		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID
		}
		res := tx.Model(&models.RewardRecord{}).
			Where("id IN ? AND claimed = ?", ids, false).
			Updates(map[string]any{"claimed": true, "claim_id": claim.ID})
		if res.Error != nil {
			return fmt.Errorf("mark rewards claimed: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("mark rewards claimed: expected %d rows, updated %d", len(ids), res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *RewardService) GetClaim(ctx context.Context, claimID string) (*models.ClaimRequest, error) {
	return getClaim(s.DB.WithContext(ctx), claimID, false)
}

func getClaim(tx *gorm.DB, claimID string, forUpdate bool) (*models.ClaimRequest, error) {
	if _, err := uuid.Parse(claimID); err != nil {
		return nil, fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
	}
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var claim models.ClaimRequest
	if err := q.Where("id = ?", claimID).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
		}
		return nil, fmt.Errorf("load claim: %w", err)
	}
	return &claim, nil
}

func (s *RewardService) AttachPayoutSignature(ctx context.Context, claimID, signature string, lastValidBlockHeight uint64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim, err := getClaim(tx, claimID, true)
		if err != nil {
			return err
		}
		if claim.PayoutSignature != nil {
			if *claim.PayoutSignature == signature {
				return nil
			}
			return fmt.Errorf("%w: claim %s already has payout %s", ErrClaimState, claimID, *claim.PayoutSignature)
		}
		if claim.Status != models.ClaimStatusPending {
			return fmt.Errorf("%w: claim %s is %s", ErrClaimState, claimID, claim.Status)
		}
		updates := map[string]any{"payout_signature": signature, "updated_at": s.now()}
		if lastValidBlockHeight > 0 {
			updates["payout_last_valid_block_height"] = lastValidBlockHeight
		}
		return tx.Model(&models.ClaimRequest{}).
			Where("id = ?", claimID).
			Updates(updates).Error
	})
}

// SettleClaim is terminal. Settling a settled claim is a no-op.
func (s *RewardService) SettleClaim(ctx context.Context, claimID, signature string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim, err := getClaim(tx, claimID, true)
		if err != nil {
			return err
		}
		switch claim.Status {
		case models.ClaimStatusSettled:
			return nil
		case models.ClaimStatusFailed:
			return fmt.Errorf("%w: claim %s already failed", ErrClaimState, claimID)
		}

		now := s.now()
		updates := map[string]any{
			"status":     models.ClaimStatusSettled,
			"settled_at": now,
			"updated_at": now,
		}
		if signature != "" {
			updates["payout_signature"] = signature
		}
		return tx.Model(&models.ClaimRequest{}).Where("id = ?", claimID).Updates(updates).Error
	})
}

// FailClaim releases the claim's records back to unclaimed and marks the
// claim failed, atomically. Failing a failed claim is a no-op.
func (s *RewardService) FailClaim(ctx context.Context, claimID, reason string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim, err := getClaim(tx, claimID, true)
		if err != nil {
			return err
		}
		switch claim.Status {
		case models.ClaimStatusFailed:
			return nil
		case models.ClaimStatusSettled:
			return fmt.Errorf("%w: claim %s already settled", ErrClaimState, claimID)
		}

		if err := tx.Model(&models.RewardRecord{}).
			Where("claim_id = ? AND claimed = ?", claimID, true).
			Updates(map[string]any{"claimed": false, "claim_id": nil}).Error; err != nil {
			return fmt.Errorf("release claimed rewards: %w", err)
		}
		return tx.Model(&models.ClaimRequest{}).
			Where("id = ?", claimID).
			Updates(map[string]any{
				"status":         models.ClaimStatusFailed,
				"failure_reason": reason,
				"updated_at":     s.now(),
			}).Error
	})
}

func (s *RewardService) ListPendingClaims(ctx context.Context, createdBefore time.Time, limit int) ([]models.ClaimRequest, error) {
	var claims []models.ClaimRequest
	q := s.DB.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.ClaimStatusPending, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&claims).Error; err != nil {
		return nil, fmt.Errorf("list pending claims: %w", err)
	}
	return claims, nil
}

func (s *RewardService) ListSettledClaims(ctx context.Context, from, to time.Time) ([]models.ClaimRequest, error) {
	var claims []models.ClaimRequest
	err := s.DB.WithContext(ctx).
		Where("status = ? AND settled_at >= ? AND settled_at < ?", models.ClaimStatusSettled, from, to).
		Order("settled_at ASC").
		Find(&claims).Error
	if err != nil {
		return nil, fmt.Errorf("list settled claims: %w", err)
	}
	return claims, nil
}
