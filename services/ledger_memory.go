// services/ledger_memory.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"staking-reward-ledger/locks"
	"staking-reward-ledger/models"
)

// MemoryLedger is an in-process RewardLedger with the same semantics as
// RewardService. mu guards the maps; claim aggregation is additionally
// serialized per wallet, never globally.
type MemoryLedger struct {
	mu       sync.Mutex
	records  map[string]*models.RewardRecord
	keys     map[rewardKey]string
	byWallet map[string][]string
	claims   map[string]*models.ClaimRequest

	wallets *locks.LocalLocker
	now     func() time.Time
}

type rewardKey struct {
	wallet      string
	referenceID string
	rewardType  models.RewardType
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:  make(map[string]*models.RewardRecord),
		keys:     make(map[rewardKey]string),
		byWallet: make(map[string][]string),
		claims:   make(map[string]*models.ClaimRequest),
		wallets:  locks.NewLocalLocker(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ RewardLedger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Credit(ctx context.Context, wallet string, amount int64, rewardType models.RewardType, referenceID string) (*models.RewardRecord, error) {
	if err := validateCredit(wallet, amount, rewardType, referenceID); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rewardKey{wallet, referenceID, rewardType}
	if _, dup := l.keys[key]; dup {
		return nil, fmt.Errorf("%w: %s reward for %s already granted", ErrConflict, rewardType, referenceID)
	}
	rec := &models.RewardRecord{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Amount:        amount,
		RewardType:    rewardType,
		ReferenceID:   referenceID,
		CreatedAt:     l.now(),
	}
	l.records[rec.ID] = rec
	l.keys[key] = rec.ID
	l.byWallet[wallet] = append(l.byWallet[wallet], rec.ID)
	out := *rec
	return &out, nil
}

// collect returns copies of a wallet's records matching keep, newest first.
// Callers hold mu.
func (l *MemoryLedger) collect(wallet string, keep func(*models.RewardRecord) bool) []models.RewardRecord {
	ids := l.byWallet[wallet]
	out := make([]models.RewardRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		rec := l.records[ids[i]]
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

func (l *MemoryLedger) ListUnclaimed(ctx context.Context, wallet string) ([]models.RewardRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.collect(wallet, func(r *models.RewardRecord) bool { return !r.Claimed }), nil
}

func (l *MemoryLedger) Summary(ctx context.Context, wallet string) (*RewardSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	unclaimed := l.collect(wallet, func(r *models.RewardRecord) bool { return !r.Claimed })
	history := l.collect(wallet, func(*models.RewardRecord) bool { return true })
	if len(history) > rewardHistoryLimit {
		history = history[:rewardHistoryLimit]
	}
	return summarize(unclaimed, history)
}

func (l *MemoryLedger) ListSince(ctx context.Context, wallet string, since time.Time) ([]models.RewardRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.collect(wallet, func(r *models.RewardRecord) bool { return r.CreatedAt.After(since) })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (l *MemoryLedger) CreateClaim(ctx context.Context, wallet string) (*models.ClaimRequest, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}
	unlock, err := l.wallets.Lock(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []*models.RewardRecord
	for _, id := range l.byWallet[wallet] {
		if rec := l.records[id]; !rec.Claimed {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		return nil, ErrEmptyClaim
	}

	var total int64
	copies := make([]models.RewardRecord, len(pending))
	for i, rec := range pending {
		copies[i] = *rec
	}
	total, err = sumAmounts(copies)
	if err != nil {
		return nil, err
	}

	now := l.now()
	claim := &models.ClaimRequest{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Amount:        total,
		Status:        models.ClaimStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.claims[claim.ID] = claim
	for _, rec := range pending {
		rec.Claimed = true
		id := claim.ID
		rec.ClaimID = &id
	}
	out := *claim
	return &out, nil
}

func (l *MemoryLedger) GetClaim(ctx context.Context, claimID string) (*models.ClaimRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
	}
	out := *claim
	return &out, nil
}

func (l *MemoryLedger) AttachPayoutSignature(ctx context.Context, claimID, signature string, lastValidBlockHeight uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
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
	claim.PayoutSignature = &signature
	if lastValidBlockHeight > 0 {
		claim.PayoutLastValidBlockHeight = &lastValidBlockHeight
	}
	claim.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) SettleClaim(ctx context.Context, claimID, signature string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
	}
	switch claim.Status {
	case models.ClaimStatusSettled:
		return nil
	case models.ClaimStatusFailed:
		return fmt.Errorf("%w: claim %s already failed", ErrClaimState, claimID)
	}
	now := l.now()
	claim.Status = models.ClaimStatusSettled
	claim.SettledAt = &now
	claim.UpdatedAt = now
	if signature != "" {
		claim.PayoutSignature = &signature
	}
	return nil
}

func (l *MemoryLedger) FailClaim(ctx context.Context, claimID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
	}
	switch claim.Status {
	case models.ClaimStatusFailed:
		return nil
	case models.ClaimStatusSettled:
		return fmt.Errorf("%w: claim %s already settled", ErrClaimState, claimID)
	}
	for _, id := range l.byWallet[claim.WalletAddress] {
		rec := l.records[id]
		if rec.Claimed && rec.ClaimID != nil && *rec.ClaimID == claimID {
			rec.Claimed = false
			rec.ClaimID = nil
		}
	}
	claim.Status = models.ClaimStatusFailed
	claim.FailureReason = reason
	claim.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) ListPendingClaims(ctx context.Context, createdBefore time.Time, limit int) ([]models.ClaimRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ClaimRequest
	for _, c := range l.claims {
		if c.Status == models.ClaimStatusPending && !c.CreatedAt.After(createdBefore) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) ListSettledClaims(ctx context.Context, from, to time.Time) ([]models.ClaimRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ClaimRequest
	for _, c := range l.claims {
		if c.Status == models.ClaimStatusSettled && c.SettledAt != nil &&
			!c.SettledAt.Before(from) && c.SettledAt.Before(to) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	return out, nil
}
