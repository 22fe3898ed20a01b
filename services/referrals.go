// services/referrals.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"staking-reward-ledger/logging"
	"staking-reward-ledger/models"
)

type ReferralStore interface {
	CreateReferral(ctx context.Context, r *models.Referral) error
	GetReferral(ctx context.Context, referredWallet string) (*models.Referral, error)
	// MarkAwarded flips bonus_awarded once; it reports false when another
	// caller got there first.
	MarkAwarded(ctx context.Context, id string, at time.Time) (bool, error)
}

type GormReferralStore struct {
	DB *gorm.DB
}

func NewGormReferralStore(db *gorm.DB) *GormReferralStore {
	return &GormReferralStore{DB: db}
}

var _ ReferralStore = (*GormReferralStore)(nil)

func (s *GormReferralStore) CreateReferral(ctx context.Context, r *models.Referral) error {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "referred_wallet"}}, DoNothing: true}).
		Create(r)
	if res.Error != nil {
		return fmt.Errorf("create referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s already has a referrer", ErrConflict, r.ReferredWallet)
	}
	return nil
}

func (s *GormReferralStore) GetReferral(ctx context.Context, referredWallet string) (*models.Referral, error) {
	var r models.Referral
	err := s.DB.WithContext(ctx).Where("referred_wallet = ?", referredWallet).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: referral for %s", ErrNotFound, referredWallet)
	}
	if err != nil {
		return nil, fmt.Errorf("load referral: %w", err)
	}
	return &r, nil
}

func (s *GormReferralStore) MarkAwarded(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND bonus_awarded = ?", id, false).
		Updates(map[string]any{"bonus_awarded": true, "awarded_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("mark referral awarded: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

type MemoryReferralStore struct {
	mu        sync.Mutex
	referrals map[string]*models.Referral // by referred wallet
}

func NewMemoryReferralStore() *MemoryReferralStore {
	return &MemoryReferralStore{referrals: make(map[string]*models.Referral)}
}

var _ ReferralStore = (*MemoryReferralStore)(nil)

func (s *MemoryReferralStore) CreateReferral(ctx context.Context, r *models.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[r.ReferredWallet]; ok {
		return fmt.Errorf("%w: %s already has a referrer", ErrConflict, r.ReferredWallet)
	}
	stored := *r
	s.referrals[r.ReferredWallet] = &stored
	return nil
}

func (s *MemoryReferralStore) GetReferral(ctx context.Context, referredWallet string) (*models.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[referredWallet]
	if !ok {
		return nil, fmt.Errorf("%w: referral for %s", ErrNotFound, referredWallet)
	}
	out := *r
	return &out, nil
}

func (s *MemoryReferralStore) MarkAwarded(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.referrals {
		if r.ID != id {
			continue
		}
		if r.BonusAwarded {
			return false, nil
		}
		r.BonusAwarded = true
		r.AwardedAt = &at
		return true, nil
	}
	return false, fmt.Errorf("%w: referral %s", ErrNotFound, id)
}

// ReferralService registers referrals and pays the referrer on the referred
// wallet's first confirmed stake.
type ReferralService struct {
	store  ReferralStore
	ledger RewardLedger
	amount int64
	now    func() time.Time
}

func NewReferralService(store ReferralStore, ledger RewardLedger, amount int64) *ReferralService {
	return &ReferralService{
		store:  store,
		ledger: ledger,
		amount: amount,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReferralService) Register(ctx context.Context, wallet, referrer string) (*models.Referral, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}
	if _, err := validateWallet(referrer); err != nil {
		return nil, invalid("referrer: %v", err)
	}
	if wallet == referrer {
		return nil, invalid("a wallet cannot refer itself")
	}
	r := &models.Referral{
		ID:             uuid.NewString(),
		ReferrerWallet: referrer,
		ReferredWallet: wallet,
	}
	if err := s.store.CreateReferral(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AwardOnStake credits the referrer of wallet, if any. The ledger's
// uniqueness key makes a repeat a no-op, so a crash between the credit
// and MarkAwarded is safe to replay.
func (s *ReferralService) AwardOnStake(ctx context.Context, wallet string) error {
	ref, err := s.store.GetReferral(ctx, wallet)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ref.BonusAwarded {
		return nil
	}

	_, err = s.ledger.Credit(ctx, ref.ReferrerWallet, s.amount, models.RewardTypeReferral, ref.ReferredWallet)
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("credit referral: %w", err)
	}
	if _, err := s.store.MarkAwarded(ctx, ref.ID, s.now()); err != nil {
		return err
	}
	logging.InfoContext(ctx, "referral bonus awarded",
		logging.Wallet(ref.ReferrerWallet),
		"referred", ref.ReferredWallet,
		"amount", s.amount,
	)
	return nil
}
