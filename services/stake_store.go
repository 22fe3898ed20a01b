// services/stake_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"staking-reward-ledger/models"
)

// StakeStore is the off-chain mirror of staking positions. The chain is
// authoritative; rows here may lag and are corrected by confirmations and
// the indexer sync.
type StakeStore interface {
	// SaveStake inserts a confirmed stake, keyed by its signature. A repeat
	// of the same signature returns the stored row and created=false. Any
	// other active stake of the same mint is closed, since the chain has
	// already moved the NFT.
	SaveStake(ctx context.Context, stake *models.StakeAccount) (saved *models.StakeAccount, created bool, err error)
	MarkUnstaked(ctx context.Context, wallet, mint, signature string, at time.Time) (*models.StakeAccount, error)
	ActiveStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error)
	ListStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error)
	// StakesActiveAt lists every stake that was open at t: staked at or
	// before t and not unstaked by then, whatever its current state.
	StakesActiveAt(ctx context.Context, t time.Time) ([]models.StakeAccount, error)
	UpsertMirror(ctx context.Context, stakes []models.StakeAccount) (int, error)
}

// GormStakeStore is the Postgres StakeStore.
type GormStakeStore struct {
	DB *gorm.DB
}

func NewGormStakeStore(db *gorm.DB) *GormStakeStore {
	return &GormStakeStore{DB: db}
}

var _ StakeStore = (*GormStakeStore)(nil)

func (s *GormStakeStore) SaveStake(ctx context.Context, stake *models.StakeAccount) (*models.StakeAccount, bool, error) {
	var saved *models.StakeAccount
	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StakeAccount
		err := tx.Where("stake_signature = ?", stake.StakeSignature).First(&existing).Error
		if err == nil {
			saved = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load stake: %w", err)
		}
		var reused int64
		if err := tx.Model(&models.StakeAccount{}).
			Where("unstake_signature = ?", stake.StakeSignature).
			Count(&reused).Error; err != nil {
			return fmt.Errorf("check unstake signatures: %w", err)
		}
		if reused > 0 {
			return fmt.Errorf("%w: signature %s is a recorded unstake", ErrConflict, stake.StakeSignature)
		}

		if err := tx.Model(&models.StakeAccount{}).
			Where("nft_mint = ? AND active = ?", stake.NFTMint, true).
			Updates(map[string]any{"active": false, "unstaked_at": stake.StakedAt}).Error; err != nil {
			return fmt.Errorf("close previous stake: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stake_signature"}},
			DoNothing: true,
		}).Create(stake)
		if res.Error != nil {
			return fmt.Errorf("insert stake: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// lost a race with a concurrent confirmation of the same signature
			if err := tx.Where("stake_signature = ?", stake.StakeSignature).First(&existing).Error; err != nil {
				return fmt.Errorf("reload stake: %w", err)
			}
			saved = &existing
			return nil
		}
		saved = stake
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return saved, created, nil
}

func (s *GormStakeStore) MarkUnstaked(ctx context.Context, wallet, mint, signature string, at time.Time) (*models.StakeAccount, error) {
	var out models.StakeAccount
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("unstake_signature = ?", signature).First(&out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var reused int64
		if err := tx.Model(&models.StakeAccount{}).
			Where("stake_signature = ?", signature).
			Count(&reused).Error; err != nil {
			return err
		}
		if reused > 0 {
			return fmt.Errorf("%w: signature %s is a recorded stake", ErrConflict, signature)
		}

		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ? AND nft_mint = ? AND active = ?", wallet, mint, true).
			First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no active stake of %s for %s", ErrNotFound, mint, wallet)
		}
		if err != nil {
			return err
		}
		out.Active = false
		out.UnstakeSignature = &signature
		out.UnstakedAt = &at
		return tx.Model(&out).Select("active", "unstake_signature", "unstaked_at").Updates(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark unstaked: %w", err)
	}
	return &out, nil
}

func (s *GormStakeStore) ActiveStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error) {
	var stakes []models.StakeAccount
	if err := s.DB.WithContext(ctx).
		Where("wallet_address = ? AND active = ?", wallet, true).
		Order("staked_at ASC").
		Find(&stakes).Error; err != nil {
		return nil, fmt.Errorf("list active stakes: %w", err)
	}
	return stakes, nil
}

func (s *GormStakeStore) ListStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error) {
	var stakes []models.StakeAccount
	if err := s.DB.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("staked_at DESC").
		Find(&stakes).Error; err != nil {
		return nil, fmt.Errorf("list stakes: %w", err)
	}
	return stakes, nil
}

func (s *GormStakeStore) StakesActiveAt(ctx context.Context, t time.Time) ([]models.StakeAccount, error) {
	var stakes []models.StakeAccount
	if err := s.DB.WithContext(ctx).
		Where("staked_at <= ?", t).
		Where("(unstaked_at IS NULL AND active = ?) OR unstaked_at > ?", true, t).
		Order("staked_at ASC").
		Find(&stakes).Error; err != nil {
		return nil, fmt.Errorf("list stakes for accrual: %w", err)
	}
	return stakes, nil
}

// UpsertMirror applies indexer rows in one statement.
func (s *GormStakeStore) UpsertMirror(ctx context.Context, stakes []models.StakeAccount) (int, error) {
	if len(stakes) == 0 {
		return 0, nil
	}
	res := s.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "stake_signature"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"active",
				"unstake_signature",
				"unstaked_at",
				"unlock_at",
				"updated_at",
			}),
		},
	).Create(&stakes)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert stake mirror: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// MemoryStakeStore is an in-process StakeStore.
type MemoryStakeStore struct {
	mu     sync.Mutex
	stakes map[string]*models.StakeAccount // by signature
}

func NewMemoryStakeStore() *MemoryStakeStore {
	return &MemoryStakeStore{stakes: make(map[string]*models.StakeAccount)}
}

var _ StakeStore = (*MemoryStakeStore)(nil)

func (s *MemoryStakeStore) SaveStake(ctx context.Context, stake *models.StakeAccount) (*models.StakeAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stakes[stake.StakeSignature]; ok {
		out := *existing
		return &out, false, nil
	}
	for _, other := range s.stakes {
		if other.UnstakeSignature != nil && *other.UnstakeSignature == stake.StakeSignature {
			return nil, false, fmt.Errorf("%w: signature %s is a recorded unstake", ErrConflict, stake.StakeSignature)
		}
	}
	for _, other := range s.stakes {
		if other.NFTMint == stake.NFTMint && other.Active {
			other.Active = false
			at := stake.StakedAt
			other.UnstakedAt = &at
		}
	}
	stored := *stake
	s.stakes[stake.StakeSignature] = &stored
	out := stored
	return &out, true, nil
}

func (s *MemoryStakeStore) MarkUnstaked(ctx context.Context, wallet, mint, signature string, at time.Time) (*models.StakeAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stakes {
		if st.UnstakeSignature != nil && *st.UnstakeSignature == signature {
			out := *st
			return &out, nil
		}
	}
	if _, ok := s.stakes[signature]; ok {
		return nil, fmt.Errorf("mark unstaked: %w: signature %s is a recorded stake", ErrConflict, signature)
	}
	for _, st := range s.stakes {
		if st.WalletAddress == wallet && st.NFTMint == mint && st.Active {
			st.Active = false
			st.UnstakeSignature = &signature
			st.UnstakedAt = &at
			out := *st
			return &out, nil
		}
	}
	return nil, fmt.Errorf("mark unstaked: %w: no active stake of %s for %s", ErrNotFound, mint, wallet)
}

func (s *MemoryStakeStore) filter(keep func(*models.StakeAccount) bool) []models.StakeAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StakeAccount
	for _, st := range s.stakes {
		if keep(st) {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StakedAt.Before(out[j].StakedAt) })
	return out
}

func (s *MemoryStakeStore) ActiveStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error) {
	return s.filter(func(st *models.StakeAccount) bool { return st.WalletAddress == wallet && st.Active }), nil
}

func (s *MemoryStakeStore) ListStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error) {
	out := s.filter(func(st *models.StakeAccount) bool { return st.WalletAddress == wallet })
	sort.Slice(out, func(i, j int) bool { return out[i].StakedAt.After(out[j].StakedAt) })
	return out, nil
}

func (s *MemoryStakeStore) StakesActiveAt(ctx context.Context, t time.Time) ([]models.StakeAccount, error) {
	return s.filter(func(st *models.StakeAccount) bool {
		if st.StakedAt.After(t) {
			return false
		}
		if st.UnstakedAt == nil {
			return st.Active
		}
		return st.UnstakedAt.After(t)
	}), nil
}

func (s *MemoryStakeStore) UpsertMirror(ctx context.Context, stakes []models.StakeAccount) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stakes {
		if existing, ok := s.stakes[st.StakeSignature]; ok {
			existing.Active = st.Active
			existing.UnstakeSignature = st.UnstakeSignature
			existing.UnstakedAt = st.UnstakedAt
			existing.UnlockAt = st.UnlockAt
			continue
		}
		stored := st
		s.stakes[st.StakeSignature] = &stored
	}
	return len(stakes), nil
}
