// services/governance_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"staking-reward-ledger/models"
)

// GovernanceStore persists proposals and votes. RecordVote inserts the
// vote and adds its power to the tally in one atomic unit.
type GovernanceStore interface {
	CreateProposal(ctx context.Context, p *models.GovernanceProposal) error
	GetProposal(ctx context.Context, id string) (*models.GovernanceProposal, error)
	ListProposals(ctx context.Context, limit int) ([]models.GovernanceProposal, error)
	GetVote(ctx context.Context, proposalID, wallet string) (*models.Vote, error)
	RecordVote(ctx context.Context, vote *models.Vote) (*models.GovernanceProposal, error)
}

type GormGovernanceStore struct {
	DB *gorm.DB
}

func NewGormGovernanceStore(db *gorm.DB) *GormGovernanceStore {
	return &GormGovernanceStore{DB: db}
}

var _ GovernanceStore = (*GormGovernanceStore)(nil)

func (s *GormGovernanceStore) CreateProposal(ctx context.Context, p *models.GovernanceProposal) error {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slug"}}, DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return fmt.Errorf("create proposal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: proposal slug %q", ErrConflict, p.Slug)
	}
	return nil
}

func (s *GormGovernanceStore) GetProposal(ctx context.Context, id string) (*models.GovernanceProposal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	var p models.GovernanceProposal
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	return &p, nil
}

func (s *GormGovernanceStore) ListProposals(ctx context.Context, limit int) ([]models.GovernanceProposal, error) {
	var proposals []models.GovernanceProposal
	q := s.DB.WithContext(ctx).Order("voting_starts_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&proposals).Error; err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

func (s *GormGovernanceStore) GetVote(ctx context.Context, proposalID, wallet string) (*models.Vote, error) {
	var v models.Vote
	err := s.DB.WithContext(ctx).
		Where("proposal_id = ? AND wallet_address = ?", proposalID, wallet).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: vote", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load vote: %w", err)
	}
	return &v, nil
}

// RecordVote locks the proposal row, re-checks the window against the
// vote's timestamp and relies on the (proposal, wallet) unique index to
// reject a second vote.
func (s *GormGovernanceStore) RecordVote(ctx context.Context, vote *models.Vote) (*models.GovernanceProposal, error) {
	var proposal models.GovernanceProposal
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", vote.ProposalID).
			First(&proposal).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: proposal %s", ErrNotFound, vote.ProposalID)
			}
			return err
		}
		if !proposal.IsOpen(vote.CreatedAt) {
			return ErrWindowClosed
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "wallet_address"}},
			DoNothing: true,
		}).Create(vote)
		if res.Error != nil {
			return fmt.Errorf("insert vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyVoted
		}

		column := vote.Choice.TallyColumn()
		if err := tx.Model(&models.GovernanceProposal{}).
			Where("id = ?", proposal.ID).
			Updates(map[string]any{
				column:       gorm.Expr(column+" + ?", vote.Power),
				"vote_count": gorm.Expr("vote_count + 1"),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("update tally: %w", err)
		}
		proposal.AddPower(vote.Choice, vote.Power)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

// MemoryGovernanceStore is an in-process GovernanceStore.
type MemoryGovernanceStore struct {
	mu        sync.Mutex
	proposals map[string]*models.GovernanceProposal
	votes     map[string]*models.Vote // proposalID + "/" + wallet
}

func NewMemoryGovernanceStore() *MemoryGovernanceStore {
	return &MemoryGovernanceStore{
		proposals: make(map[string]*models.GovernanceProposal),
		votes:     make(map[string]*models.Vote),
	}
}

var _ GovernanceStore = (*MemoryGovernanceStore)(nil)

func (s *MemoryGovernanceStore) CreateProposal(ctx context.Context, p *models.GovernanceProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.proposals {
		if existing.Slug == p.Slug {
			return fmt.Errorf("%w: proposal slug %q", ErrConflict, p.Slug)
		}
	}
	stored := *p
	s.proposals[p.ID] = &stored
	return nil
}

func (s *MemoryGovernanceStore) GetProposal(ctx context.Context, id string) (*models.GovernanceProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	out := *p
	return &out, nil
}

func (s *MemoryGovernanceStore) ListProposals(ctx context.Context, limit int) ([]models.GovernanceProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GovernanceProposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotingStartsAt.After(out[j].VotingStartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryGovernanceStore) GetVote(ctx context.Context, proposalID, wallet string) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[proposalID+"/"+wallet]
	if !ok {
		return nil, fmt.Errorf("%w: vote", ErrNotFound)
	}
	out := *v
	return &out, nil
}

func (s *MemoryGovernanceStore) RecordVote(ctx context.Context, vote *models.Vote) (*models.GovernanceProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[vote.ProposalID]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, vote.ProposalID)
	}
	if !p.IsOpen(vote.CreatedAt) {
		return nil, ErrWindowClosed
	}
	key := vote.ProposalID + "/" + vote.WalletAddress
	if _, dup := s.votes[key]; dup {
		return nil, ErrAlreadyVoted
	}
	stored := *vote
	s.votes[key] = &stored
	p.AddPower(vote.Choice, vote.Power)
	out := *p
	return &out, nil
}
