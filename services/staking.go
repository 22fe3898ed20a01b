// services/staking.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
)

// ChainReader is the read side of the Solana RPC boundary.
type ChainReader interface {
	GetTransaction(ctx context.Context, signature string) (*chain.Transaction, error)
	GetSignatureStatus(ctx context.Context, signature string) (*chain.SignatureStatus, error)
	GetAccountInfo(ctx context.Context, address chain.PublicKey) (*chain.AccountInfo, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

var _ ChainReader = (*chain.RPCClient)(nil)

const (
	stakeRecordAccount = "StakeRecord"
	stakeInstruction   = "stake"
	unstakeInstruction = "unstake"
)

// stakeArgPeriods decodes the stake instruction's lock period argument, a
// one byte enum directly after the discriminator.
var stakeArgPeriods = []models.LockPeriod{
	models.LockPeriodShort,
	models.LockPeriodMedium,
	models.LockPeriodLong,
}

// StakingService prepares stake transactions and mirrors confirmed ones.
type StakingService struct {
	tiers     *TierEngine
	attrs     AttributeSource
	deriver   *chain.Deriver
	chain     ChainReader
	idl       *chain.IDL
	stakes    StakeStore
	referrals *ReferralService
	metrics   *metrics.Metrics
	now       func() time.Time
}

type StakingDeps struct {
	Tiers      *TierEngine
	Attributes AttributeSource
	Deriver    *chain.Deriver
	Chain      ChainReader
	IDL        *chain.IDL // optional
	Stakes     StakeStore
	Referrals  *ReferralService // optional
	Metrics    *metrics.Metrics
}

func NewStakingService(d StakingDeps) *StakingService {
	return &StakingService{
		tiers:     d.Tiers,
		attrs:     d.Attributes,
		deriver:   d.Deriver,
		chain:     d.Chain,
		idl:       d.IDL,
		stakes:    d.Stakes,
		referrals: d.Referrals,
		metrics:   d.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StakeQuote is everything the wallet needs to build a stake transaction.
type StakeQuote struct {
	Wallet     string                 `json:"wallet"`
	Mint       string                 `json:"mint"`
	Tier       string                 `json:"tier"`
	LockPeriod models.LockPeriod      `json:"lock_period"`
	Multiplier string                 `json:"multiplier"`
	LockDays   int64                  `json:"lock_days"`
	Program    string                 `json:"program"`
	Accounts   chain.ProtocolAccounts `json:"accounts"`
}

func (s *StakingService) Prepare(ctx context.Context, wallet, mint string, period models.LockPeriod) (*StakeQuote, error) {
	walletKey, err := validateWallet(wallet)
	if err != nil {
		return nil, err
	}
	mintKey, err := chain.ParsePublicKey(mint)
	if err != nil {
		return nil, invalid("mint: %v", err)
	}
	if !period.Valid() {
		return nil, invalid("lock_period must be short, medium or long")
	}

	attrs, err := s.attrs.Attributes(ctx, mint)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.Classify(attrs)
	if err != nil {
		return nil, err
	}
	multiplier, err := s.tiers.ComputeMultiplier(tier.Name, period)
	if err != nil {
		return nil, err
	}
	lock, err := s.tiers.LockDuration(period)
	if err != nil {
		return nil, err
	}
	accounts, err := s.deriver.StakeAccounts(walletKey, mintKey)
	if err != nil {
		return nil, err
	}
	return &StakeQuote{
		Wallet:     wallet,
		Mint:       mint,
		Tier:       tier.Name,
		LockPeriod: period,
		Multiplier: multiplier.RatString(),
		LockDays:   int64(lock / (24 * time.Hour)),
		Program:    s.deriver.Program().String(),
		Accounts:   accounts,
	}, nil
}

type StakeConfirmation struct {
	Wallet string `json:"wallet"`
	Mint   string `json:"mint"`
	// LockPeriod is optional. The period is read from the stake
	// instruction and a different value here is rejected.
	LockPeriod models.LockPeriod `json:"lock_period,omitempty"`
	Signature  string            `json:"signature"`
}

// ConfirmStake checks a landed stake transaction against the derived
// accounts and mirrors it. Classification runs again here, so a re-stake
// of the same NFT is priced by the current tables.
func (s *StakingService) ConfirmStake(ctx context.Context, in StakeConfirmation) (*models.StakeAccount, error) {
	if _, err := validateWallet(in.Wallet); err != nil {
		return nil, err
	}
	if _, err := chain.ParsePublicKey(in.Mint); err != nil {
		return nil, invalid("mint: %v", err)
	}
	if err := chain.ValidateSignature(in.Signature); err != nil {
		return nil, invalid("signature: %v", err)
	}

	tx, err := s.landedTransaction(ctx, in.Signature)
	if err != nil {
		return nil, err
	}
	ix, err := s.programInstruction(tx, in.Signature, stakeInstruction)
	if err != nil {
		return nil, err
	}
	period, err := stakePeriod(ix)
	if err != nil {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("transaction %s: %w", in.Signature, err)))
	}
	if in.LockPeriod != "" && in.LockPeriod != period {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("transaction %s stakes for the %s period, not %s", in.Signature, period, in.LockPeriod)))
	}

	quote, err := s.Prepare(ctx, in.Wallet, in.Mint, period)
	if err != nil {
		return nil, err
	}
	walletKey := chain.MustPublicKey(in.Wallet)
	required := []struct {
		name string
		key  chain.PublicKey
	}{
		{"wallet", walletKey},
		{"pool", quote.Accounts.Pool.Address},
		{"escrow", quote.Accounts.Escrow.Address},
		{"stake record", quote.Accounts.StakeRecord.Address},
	}
	for _, r := range required {
		if !ix.References(r.key) {
			return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
				fmt.Errorf("stake instruction in %s does not pass the %s account %s", in.Signature, r.name, r.key)))
		}
	}

	if s.idl != nil {
		info, err := s.chain.GetAccountInfo(ctx, quote.Accounts.StakeRecord.Address)
		if err != nil {
			return nil, s.chainError(err)
		}
		if err := s.idl.VerifyAccount(stakeRecordAccount, info, s.deriver.Program()); err != nil {
			return nil, s.chainError(err)
		}
	}

	stakedAt := s.blockTime(tx)
	unlockAt, err := s.tiers.UnlockAt(stakedAt, period)
	if err != nil {
		return nil, err
	}
	stake := &models.StakeAccount{
		ID:                 uuid.NewString(),
		WalletAddress:      in.Wallet,
		NFTMint:            in.Mint,
		Tier:               quote.Tier,
		LockPeriod:         period,
		Multiplier:         quote.Multiplier,
		EscrowAddress:      quote.Accounts.Escrow.Address.String(),
		StakeRecordAddress: quote.Accounts.StakeRecord.Address.String(),
		StakeSignature:     in.Signature,
		StakedAt:           stakedAt,
		UnlockAt:           unlockAt,
		Active:             true,
	}
	saved, created, err := s.stakes.SaveStake(ctx, stake)
	if err != nil {
		return nil, err
	}
	if saved.WalletAddress != in.Wallet || saved.NFTMint != in.Mint {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("signature %s already recorded for another stake", in.Signature)))
	}
	if !created {
		return saved, nil
	}

	logging.InfoContext(ctx, "stake confirmed",
		logging.Wallet(in.Wallet),
		logging.Signature(in.Signature),
		"mint", in.Mint,
		"tier", saved.Tier,
		"period", saved.LockPeriod,
		"multiplier", saved.Multiplier,
	)
	if s.referrals != nil {
		if err := s.referrals.AwardOnStake(ctx, in.Wallet); err != nil {
			logging.WarnContext(ctx, "referral award failed", logging.Wallet(in.Wallet), logging.Err(err))
		}
	}
	return saved, nil
}

type UnstakeConfirmation struct {
	Wallet    string `json:"wallet"`
	Mint      string `json:"mint"`
	Signature string `json:"signature"`
}

// ConfirmUnstake marks the mirror inactive once the unstake has landed.
func (s *StakingService) ConfirmUnstake(ctx context.Context, in UnstakeConfirmation) (*models.StakeAccount, error) {
	walletKey, err := validateWallet(in.Wallet)
	if err != nil {
		return nil, err
	}
	mintKey, err := chain.ParsePublicKey(in.Mint)
	if err != nil {
		return nil, invalid("mint: %v", err)
	}
	if err := chain.ValidateSignature(in.Signature); err != nil {
		return nil, invalid("signature: %v", err)
	}

	tx, err := s.landedTransaction(ctx, in.Signature)
	if err != nil {
		return nil, err
	}
	ix, err := s.programInstruction(tx, in.Signature, unstakeInstruction)
	if err != nil {
		return nil, err
	}
	accounts, err := s.deriver.StakeAccounts(walletKey, mintKey)
	if err != nil {
		return nil, err
	}
	if !ix.References(walletKey) || !ix.References(accounts.Escrow.Address) || !ix.References(accounts.StakeRecord.Address) {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("transaction %s is not an unstake of %s by %s", in.Signature, in.Mint, in.Wallet)))
	}

	stake, err := s.stakes.MarkUnstaked(ctx, in.Wallet, in.Mint, in.Signature, s.blockTime(tx))
	if err != nil {
		return nil, err
	}
	logging.InfoContext(ctx, "unstake confirmed",
		logging.Wallet(in.Wallet),
		logging.Signature(in.Signature),
		"mint", in.Mint,
	)
	return stake, nil
}

func (s *StakingService) ListStakes(ctx context.Context, wallet string) ([]models.StakeAccount, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}
	return s.stakes.ListStakes(ctx, wallet)
}

// landedTransaction fetches signature and fails with its classified
// on-chain error if it did not succeed.
func (s *StakingService) landedTransaction(ctx context.Context, signature string) (*chain.Transaction, error) {
	tx, err := s.chain.GetTransaction(ctx, signature)
	if err != nil {
		return nil, s.chainError(err)
	}
	if err := tx.Err(); err != nil {
		return nil, s.chainError(err)
	}
	return tx, nil
}

// programInstruction finds the named staking program instruction in tx.
// A transaction that merely touches the right accounts is not enough.
func (s *StakingService) programInstruction(tx *chain.Transaction, signature, name string) (*chain.Instruction, error) {
	ix, err := tx.FindInstruction(s.deriver.Program(), s.idl.Discriminator(name))
	if err != nil {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("decode transaction %s: %w", signature, err)))
	}
	if ix == nil {
		return nil, s.chainError(chain.NewError(chain.KindAccountMismatch,
			fmt.Errorf("transaction %s has no %s instruction for program %s", signature, name, s.deriver.Program())))
	}
	return ix, nil
}

func stakePeriod(ix *chain.Instruction) (models.LockPeriod, error) {
	if len(ix.Data) < 9 {
		return "", errors.New("stake instruction carries no lock period")
	}
	arg := int(ix.Data[8])
	if arg >= len(stakeArgPeriods) {
		return "", fmt.Errorf("unknown lock period variant %d", arg)
	}
	return stakeArgPeriods[arg], nil
}

func (s *StakingService) blockTime(tx *chain.Transaction) time.Time {
	if tx.BlockTime != nil {
		return time.Unix(*tx.BlockTime, 0).UTC()
	}
	return s.now()
}

// chainError classifies err and counts it. Errors that are not chain
// failures pass through untouched.
func (s *StakingService) chainError(err error) error {
	if errors.Is(err, chain.ErrInvalidIDL) {
		return err
	}
	wrapped := chain.Wrap(err)
	var ce *chain.Error
	if errors.As(wrapped, &ce) {
		s.metrics.ChainError(ce.Outcome.String(), string(ce.Kind))
	}
	return wrapped
}
