// services/claims.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/locks"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
)

// PayoutRequester submits a claim's transfer to the treasury signer.
type PayoutRequester interface {
	RequestPayout(ctx context.Context, req chain.PayoutRequest) (*chain.PayoutResponse, error)
}

var _ PayoutRequester = (*chain.PayoutClient)(nil)

type ClaimOptions struct {
	PayoutTimeout  time.Duration
	ReconcileGrace time.Duration
	PollInterval   time.Duration
	// MaxPendingAge expires a payout the chain has never seen when the
	// treasury did not report its last valid block height.
	MaxPendingAge time.Duration
	BatchSize     int
	Workers       int
}

func DefaultClaimOptions() ClaimOptions {
	return ClaimOptions{
		PayoutTimeout:  45 * time.Second,
		ReconcileGrace: 2 * time.Minute,
		PollInterval:   2 * time.Second,
		MaxPendingAge:  24 * time.Hour,
		BatchSize:      100,
		Workers:        4,
	}
}

// ClaimService aggregates a wallet's rewards into a claim and drives the
// claim to a terminal state. A claim only settles on a confirmed payout
// and only fails on a definitive rejection; anything ambiguous stays
// pending for Reconcile.
type ClaimService struct {
	ledger  RewardLedger
	locker  locks.Locker
	payouts PayoutRequester // nil disables payouts
	chain   ChainReader
	metrics *metrics.Metrics
	opts    ClaimOptions
	now     func() time.Time
}

func NewClaimService(ledger RewardLedger, locker locks.Locker, payouts PayoutRequester, reader ChainReader, m *metrics.Metrics, opts ClaimOptions) *ClaimService {
	def := DefaultClaimOptions()
	if opts.PayoutTimeout <= 0 {
		opts.PayoutTimeout = def.PayoutTimeout
	}
	if opts.ReconcileGrace <= 0 {
		opts.ReconcileGrace = def.ReconcileGrace
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxPendingAge <= 0 {
		opts.MaxPendingAge = def.MaxPendingAge
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &ClaimService{
		ledger:  ledger,
		locker:  locker,
		payouts: payouts,
		chain:   reader,
		metrics: m,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestClaim creates the wallet's claim and attempts the payout. The
// wallet lock covers claim creation only; the payout runs unlocked.
func (s *ClaimService) RequestClaim(ctx context.Context, wallet string) (*models.ClaimRequest, error) {
	if _, err := validateWallet(wallet); err != nil {
		return nil, err
	}
	claim, err := s.createClaim(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.metrics.ClaimTransition(string(models.ClaimStatusPending))
	logging.InfoContext(ctx, "claim created",
		logging.Wallet(wallet),
		logging.ClaimID(claim.ID),
		"amount", claim.Amount,
	)
	if s.payouts == nil {
		return claim, nil
	}

	if _, err := s.process(ctx, claim); err != nil {
		logging.ErrorContext(ctx, "claim payout bookkeeping failed", logging.ClaimID(claim.ID), logging.Err(err))
	}
	latest, err := s.ledger.GetClaim(context.WithoutCancel(ctx), claim.ID)
	if err != nil {
		logging.WarnContext(ctx, "reload claim after payout failed, returning created state",
			logging.ClaimID(claim.ID),
			logging.Err(err),
		)
		return claim, nil
	}
	return latest, nil
}

func (s *ClaimService) createClaim(ctx context.Context, wallet string) (*models.ClaimRequest, error) {
	unlock, err := s.locker.Lock(ctx, "claim:"+wallet)
	if err != nil {
		return nil, fmt.Errorf("lock wallet for claim: %w", err)
	}
	defer unlock()
	return s.ledger.CreateClaim(ctx, wallet)
}

func (s *ClaimService) GetClaim(ctx context.Context, id string) (*models.ClaimRequest, error) {
	return s.ledger.GetClaim(ctx, id)
}

// process requests (or re-requests) the payout and waits for it within
// PayoutTimeout. Ledger writes use a context detached from the caller's
// cancellation so a settled payout is never left unrecorded.
func (s *ClaimService) process(ctx context.Context, claim *models.ClaimRequest) (models.ClaimStatus, error) {
	pctx, cancel := context.WithTimeout(ctx, s.opts.PayoutTimeout)
	defer cancel()
	store := context.WithoutCancel(ctx)

	var sig string
	if claim.PayoutSignature != nil {
		sig = *claim.PayoutSignature
	} else {
		payout, err := s.payouts.RequestPayout(pctx, chain.PayoutRequest{
			ClaimID: claim.ID,
			Wallet:  claim.WalletAddress,
			Amount:  claim.Amount,
		})
		if err != nil {
			return s.resolveFailure(store, claim, err)
		}
		sig = payout.Signature
		if err := s.ledger.AttachPayoutSignature(store, claim.ID, sig, payout.LastValidBlockHeight); err != nil {
			return models.ClaimStatusPending, err
		}
		claim.PayoutSignature = &sig
		if payout.LastValidBlockHeight > 0 {
			claim.PayoutLastValidBlockHeight = &payout.LastValidBlockHeight
		}
	}

	if err := s.awaitConfirmation(pctx, sig); err != nil {
		if chain.Classify(err).Kind == chain.KindNotConfirmed {
			if expired := s.payoutExpired(ctx, claim, sig); expired != nil {
				err = expired
			}
		}
		return s.resolveFailure(store, claim, err)
	}
	if err := s.ledger.SettleClaim(store, claim.ID, sig); err != nil {
		return models.ClaimStatusPending, err
	}
	s.metrics.ClaimTransition(string(models.ClaimStatusSettled))
	logging.InfoContext(ctx, "claim settled", logging.ClaimID(claim.ID), logging.Signature(sig))
	return models.ClaimStatusSettled, nil
}

// awaitConfirmation polls the signature until it confirms, fails on chain
// or ctx expires.
func (s *ClaimService) awaitConfirmation(ctx context.Context, sig string) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		status, err := s.chain.GetSignatureStatus(ctx, sig)
		switch {
		case err != nil && !chain.IsRetryable(err):
			return err
		case err == nil && status != nil:
			if failure := status.Failure(); failure != nil {
				return failure
			}
			if status.Confirmed() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return chain.NewError(chain.KindNotConfirmed, ctx.Err())
		case <-ticker.C:
		}
	}
}

// payoutExpired returns a BlockhashExpired error when sig is unknown to the
// chain and can no longer land: the block height has passed the payout's
// last valid height, or, with no recorded height, the claim is older than
// MaxPendingAge. It returns nil while the payout may still land.
func (s *ClaimService) payoutExpired(ctx context.Context, claim *models.ClaimRequest, sig string) error {
	if deadline := claim.PayoutLastValidBlockHeight; deadline != nil {
		height, err := s.chain.GetBlockHeight(ctx)
		if err != nil {
			logging.WarnContext(ctx, "block height unavailable, payout expiry unknown", logging.ClaimID(claim.ID), logging.Err(err))
			return nil
		}
		if height <= *deadline {
			return nil
		}
	} else if s.now().Sub(claim.CreatedAt) < s.opts.MaxPendingAge {
		return nil
	}

	// the deadline is checked before the status so a landing at the edge is seen
	status, err := s.chain.GetSignatureStatus(ctx, sig)
	switch {
	case err == nil && status != nil:
		return nil
	case err != nil && !errors.Is(err, chain.ErrTransactionNotFound):
		return nil
	}
	return chain.NewError(chain.KindBlockhashExpired, fmt.Errorf("payout %s never landed before its blockhash expired", sig))
}

// resolveFailure fails the claim when err is a definitive rejection and
// leaves it pending otherwise.
func (s *ClaimService) resolveFailure(ctx context.Context, claim *models.ClaimRequest, err error) (models.ClaimStatus, error) {
	c := chain.Classify(err)
	s.metrics.ChainError(c.Outcome.String(), string(c.Kind))
	if !definitive(c) {
		logging.WarnContext(ctx, "claim payout unresolved, leaving pending",
			logging.ClaimID(claim.ID),
			"kind", c.Kind,
			logging.Err(err),
		)
		return models.ClaimStatusPending, nil
	}
	if ferr := s.ledger.FailClaim(ctx, claim.ID, c.Message); ferr != nil {
		return models.ClaimStatusPending, ferr
	}
	s.metrics.ClaimTransition(string(models.ClaimStatusFailed))
	logging.WarnContext(ctx, "claim failed, rewards released",
		logging.ClaimID(claim.ID),
		logging.Wallet(claim.WalletAddress),
		"kind", c.Kind,
		logging.Err(err),
	)
	return models.ClaimStatusFailed, nil
}

// definitive reports whether c proves the payout did not and will not
// happen. Unknown errors are not proof.
func definitive(c chain.Classification) bool {
	switch c.Outcome {
	case chain.Fatal:
		return true
	case chain.UserFixable:
		return c.Kind != chain.KindUnknown
	}
	return false
}

// ReconcileReport counts what one sweep did.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Errors  int `json:"errors"`
}

// Reconcile re-drives pending claims older than the grace period. The
// treasury is idempotent on claim id, so re-requesting is safe.
func (s *ClaimService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if s.payouts == nil {
		return report, nil
	}
	claims, err := s.ledger.ListPendingClaims(ctx, s.now().Add(-s.opts.ReconcileGrace), s.opts.BatchSize)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range claims {
		claim := claims[i]
		g.Go(func() error {
			status, err := s.process(gctx, &claim)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				report.Errors++
				logging.ErrorContext(gctx, "reconcile claim", logging.ClaimID(claim.ID), logging.Err(err))
				return nil
			}
			switch status {
			case models.ClaimStatusSettled:
				report.Settled++
			case models.ClaimStatusFailed:
				report.Failed++
			default:
				report.Pending++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if report.Errors > 0 {
		return report, fmt.Errorf("reconcile: %d of %d claims hit store errors", report.Errors, report.Checked)
	}
	return report, nil
}
