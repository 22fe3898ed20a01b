// services/accrual.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
)

const dayLayout = "2006-01-02"

// AccrualService credits the daily staking reward of every active stake.
// The reference id <stakeID>:<day> makes a rerun of the same day a no-op.
type AccrualService struct {
	stakes    StakeStore
	ledger    RewardLedger
	dailyBase int64
	metrics   *metrics.Metrics
}

func NewAccrualService(stakes StakeStore, ledger RewardLedger, dailyBase int64, m *metrics.Metrics) *AccrualService {
	return &AccrualService{stakes: stakes, ledger: ledger, dailyBase: dailyBase, metrics: m}
}

type AccrualReport struct {
	Day       string `json:"day"`
	Stakes    int    `json:"stakes"`
	Credited  int    `json:"credited"`
	Duplicate int    `json:"duplicate"`
	Failed    int    `json:"failed"`
}

// AccrueDay credits the UTC day containing day to every stake that was
// open at its start. Backfills see stakes that have since been unstaked.
func (s *AccrualService) AccrueDay(ctx context.Context, day time.Time) (AccrualReport, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	report := AccrualReport{Day: start.Format(dayLayout)}

	stakes, err := s.stakes.StakesActiveAt(ctx, start)
	if err != nil {
		return report, err
	}
	report.Stakes = len(stakes)

	var errs []error
	for _, st := range stakes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		amount, err := dailyAmount(s.dailyBase, st.Multiplier)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("stake %s: %w", st.ID, err))
			continue
		}
		ref := st.ID + ":" + report.Day
		_, err = s.ledger.Credit(ctx, st.WalletAddress, amount, models.RewardTypeStakingAccrual, ref)
		switch {
		case err == nil:
			report.Credited++
			s.metrics.RewardCredited(string(models.RewardTypeStakingAccrual))
		case errors.Is(err, ErrConflict):
			report.Duplicate++
			s.metrics.RewardDuplicate(string(models.RewardTypeStakingAccrual))
		default:
			report.Failed++
			errs = append(errs, fmt.Errorf("stake %s: %w", st.ID, err))
		}
	}

	logging.InfoContext(ctx, "staking accrual finished",
		"day", report.Day,
		"stakes", report.Stakes,
		"credited", report.Credited,
		"duplicate", report.Duplicate,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

// dailyAmount is floor(base x multiplier).
func dailyAmount(base int64, multiplier string) (int64, error) {
	m, ok := new(big.Rat).SetString(multiplier)
	if !ok || m.Sign() < 0 {
		return 0, fmt.Errorf("invalid stored multiplier %q", multiplier)
	}
	product := new(big.Rat).Mul(new(big.Rat).SetInt64(base), m)
	amount := new(big.Int).Quo(product.Num(), product.Denom())
	if !amount.IsInt64() {
		return 0, fmt.Errorf("daily amount for multiplier %s overflows", multiplier)
	}
	return amount.Int64(), nil
}
